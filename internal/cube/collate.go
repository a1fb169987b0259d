package cube

import (
	"sort"
	"strings"
)

// NaturalLess orders strings so embedded numbers compare by value:
// "Room 2" sorts before "Room 10". Letters compare case-insensitively,
// with the exact bytes as a final tie-break.
func NaturalLess(a, b string) bool {
	if c := naturalCompare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c < 0
	}
	return a < b
}

func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, restA := splitDigits(a)
			nb, restB := splitDigits(b)
			if c := compareNumbers(na, nb); c != 0 {
				return c
			}
			a, b = restA, restB
			continue
		}
		if a[0] != b[0] {
			if a[0] < b[0] {
				return -1
			}
			return 1
		}
		a, b = a[1:], b[1:]
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// compareNumbers compares two digit runs of any length by value; with equal
// values the run with fewer leading zeros sorts first.
func compareNumbers(a, b string) int {
	ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// sortByLocation orders cubes by location, then by id.
func sortByLocation(cubes []Cube) {
	sort.SliceStable(cubes, func(i, j int) bool {
		if cubes[i].Location != cubes[j].Location {
			return NaturalLess(cubes[i].Location, cubes[j].Location)
		}
		return cubes[i].ID < cubes[j].ID
	})
}
