package telemetry

import (
	"strings"
	"time"

	"github.com/CovCube/server/internal/cube"
)

// ParseFilter builds a Filter from query-string values. Timestamps are
// RFC 3339; empty values leave that filter unset.
func ParseFilter(sensorType, cubeID, start, end string) (Filter, error) {
	f := Filter{
		SensorType: strings.TrimSpace(sensorType),
		CubeID:     strings.TrimSpace(cubeID),
	}

	var err error
	if f.Start, err = parseBound("start", start); err != nil {
		return Filter{}, err
	}
	if f.End, err = parseBound("end", end); err != nil {
		return Filter{}, err
	}

	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parseBound(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, cube.Invalid(field, "must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// Validate rejects a malformed cube id and an inverted time range.
func (f Filter) Validate() error {
	if f.CubeID != "" && !cube.IsValidID(f.CubeID) {
		return cube.Invalid("cubeId", "must be a UUID")
	}
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return cube.Invalid("start", "must not be after end")
	}
	return nil
}
