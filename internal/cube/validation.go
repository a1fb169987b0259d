package cube

import (
	"strings"

	"github.com/google/uuid"
)

// canonicalIDLength is the length of the hyphenated UUID form.
const canonicalIDLength = 36

// IsValidID reports whether id is a UUID in canonical hyphenated form.
func IsValidID(id string) bool {
	if len(id) != canonicalIDLength {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// GenerateID returns a new random cube identifier.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateNewCube checks the input to AddCube.
func ValidateNewCube(id, ip, location string, sensors []SensorAssignment, actuators []string) error {
	if !IsValidID(id) {
		return Invalid("id", "must be a UUID")
	}
	if strings.TrimSpace(ip) == "" {
		return Invalid("ip", "must not be blank")
	}
	if strings.TrimSpace(location) == "" {
		return Invalid("location", "must not be blank")
	}
	if len(sensors) == 0 {
		return Invalid("sensors", "at least one sensor is required")
	}
	if len(actuators) == 0 {
		return Invalid("actuators", "at least one actuator is required")
	}
	if err := validateSensors(sensors, false); err != nil {
		return err
	}
	for _, a := range actuators {
		if strings.TrimSpace(a) == "" {
			return Invalid("actuators", "actuator type must not be blank")
		}
	}
	return nil
}

// validateSensors checks types and intervals. With skipBlank set, entries
// with a blank type are ignored instead of rejected.
func validateSensors(sensors []SensorAssignment, skipBlank bool) error {
	for _, s := range sensors {
		if strings.TrimSpace(s.Type) == "" {
			if skipBlank {
				continue
			}
			return Invalid("sensors", "sensor type must not be blank")
		}
		if s.ScanInterval <= 0 {
			return Invalid("sensors", "scan interval for "+s.Type+" must be positive")
		}
	}
	return nil
}

// trimPadding strips fill characters left by fixed-width columns.
func trimPadding(s string) string {
	return strings.TrimRight(s, " \x00")
}
