package cube

import (
	"strconv"
	"strings"
)

// Plan is the set of changes that moves a cube to a target state.
type Plan struct {
	AddSensors      []SensorAssignment `json:"addSensors,omitempty"`
	UpdateSensors   []SensorAssignment `json:"updateSensors,omitempty"`
	RemoveSensors   []string           `json:"removeSensors,omitempty"`
	AddActuators    []string           `json:"addActuators,omitempty"`
	RemoveActuators []string           `json:"removeActuators,omitempty"`
}

// Empty reports whether applying the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.AddSensors) == 0 && len(p.UpdateSensors) == 0 && len(p.RemoveSensors) == 0 &&
		len(p.AddActuators) == 0 && len(p.RemoveActuators) == 0
}

// Diff computes the plan that turns the current assignments into target.
//
// Sensors present only in target are added, sensors present in both with a
// different interval are updated, and sensors present only in current are
// removed. Actuators are compared by membership. Blank type names in target
// are skipped; for a repeated type the first entry wins.
func Diff(current *Cube, target Variables) Plan {
	var plan Plan

	currentSensors := make(map[string]int, len(current.Sensors))
	for _, s := range current.Sensors {
		currentSensors[s.Type] = s.ScanInterval
	}

	wanted := make(map[string]struct{}, len(target.Sensors))
	for _, s := range target.Sensors {
		name := strings.TrimSpace(s.Type)
		if name == "" {
			continue
		}
		if _, dup := wanted[name]; dup {
			continue
		}
		wanted[name] = struct{}{}

		interval, ok := currentSensors[name]
		switch {
		case !ok:
			plan.AddSensors = append(plan.AddSensors, SensorAssignment{Type: name, ScanInterval: s.ScanInterval})
		case interval != s.ScanInterval:
			plan.UpdateSensors = append(plan.UpdateSensors, SensorAssignment{Type: name, ScanInterval: s.ScanInterval})
		}
	}
	for _, s := range current.Sensors {
		if _, ok := wanted[s.Type]; !ok {
			plan.RemoveSensors = append(plan.RemoveSensors, s.Type)
		}
	}

	currentActuators := make(map[string]struct{}, len(current.Actuators))
	for _, a := range current.Actuators {
		currentActuators[a] = struct{}{}
	}
	wantedActuators := make(map[string]struct{}, len(target.Actuators))
	for _, a := range target.Actuators {
		name := strings.TrimSpace(a)
		if name == "" {
			continue
		}
		if _, dup := wantedActuators[name]; dup {
			continue
		}
		wantedActuators[name] = struct{}{}
		if _, ok := currentActuators[name]; !ok {
			plan.AddActuators = append(plan.AddActuators, name)
		}
	}
	for _, a := range current.Actuators {
		if _, ok := wantedActuators[a]; !ok {
			plan.RemoveActuators = append(plan.RemoveActuators, a)
		}
	}

	return plan
}

// ParseTarget parses the comma-delimited form used by form submissions:
// sensor types, their scan intervals matched by position, and actuator
// types. Blank type tokens are skipped together with their interval.
//
//	ParseTarget("temp, humidity", "60,30", "led")
func ParseTarget(sensorTypes, scanIntervals, actuatorTypes string) ([]SensorAssignment, []string, error) {
	types := splitList(sensorTypes)
	intervals := splitList(scanIntervals)

	var sensors []SensorAssignment
	for i, name := range types {
		if name == "" {
			continue
		}
		if i >= len(intervals) || intervals[i] == "" {
			return nil, nil, Invalid("scanIntervals", "missing scan interval for "+name)
		}
		n, err := strconv.Atoi(intervals[i])
		if err != nil {
			return nil, nil, Invalid("scanIntervals", "scan interval for "+name+" is not an integer")
		}
		sensors = append(sensors, SensorAssignment{Type: name, ScanInterval: n})
	}

	var actuators []string
	for _, name := range splitList(actuatorTypes) {
		if name != "" {
			actuators = append(actuators, name)
		}
	}

	return sensors, actuators, nil
}

// splitList splits on commas and trims each token. Empty input yields nil.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
