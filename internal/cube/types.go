package cube

import (
	"slices"
	"time"
)

// Cube is a registered device together with its capability assignments.
type Cube struct {
	ID        string             `json:"id"`
	IP        string             `json:"ip"`
	Location  string             `json:"location"`
	Sensors   []SensorAssignment `json:"sensors"`
	Actuators []string           `json:"actuators"`
}

// SensorAssignment binds a sensor type to a cube with its scan interval.
type SensorAssignment struct {
	Type string `json:"type"`

	// ScanInterval is the number of seconds between readings.
	ScanInterval int `json:"scanInterval"`
}

// Variables is the requested state for an update.
// A blank Location keeps the current one.
type Variables struct {
	Location  string             `json:"location"`
	Sensors   []SensorAssignment `json:"sensors"`
	Actuators []string           `json:"actuators"`
}

// UpdateResult is returned by Registry.UpdateCube.
type UpdateResult struct {
	// Cube is the state re-read after the update committed.
	Cube *Cube

	Plan            Plan
	LocationChanged bool

	// NotifyFailures counts device notifications that failed. The stored
	// state is kept regardless.
	NotifyFailures int
}

// Event describes a committed registry change.
type Event struct {
	Action    string    `json:"action"`
	CubeID    string    `json:"cubeId"`
	Cube      *Cube     `json:"cube,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy.
func (c *Cube) Clone() *Cube {
	if c == nil {
		return nil
	}
	out := *c
	out.Sensors = slices.Clone(c.Sensors)
	out.Actuators = slices.Clone(c.Actuators)
	return &out
}

// SensorInterval returns the scan interval assigned to sensorType.
func (c *Cube) SensorInterval(sensorType string) (int, bool) {
	for _, s := range c.Sensors {
		if s.Type == sensorType {
			return s.ScanInterval, true
		}
	}
	return 0, false
}

// HasActuator reports whether the actuator type is assigned.
func (c *Cube) HasActuator(name string) bool {
	return slices.Contains(c.Actuators, name)
}
