package telemetry

import (
	"time"
)

// AlphanumericSensorType is the one sensor type whose readings are stored
// as text (NFC tag identifiers). Every other type is numeric.
const AlphanumericSensorType = "nfcID"

// timestampLayout is fixed-width so stored timestamps order lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Partition selects the table a reading is stored in.
type Partition string

const (
	PartitionNumeric      Partition = "numeric"
	PartitionAlphanumeric Partition = "alphanumeric"
)

// PartitionFor classifies a reading by its sensor type.
func PartitionFor(sensorType string) Partition {
	if sensorType == AlphanumericSensorType {
		return PartitionAlphanumeric
	}
	return PartitionNumeric
}

// Record is one stored reading. Data is a float64 for numeric readings and
// a string for alphanumeric ones.
type Record struct {
	ID         int64     `json:"id"`
	SensorType string    `json:"sensorType"`
	CubeID     string    `json:"cubeId"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data"`
	Partition  Partition `json:"partition"`
}

// Filter narrows a query. Zero fields match everything; bounds are inclusive.
type Filter struct {
	SensorType string
	CubeID     string
	Start      *time.Time
	End        *time.Time
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
