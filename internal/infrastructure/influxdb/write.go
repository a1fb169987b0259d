package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement and schema names for mirrored telemetry.
const (
	MeasurementTelemetry = "cube_telemetry"

	tagCubeID     = "cube_id"
	tagSensorType = "sensor_type"

	fieldValue = "value"
	fieldText  = "text"
)

// WriteNumeric mirrors a numeric reading. The write is non-blocking;
// failures are reported through the SetOnError callback.
//
// Example:
//
//	client.WriteNumeric(cubeID, "temp", 21.5, ts)
func (c *Client) WriteNumeric(cubeID, sensorType string, value float64, ts time.Time) {
	c.writeReading(cubeID, sensorType, fieldValue, value, ts)
}

// WriteText mirrors an alphanumeric reading such as an NFC tag id.
func (c *Client) WriteText(cubeID, sensorType, text string, ts time.Time) {
	c.writeReading(cubeID, sensorType, fieldText, text, ts)
}

func (c *Client) writeReading(cubeID, sensorType, field string, value any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementTelemetry,
		map[string]string{
			tagCubeID:     cubeID,
			tagSensorType: sensorType,
		},
		map[string]any{field: value},
		ts,
	)
	c.writeAPI.WritePoint(point)
}
