// Package influxdb mirrors cube telemetry into InfluxDB.
//
// SQLite stays the system of record; every stored reading is also written
// here as a cube_telemetry point tagged with cube_id and sensor_type so it
// can be charted by external dashboards. Writes are batched and
// non-blocking.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	defer client.Close()
//
//	client.WriteNumeric(cubeID, "temp", 21.5, time.Now())
package influxdb
