// Package mqtt provides MQTT client connectivity for the cube server.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// Cubes publish readings on sensor/<sensorType>/<cubeID>/...; the telemetry
// router subscribes one wildcard per registered cube. The registry publishes
// lifecycle events on cube/<create|update|delete>.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.CubeSensors(id), 2,
//	    func(msg mqtt.Message) error {
//	        log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	        return nil
//	    })
package mqtt
