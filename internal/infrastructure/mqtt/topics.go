package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots used on the cube broker.
const (
	// TopicRootSensor carries readings: sensor/<sensorType>/<cubeID>/...
	TopicRootSensor = "sensor"

	// TopicRootInit is published by cubes after boot.
	TopicRootInit = "init"

	// TopicRootCube carries registry lifecycle events.
	TopicRootCube = "cube"

	// TopicServerStatus is the retained online/offline status of this server.
	TopicServerStatus = "covcube/server/status"
)

// Lifecycle actions published under TopicRootCube.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Topics provides builders for cube MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.CubeSensors("3f1c...")
//	// Returns: "sensor/+/3f1c.../#"
type Topics struct{}

// CubeSensors returns the wildcard matching every reading of one cube.
func (Topics) CubeSensors(cubeID string) string {
	return fmt.Sprintf("%s/+/%s/#", TopicRootSensor, cubeID)
}

// AllInit matches every boot announcement.
func (Topics) AllInit() string {
	return TopicRootInit + "/#"
}

// SensorReading returns the topic a cube publishes one sensor's readings on.
//
// Example: sensor/temp/3f1c...
func (Topics) SensorReading(sensorType, cubeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicRootSensor, sensorType, cubeID)
}

// CubeEvent returns the topic for a registry lifecycle event.
//
// Example: cube/create
func (Topics) CubeEvent(action string) string {
	return TopicRootCube + "/" + action
}

// AllCubeEvents matches every lifecycle event.
func (Topics) AllCubeEvents() string {
	return TopicRootCube + "/#"
}

// ServerStatus returns the server status topic.
func (Topics) ServerStatus() string {
	return TopicServerStatus
}

// SplitTopic splits a topic into its '/'-delimited segments.
// Empty segments from leading or doubled separators are kept.
func SplitTopic(topic string) []string {
	return strings.Split(topic, "/")
}
