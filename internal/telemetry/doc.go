// Package telemetry stores cube sensor readings and routes them in from
// the message broker.
//
// Readings live in two partitions chosen by sensor type: the nfcID type is
// stored as text, every other type as a number. The Router subscribes one
// wildcard topic per cube (sensor/+/<cubeID>/#) and hands each message to
// the Store from a single consumer goroutine.
package telemetry
