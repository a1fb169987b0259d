// Package provisioning registers new cubes and pushes configuration
// changes to registered ones.
//
// A provisioning attempt moves through Requested, Acknowledged and
// Persisted. Any failure moves it to Failed and undoes what was stored,
// so a failed attempt leaves no cube row, token or subscription behind.
//
// The device side is plain HTTP. The server POSTs the broker endpoint,
// the new cube id, its location and a freshly minted token to
// http://<ip>/ and the cube answers with its sensors and actuators.
// Later scan interval and location changes are POSTed to /sensor and /.
package provisioning
