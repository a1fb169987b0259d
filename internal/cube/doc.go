// Package cube is the device registry for CovCube devices.
//
// A cube is identified by a UUID, carries a network address and a free-text
// location, and has a set of sensor assignments (type plus scan interval)
// and actuator types. Both are drawn from the capability catalog.
//
// The Registry validates input, persists cubes through a Repository, keeps
// assignments in step with a requested target via Diff/Plan, and emits
// lifecycle events after every committed change.
//
// Errors are typed: ValidationError for rejected input, ErrNotFound,
// and StorageError (wrapping ErrAlreadyExists for duplicate ids).
package cube
