package provisioning

import (
	"errors"
	"fmt"
)

// ErrTokenMismatch is returned when a cube echoes a token other than the
// one it was sent.
var ErrTokenMismatch = errors.New("provisioning: device echoed a different token")

// DeviceCommunicationError reports a failed exchange with a cube: network
// errors, timeouts, non-2xx statuses and malformed responses.
type DeviceCommunicationError struct {
	Addr string
	Op   string
	Err  error
}

func (e *DeviceCommunicationError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *DeviceCommunicationError) Unwrap() error {
	return e.Err
}

// IsDeviceCommunication reports whether err is a DeviceCommunicationError.
func IsDeviceCommunication(err error) bool {
	var dce *DeviceCommunicationError
	return errors.As(err, &dce)
}
