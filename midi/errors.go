package midi

import (
	"errors"
	"fmt"
)

// Driver failure categories. A port never returns these; they are logged and
// passed to the Context error handler wrapped in a *DriverError.
var (
	ErrDriverQuery       = errors.New("midi: driver query failed")
	ErrDriverSubscribe   = errors.New("midi: driver subscribe failed")
	ErrDriverUnsubscribe = errors.New("midi: driver unsubscribe failed")
	ErrDriverSend        = errors.New("midi: driver send failed")
)

var (
	// ErrNoDevice is returned by drivers for unknown or vanished device IDs.
	ErrNoDevice = errors.New("midi: no such device")

	// ErrInvalidChannel is returned by SetChannel for values outside -1..15.
	ErrInvalidChannel = errors.New("midi: invalid channel")

	// ErrVirtualUnsupported is returned by drivers that cannot open
	// virtual ports on the current platform or backend.
	ErrVirtualUnsupported = errors.New("midi: driver does not support virtual ports")
)

// DriverError describes a failed driver call made on behalf of a port.
type DriverError struct {
	// Kind is one of ErrDriverQuery, ErrDriverSubscribe, ErrDriverUnsubscribe
	// or ErrDriverSend.
	Kind     error
	Op       string
	DriverID int
	DeviceID int
	Err      error
}

func (e *DriverError) Error() string {
	if e.DeviceID < 0 {
		return fmt.Sprintf("%v: %s on driver %d: %v", e.Kind, e.Op, e.DriverID, e.Err)
	}
	return fmt.Sprintf("%v: %s on driver %d device %d: %v", e.Kind, e.Op, e.DriverID, e.DeviceID, e.Err)
}

// Unwrap exposes both the failure category and the backend error.
func (e *DriverError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
