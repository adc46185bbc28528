package device

import "errors"

var (
	// ErrDeviceUnavailable is returned when a device node cannot be opened
	// (missing path, permission denied). Fatal at startup.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrDeviceDisconnected is returned when a blocked read fails because
	// the device was removed.
	ErrDeviceDisconnected = errors.New("device disconnected")

	// ErrReaderClosed is returned from ReadNext after Close was called.
	// This is the normal shutdown path, not a failure.
	ErrReaderClosed = errors.New("reader closed")
)
