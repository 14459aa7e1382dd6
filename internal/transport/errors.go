package transport

import "errors"

var (
	// ErrNotConfigured is returned when neither a device path nor a host is set.
	ErrNotConfigured = errors.New("transport: no device path or host configured")

	// ErrPathUnavailable is returned when the serial device path does not exist.
	ErrPathUnavailable = errors.New("transport: serial device path unavailable")
)
