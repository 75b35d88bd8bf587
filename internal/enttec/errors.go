package enttec

import "errors"

// Domain errors for the widget driver.
var (
	// ErrDeviceNotFound is returned when no serial port matches the configured USB ids.
	ErrDeviceNotFound = errors.New("enttec: device not found")

	// ErrOpenFailed is returned when the serial port cannot be opened.
	ErrOpenFailed = errors.New("enttec: unable to open device")

	// ErrClaimFailed is returned when the opened port refuses the read mode we need.
	ErrClaimFailed = errors.New("enttec: unable to claim device")

	// ErrResetFailed is returned when the initial buffer purge fails.
	ErrResetFailed = errors.New("enttec: device reset failed")

	// ErrConfigureFailed marks a failed configuration message. It is logged, never fatal.
	ErrConfigureFailed = errors.New("enttec: configuration failed")

	// ErrTransport wraps hard read/write errors. The session is unusable afterwards.
	ErrTransport = errors.New("enttec: transport error")

	// ErrShortWrite is returned when the port accepts fewer bytes than given.
	ErrShortWrite = errors.New("enttec: short write")

	// ErrFrameCorrupt is returned when a frame does not end with the end byte.
	ErrFrameCorrupt = errors.New("enttec: corrupt frame")

	// ErrPayloadTooLarge is returned by Encode for payloads above MaxPayload.
	ErrPayloadTooLarge = errors.New("enttec: payload too large")

	// ErrStopped is returned by reads pending while the session shuts down.
	ErrStopped = errors.New("enttec: session stopped")

	// ErrInvalidAPIKey is returned when the configured API key is not 4 hex bytes.
	ErrInvalidAPIKey = errors.New("enttec: invalid api key")
)
