package bridge

import "errors"

// Sentinel errors for bridge operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrDeviceUnavailable indicates the audio subsystem refused to create
	// or start one of the bridge's streams.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrTimeout indicates activation or shutdown did not complete in time.
	ErrTimeout = errors.New("bridge operation timed out")

	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("invalid bridge state")

	// ErrInvalidConfig indicates an unusable bridge configuration.
	ErrInvalidConfig = errors.New("invalid bridge config")

	// ErrStreamFailed wraps fatal errors reported by the audio subsystem.
	ErrStreamFailed = errors.New("audio stream failed")
)
