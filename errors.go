package vmix

import "errors"

// Sentinel errors for mixer operations.
// These errors enable reliable error classification using errors.Is().

// Channel errors.
var (
	// ErrChannelNotFound indicates no channel has the given id.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists indicates a channel with the same name or id exists.
	ErrChannelExists = errors.New("channel already exists")

	// ErrInvalidChannel indicates an unusable channel record.
	ErrInvalidChannel = errors.New("invalid channel")
)

// Producer errors.
var (
	// ErrProducerNotFound indicates no producer has the given id.
	ErrProducerNotFound = errors.New("producer not found")

	// ErrInvalidProducer indicates a producer without a name or binary.
	ErrInvalidProducer = errors.New("invalid producer")
)

// Lifecycle errors.
var (
	// ErrMixerClosed indicates the mixer has been shut down.
	ErrMixerClosed = errors.New("mixer is shut down")
)
