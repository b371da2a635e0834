package interfaces

import (
	"errors"
	"fmt"

	"github.com/opd-ai/vmix/limits"
)

// Direction tells whether a stream delivers samples to us or takes them from us.
type Direction int

const (
	// DirectionCapture streams deliver samples through a CaptureFunc.
	DirectionCapture Direction = iota
	// DirectionPlayback streams request samples through a PlaybackFunc.
	DirectionPlayback
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionCapture:
		return "capture"
	case DirectionPlayback:
		return "playback"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// StreamState is the connection state reported by a stream.
type StreamState int32

const (
	// StreamUnconnected is the state before Start and after Stop.
	StreamUnconnected StreamState = iota
	// StreamConnecting means the subsystem is negotiating the stream.
	StreamConnecting
	// StreamStreaming means callbacks are being delivered.
	StreamStreaming
	// StreamError means the stream failed and will not recover.
	StreamError
)

// String returns the state name.
func (s StreamState) String() string {
	switch s {
	case StreamUnconnected:
		return "unconnected"
	case StreamConnecting:
		return "connecting"
	case StreamStreaming:
		return "streaming"
	case StreamError:
		return "error"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// Format is the negotiated layout of a stream's buffers.
type Format struct {
	Channels   int
	SampleRate int
	// Quantum is the usual callback block size in frames. Callbacks may
	// deliver fewer frames, never more than limits.MaxQuantum.
	Quantum int
}

// CaptureFunc receives one interleaved block of captured samples.
// It runs on the audio thread.
type CaptureFunc func(in []float32)

// PlaybackFunc fills one interleaved block of samples to be played.
// It runs on the audio thread.
type PlaybackFunc func(out []float32)

// ErrorFunc is invoked once when a stream fails fatally. It may run on the
// audio thread and must not block.
type ErrorFunc func(err error)

// IStream is one bound stream of the external audio subsystem.
type IStream interface {
	// Start connects the stream. Connection completes asynchronously;
	// poll State to observe it.
	Start() error

	// State returns the current connection state.
	State() StreamState

	// Format returns the negotiated format. Valid once the stream is streaming.
	Format() Format

	// Stop deactivates the stream. After Stop returns no further callback
	// for this stream will begin.
	Stop() error

	// Close releases the stream. It implies Stop.
	Close() error
}

// IAudioSubsystem is the external audio server that binds streams to
// devices and runs their callbacks on its audio threads.
type IAudioSubsystem interface {
	// CreateCapture creates an unstarted capture stream.
	CreateCapture(config StreamConfig, onData CaptureFunc, onError ErrorFunc) (IStream, error)

	// CreatePlayback creates an unstarted playback stream.
	CreatePlayback(config StreamConfig, onData PlaybackFunc, onError ErrorFunc) (IStream, error)

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// StreamConfig describes a stream to create.
type StreamConfig struct {
	// Name identifies the stream to the subsystem, e.g. "vmix.music.capture".
	Name string

	// Direction is capture or playback.
	Direction Direction

	// Target names the node to bind to. Empty lets the subsystem choose.
	Target string

	// Virtual asks the subsystem to advertise the stream as a virtual
	// sink (capture side) or virtual source (playback side).
	Virtual bool

	// Requested format; the subsystem may negotiate a different one.
	Channels   int
	SampleRate int
	Quantum    int
}

// AudioSubsystemConfig holds configuration for audio subsystem implementations
type AudioSubsystemConfig struct {
	// UseSimulation determines whether to use the simulated or the native subsystem
	UseSimulation bool

	// SampleRate is the default sample rate for new streams
	SampleRate int

	// Quantum is the default callback block size in frames
	Quantum int

	// ConnectTimeout bounds stream activation, in milliseconds
	ConnectTimeout int
}

var (
	// ErrInvalidTimeout indicates a non-positive connect timeout.
	ErrInvalidTimeout = errors.New("connect timeout must be positive")

	// ErrInvalidQuantum indicates a quantum outside the supported range.
	ErrInvalidQuantum = errors.New("invalid quantum")
)

// Validate checks the configuration values.
func (c *AudioSubsystemConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Quantum <= 0 || c.Quantum > limits.MaxQuantum {
		return fmt.Errorf("%w: %d", ErrInvalidQuantum, c.Quantum)
	}
	if err := limits.ValidateFormat(1, c.SampleRate, c.Quantum); err != nil {
		return err
	}
	return nil
}

// Validate checks the requested format of a stream.
func (c StreamConfig) Validate() error {
	return limits.ValidateFormat(c.Channels, c.SampleRate, c.Quantum)
}
