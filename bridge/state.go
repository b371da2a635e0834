package bridge

import "fmt"

// State is the lifecycle state of a bridge.
type State int32

const (
	// StateIdle is the state of a bridge that has not been opened.
	StateIdle State = iota
	// StateActivating means the streams are being created and connected.
	StateActivating
	// StateRunning means captured audio flows to the playback stream.
	StateRunning
	// StateDraining means capture is ignored while buffered audio plays out.
	StateDraining
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Kind selects which side of the bridge is virtual.
type Kind int

const (
	// KindOutput is a virtual sink: applications play into the capture
	// stream and the playback stream feeds a real device.
	KindOutput Kind = iota
	// KindInput is a virtual source: the capture stream reads a real device
	// and applications record from the playback stream.
	KindInput
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindInput:
		return "input"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindOutput, KindInput:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidConfig, int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "output", "sink":
		*k = KindOutput
	case "input", "source":
		*k = KindInput
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidConfig, string(text))
	}
	return nil
}
