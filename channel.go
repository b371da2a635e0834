package vmix

import (
	"slices"
	"sync"

	"github.com/opd-ai/vmix/bridge"
)

// ChannelKind tells whether a channel is a virtual sink or source.
type ChannelKind = bridge.Kind

const (
	// ChannelOutput is a virtual sink applications play into.
	ChannelOutput = bridge.KindOutput
	// ChannelInput is a virtual source applications record from.
	ChannelInput = bridge.KindInput
)

// ChannelState is the record form of a channel. It is what the mixer
// accepts on restore and reports from Channels.
type ChannelState struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Kind             ChannelKind `json:"kind"`
	Target           string      `json:"target,omitempty"`
	Gain             float64     `json:"gain"`
	Muted            bool        `json:"muted"`
	NoiseSuppression bool        `json:"noise_suppression"`
	VADThreshold     int         `json:"vad_threshold"`
	Producers        []string    `json:"producers,omitempty"`

	// Active is false once the channel's streams have failed.
	Active bool `json:"-"`
}

// Channel is a live virtual endpoint owned by a Mixer.
type Channel struct {
	id     string
	name   string
	kind   ChannelKind
	target string
	bridge *bridge.Bridge
	done   chan struct{}
	stop   sync.Once

	mu        sync.Mutex
	producers []string
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel kind.
func (c *Channel) Kind() ChannelKind { return c.kind }

// Active reports whether the channel's bridge is still running.
func (c *Channel) Active() bool { return c.bridge.State() == bridge.StateRunning }

// Stats returns the bridge counters.
func (c *Channel) Stats() bridge.Stats { return c.bridge.Stats() }

// ReadMeter returns left and right level and peak-hold in dB.
func (c *Channel) ReadMeter() (levelLeft, levelRight, peakLeft, peakRight float64) {
	return c.bridge.ReadMeter()
}

// Producers returns the ids of the producers routed to this channel.
func (c *Channel) Producers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.producers)
}

// State returns the channel record.
func (c *Channel) State() ChannelState {
	return ChannelState{
		ID:               c.id,
		Name:             c.name,
		Kind:             c.kind,
		Target:           c.target,
		Gain:             c.bridge.Gain(),
		Muted:            c.bridge.Muted(),
		NoiseSuppression: c.bridge.NoiseSuppression(),
		VADThreshold:     c.bridge.VADThreshold(),
		Producers:        c.Producers(),
		Active:           c.Active(),
	}
}

func (c *Channel) addProducer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.producers, id) {
		c.producers = append(c.producers, id)
	}
}

func (c *Channel) removeProducer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.producers, id); i >= 0 {
		c.producers = slices.Delete(c.producers, i, i+1)
	}
}
