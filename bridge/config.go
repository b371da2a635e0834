package bridge

import (
	"fmt"
	"time"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/meter"
	"github.com/opd-ai/vmix/noisegate"
)

// GainRampFrames is the number of frames over which gain and mute changes
// are applied.
const GainRampFrames = 256

// Default timeouts.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultDrainTimeout   = 500 * time.Millisecond
	DefaultCloseTimeout   = 2 * time.Second
)

// Config describes one bridge.
type Config struct {
	// Name is the channel name used to derive stream names.
	Name string
	Kind Kind

	// Target is the real device the non-virtual stream binds to. Empty lets
	// the audio subsystem choose.
	Target string

	// Requested format. The negotiated format may differ.
	Channels   int
	SampleRate int
	Quantum    int

	// RingFrames is the ring capacity in frames.
	RingFrames int

	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
	CloseTimeout   time.Duration

	PeakDecayDBPerSecond float64

	// NoiseModel builds one denoise model per channel. Nil uses the
	// built-in spectral model.
	NoiseModel noisegate.ModelFactory

	// Initial control values.
	Gain             float64
	Muted            bool
	NoiseSuppression bool
	VADThreshold     int
}

// DefaultConfig returns a stereo 48 kHz configuration for name.
func DefaultConfig(name string, kind Kind) Config {
	return Config{
		Name:                 name,
		Kind:                 kind,
		Channels:             2,
		SampleRate:           48000,
		RingFrames:           limits.DefaultRingFrames,
		ConnectTimeout:       DefaultConnectTimeout,
		DrainTimeout:         DefaultDrainTimeout,
		CloseTimeout:         DefaultCloseTimeout,
		PeakDecayDBPerSecond: meter.DefaultDecayDBPerSecond,
		Gain:                 1,
		VADThreshold:         limits.DefaultVADThreshold,
	}
}

// Validate checks the configuration and fills zero durations and sizes
// with defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if c.Kind != KindOutput && c.Kind != KindInput {
		return fmt.Errorf("%w: kind %d", ErrInvalidConfig, int(c.Kind))
	}
	if err := limits.ValidateFormat(c.Channels, c.SampleRate, c.Quantum); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := limits.ValidateGain(c.Gain); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := limits.ValidateVADThreshold(c.VADThreshold); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.RingFrames <= 0 {
		c.RingFrames = limits.DefaultRingFrames
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.NoiseModel == nil {
		c.NoiseModel = noisegate.FactoryFor(noisegate.ModelConfig{Kind: noisegate.ModelSpectral})
	}
	return nil
}

// StreamNames returns the names of the capture and playback streams.
func (c Config) StreamNames() (capture, playback string) {
	if c.Kind == KindInput {
		return "vmix." + c.Name + ".capture", "vmix." + c.Name + ".source"
	}
	return "vmix." + c.Name + ".sink", "vmix." + c.Name + ".playback"
}

func (c Config) streamConfigs() (capture, playback interfaces.StreamConfig) {
	capName, playName := c.StreamNames()
	capture = interfaces.StreamConfig{
		Name:       capName,
		Channels:   c.Channels,
		SampleRate: c.SampleRate,
		Quantum:    c.Quantum,
	}
	capture.Direction = interfaces.DirectionCapture
	playback = capture
	playback.Name = playName
	playback.Direction = interfaces.DirectionPlayback

	if c.Kind == KindInput {
		capture.Target = c.Target
		playback.Virtual = true
	} else {
		capture.Virtual = true
		playback.Target = c.Target
	}
	return capture, playback
}
