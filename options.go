package vmix

import (
	"time"

	"github.com/opd-ai/vmix/bridge"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/meter"
	"github.com/opd-ai/vmix/noisegate"
)

// Options configures a Mixer.
type Options struct {
	// Requested stream format for new channels.
	SampleRate int
	Channels   int
	Quantum    int

	// RingFrames is the ring capacity of every bridge, in frames.
	RingFrames int

	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
	CloseTimeout   time.Duration

	// MeterRateHz is how often meters are polled.
	MeterRateHz          int
	PeakDecayDBPerSecond float64

	// NoiseModel selects the denoiser built for each channel.
	NoiseModel noisegate.ModelConfig

	// VADThreshold is the threshold given to new channels, in percent.
	VADThreshold int

	// ReportInterval is the minimum time between aggregated overrun,
	// underrun and starvation reports.
	ReportInterval time.Duration
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		SampleRate:           48000,
		Channels:             2,
		Quantum:              0, // Subsystem default
		RingFrames:           limits.DefaultRingFrames,
		ConnectTimeout:       bridge.DefaultConnectTimeout,
		DrainTimeout:         bridge.DefaultDrainTimeout,
		CloseTimeout:         bridge.DefaultCloseTimeout,
		MeterRateHz:          30,
		PeakDecayDBPerSecond: meter.DefaultDecayDBPerSecond,
		NoiseModel:           noisegate.ModelConfig{Kind: noisegate.ModelAuto},
		VADThreshold:         limits.DefaultVADThreshold,
		ReportInterval:       5 * time.Second,
	}
}

func (o *Options) bridgeConfig(state ChannelState) bridge.Config {
	cfg := bridge.DefaultConfig(state.Name, state.Kind)
	cfg.Target = state.Target
	cfg.Channels = o.Channels
	cfg.SampleRate = o.SampleRate
	cfg.Quantum = o.Quantum
	cfg.RingFrames = o.RingFrames
	cfg.ConnectTimeout = o.ConnectTimeout
	cfg.DrainTimeout = o.DrainTimeout
	cfg.CloseTimeout = o.CloseTimeout
	cfg.PeakDecayDBPerSecond = o.PeakDecayDBPerSecond
	cfg.NoiseModel = noisegate.FactoryFor(o.NoiseModel)
	cfg.Gain = state.Gain
	cfg.Muted = state.Muted
	cfg.NoiseSuppression = state.NoiseSuppression
	cfg.VADThreshold = state.VADThreshold
	return cfg
}
