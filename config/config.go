package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/vmix"
	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/noisegate"
	"github.com/opd-ai/vmix/routing"
)

const (
	DefaultListenAddr       = "localhost:7321"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultSampleRate       = 48000
	DefaultChannels         = 2
	DefaultQuantum          = 256
	DefaultMeterRateHz      = 30
	DefaultPeakDecayDB      = 20.0
	DefaultNoiseModel       = noisegate.ModelAuto
	DefaultConnectTimeoutMs = 2000
)

// ErrInvalid indicates a configuration value outside its bounds.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the daemon configuration.
type Config struct {
	ListenAddr       string  `json:"listen_addr"`
	LogLevel         string  `json:"log_level"`
	LogFormat        string  `json:"log_format"`
	UseSimulation    bool    `json:"use_simulation"`
	SampleRate       int     `json:"sample_rate"`
	Channels         int     `json:"channels"`
	Quantum          int     `json:"quantum"`
	RingFrames       int     `json:"ring_frames"`
	MeterRateHz      int     `json:"meter_rate_hz"`
	PeakDecayDB      float64 `json:"peak_decay_db"`
	NoiseModel       string  `json:"ns_model"`
	NoiseModelPath   string  `json:"ns_model_path"`
	NoiseStateSize   int     `json:"ns_state_size"`
	ConnectTimeoutMs int     `json:"connect_timeout_ms"`

	// Restore input handed over by the persistence collaborator.
	InitialChannels []vmix.ChannelState `json:"channels_state"`
	Rules           []routing.Rule      `json:"rules"`
}

// Validate checks every value against its bounds.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	if err := limits.ValidateFormat(c.Channels, c.SampleRate, c.Quantum); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.RingFrames < 0 {
		return fmt.Errorf("%w: ring frames %d", ErrInvalid, c.RingFrames)
	}
	if c.Quantum > 0 && c.RingFrames > 0 && c.RingFrames < 2*c.Quantum {
		return fmt.Errorf("%w: ring frames %d smaller than two quanta", ErrInvalid, c.RingFrames)
	}
	if c.MeterRateHz < 1 || c.MeterRateHz > 240 {
		return fmt.Errorf("%w: meter rate %d Hz", ErrInvalid, c.MeterRateHz)
	}
	if c.PeakDecayDB <= 0 {
		return fmt.Errorf("%w: peak decay %v dB/s", ErrInvalid, c.PeakDecayDB)
	}
	switch c.NoiseModel {
	case noisegate.ModelAuto, noisegate.ModelSpectral, noisegate.ModelRNNoise:
	case noisegate.ModelONNX:
		if c.NoiseModelPath == "" {
			return fmt.Errorf("%w: onnx model requires a model path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: noise model %q", ErrInvalid, c.NoiseModel)
	}
	if c.NoiseStateSize < 0 {
		return fmt.Errorf("%w: noise state size %d", ErrInvalid, c.NoiseStateSize)
	}
	if c.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("%w: connect timeout %d ms", ErrInvalid, c.ConnectTimeoutMs)
	}
	return nil
}

// Options converts the configuration into mixer options.
func (c Config) Options() *vmix.Options {
	opts := vmix.NewOptions()
	opts.SampleRate = c.SampleRate
	opts.Channels = c.Channels
	opts.Quantum = c.Quantum
	if c.RingFrames > 0 {
		opts.RingFrames = c.RingFrames
	}
	opts.ConnectTimeout = time.Duration(c.ConnectTimeoutMs) * time.Millisecond
	opts.MeterRateHz = c.MeterRateHz
	opts.PeakDecayDBPerSecond = c.PeakDecayDB
	opts.NoiseModel = noisegate.ModelConfig{Kind: c.NoiseModel}
	switch c.NoiseModel {
	case noisegate.ModelONNX:
		opts.NoiseModel.ModelPath = c.NoiseModelPath
		opts.NoiseModel.StateSize = c.NoiseStateSize
	case noisegate.ModelRNNoise, noisegate.ModelAuto:
		opts.NoiseModel.LibraryPath = c.NoiseModelPath
	}
	return opts
}

// SubsystemConfig converts the configuration into audio subsystem settings.
func (c Config) SubsystemConfig() *interfaces.AudioSubsystemConfig {
	quantum := c.Quantum
	if quantum == 0 {
		quantum = DefaultQuantum
	}
	return &interfaces.AudioSubsystemConfig{
		UseSimulation:  c.UseSimulation,
		SampleRate:     c.SampleRate,
		Quantum:        quantum,
		ConnectTimeout: c.ConnectTimeoutMs,
	}
}
