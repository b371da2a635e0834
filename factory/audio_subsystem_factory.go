package factory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/testing"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinConnectTimeout is the minimum allowed connect timeout in milliseconds.
	MinConnectTimeout = 10
	// MaxConnectTimeout is the maximum allowed connect timeout in milliseconds (1 minute).
	MaxConnectTimeout = 60000
)

// ErrNoNativeBackend is returned when a native subsystem is requested but
// none has been registered.
var ErrNoNativeBackend = errors.New("no native audio backend registered")

// NativeConstructor builds a native audio subsystem from configuration.
type NativeConstructor func(config *interfaces.AudioSubsystemConfig) (interfaces.IAudioSubsystem, error)

// AudioSubsystemFactory creates audio subsystem implementations based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type AudioSubsystemFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.AudioSubsystemConfig
	native        NativeConstructor
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.AudioSubsystemConfig)

// NewAudioSubsystemFactory creates a new factory with default configuration
func NewAudioSubsystemFactory() *AudioSubsystemFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &AudioSubsystemFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig initializes the default audio subsystem configuration.
//
// Default Value Rationale:
//   - UseSimulation: false - native audio by default; simulation must be explicitly enabled
//   - SampleRate: 48000 - the rate the noise models are trained at
//   - Quantum: 256 - about 5 ms per callback at 48 kHz
//   - ConnectTimeout: 2000ms - long enough for a busy audio server to negotiate
func createDefaultConfig() *interfaces.AudioSubsystemConfig {
	return &interfaces.AudioSubsystemConfig{
		UseSimulation:  false,
		SampleRate:     48000,
		Quantum:        256,
		ConnectTimeout: 2000,
	}
}

// applyEnvironmentOverrides updates configuration based on VMIX_* environment variables.
func applyEnvironmentOverrides(config *interfaces.AudioSubsystemConfig) {
	parseSimulationSetting(config)
	config.SampleRate = parseIntSetting("VMIX_SAMPLE_RATE", config.SampleRate, limits.MinSampleRate, limits.MaxSampleRate)
	config.Quantum = parseIntSetting("VMIX_QUANTUM", config.Quantum, 1, limits.MaxQuantum)
	config.ConnectTimeout = parseIntSetting("VMIX_CONNECT_TIMEOUT_MS", config.ConnectTimeout, MinConnectTimeout, MaxConnectTimeout)
}

// parseSimulationSetting updates the UseSimulation config from VMIX_USE_SIMULATION.
// It logs a warning if parsing fails and only updates config if parsing succeeds.
func parseSimulationSetting(config *interfaces.AudioSubsystemConfig) {
	if useSimStr := os.Getenv("VMIX_USE_SIMULATION"); useSimStr != "" {
		useSim, err := strconv.ParseBool(useSimStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parseSimulationSetting",
				"env_var":     "VMIX_USE_SIMULATION",
				"value":       useSimStr,
				"error":       err.Error(),
				"using_value": config.UseSimulation,
			}).Warn("Failed to parse VMIX_USE_SIMULATION environment variable, using default")
			return
		}
		config.UseSimulation = useSim
	}
}

// parseIntSetting reads an integer environment variable bounded by [min, max].
// Unparseable or out of bounds values keep current and log a warning.
func parseIntSetting(envVar string, current, min, max int) int {
	raw := os.Getenv(envVar)
	if raw == "" {
		return current
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": current,
		}).Warn("Failed to parse environment variable, using default")
		return current
	}
	if value < min || value > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       value,
			"min":         min,
			"max":         max,
			"using_value": current,
		}).Warn("Environment variable out of bounds, using default")
		return current
	}
	return value
}

// logConfigurationInfo logs the final configuration settings for debugging purposes.
func logConfigurationInfo(config *interfaces.AudioSubsystemConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewAudioSubsystemFactory",
		"use_simulation":  config.UseSimulation,
		"sample_rate":     config.SampleRate,
		"quantum":         config.Quantum,
		"connect_timeout": config.ConnectTimeout,
	}).Info("Created audio subsystem factory with configuration")
}

// RegisterNative installs the constructor used when simulation is off.
// Native backends live outside this module and register themselves here.
func (f *AudioSubsystemFactory) RegisterNative(ctor NativeConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native = ctor

	logrus.WithFields(logrus.Fields{
		"function":   "RegisterNative",
		"registered": ctor != nil,
	}).Info("Native audio backend registration updated")
}

// CreateAudioSubsystem creates an audio subsystem based on the default configuration
func (f *AudioSubsystemFactory) CreateAudioSubsystem() (interfaces.IAudioSubsystem, error) {
	return f.CreateAudioSubsystemWithConfig(nil)
}

// CreateAudioSubsystemWithConfig creates an audio subsystem with custom configuration
func (f *AudioSubsystemFactory) CreateAudioSubsystemWithConfig(config *interfaces.AudioSubsystemConfig) (interfaces.IAudioSubsystem, error) {
	f.mu.RLock()
	if config == nil {
		config = f.copyConfigLocked()
	}
	native := f.native
	f.mu.RUnlock()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio subsystem config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateAudioSubsystemWithConfig",
		"use_simulation":  config.UseSimulation,
		"sample_rate":     config.SampleRate,
		"quantum":         config.Quantum,
		"connect_timeout": config.ConnectTimeout,
	}).Info("Creating audio subsystem implementation")

	if config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "CreateAudioSubsystemWithConfig",
			"type":     "simulation",
		}).Info("Creating simulation audio subsystem implementation")

		return testing.NewSimulatedAudioSubsystem(config), nil
	}

	if native == nil {
		return nil, ErrNoNativeBackend
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateAudioSubsystemWithConfig",
		"type":     "native",
	}).Info("Creating native audio subsystem implementation")

	return native(config)
}

// WithSampleRate sets a custom sample rate for the test configuration.
func WithSampleRate(rate int) TestConfigOption {
	return func(c *interfaces.AudioSubsystemConfig) {
		c.SampleRate = rate
	}
}

// WithQuantum sets a custom quantum for the test configuration.
func WithQuantum(frames int) TestConfigOption {
	return func(c *interfaces.AudioSubsystemConfig) {
		c.Quantum = frames
	}
}

// WithConnectTimeout sets a custom connect timeout for the test configuration.
func WithConnectTimeout(ms int) TestConfigOption {
	return func(c *interfaces.AudioSubsystemConfig) {
		c.ConnectTimeout = ms
	}
}

// CreateSimulationForTesting creates a simulation implementation specifically for testing.
// Default test configuration uses: SampleRate=48000, Quantum=128, ConnectTimeout=500ms.
func (f *AudioSubsystemFactory) CreateSimulationForTesting(opts ...TestConfigOption) *testing.SimulatedAudioSubsystem {
	testConfig := &interfaces.AudioSubsystemConfig{
		UseSimulation:  true,
		SampleRate:     48000,
		Quantum:        128,
		ConnectTimeout: 500,
	}

	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSimulationForTesting",
		"sample_rate":     testConfig.SampleRate,
		"quantum":         testConfig.Quantum,
		"connect_timeout": testConfig.ConnectTimeout,
	}).Info("Creating simulation implementation for testing")

	return testing.NewSimulatedAudioSubsystem(testConfig)
}

// SwitchToSimulation switches the configuration to use simulation
func (f *AudioSubsystemFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToNative switches the configuration to use the registered native backend
func (f *AudioSubsystemFactory) SwitchToNative() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToNative",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to native mode")

	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *AudioSubsystemFactory) GetCurrentConfig() *interfaces.AudioSubsystemConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.copyConfigLocked()
}

func (f *AudioSubsystemFactory) copyConfigLocked() *interfaces.AudioSubsystemConfig {
	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *AudioSubsystemFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig.UseSimulation
}

// UpdateConfig updates the factory's default configuration
func (f *AudioSubsystemFactory) UpdateConfig(config *interfaces.AudioSubsystemConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid audio subsystem config: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": config.UseSimulation,
		"old_quantum":    f.defaultConfig.Quantum,
		"new_quantum":    config.Quantum,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c
	return nil
}
