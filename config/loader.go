package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Loader loads configuration from environment variables. Tests can override
// Lookup and ReadFile to inject deterministic sources.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load builds the configuration: defaults, then the JSON document in
// VMIX_CONFIG (inline, or a file path), then per-key environment overrides.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		ListenAddr:       DefaultListenAddr,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		Quantum:          DefaultQuantum,
		MeterRateHz:      DefaultMeterRateHz,
		PeakDecayDB:      DefaultPeakDecayDB,
		NoiseModel:       DefaultNoiseModel,
		ConnectTimeoutMs: DefaultConnectTimeoutMs,
	}

	if raw, ok := l.Lookup("VMIX_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		doc := strings.TrimSpace(raw)
		if !strings.HasPrefix(doc, "{") {
			data, err := l.ReadFile(doc)
			if err != nil {
				return Config{}, fmt.Errorf("config: read VMIX_CONFIG file: %w", err)
			}
			doc = string(data)
		}
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode VMIX_CONFIG: %w", err)
		}
	}

	overrideString(l.Lookup, "VMIX_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "VMIX_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "VMIX_LOG_FORMAT", &cfg.LogFormat)
	overrideString(l.Lookup, "VMIX_NS_MODEL", &cfg.NoiseModel)
	overrideString(l.Lookup, "VMIX_NS_MODEL_PATH", &cfg.NoiseModelPath)
	if err := overrideBool(l.Lookup, "VMIX_USE_SIMULATION", &cfg.UseSimulation); err != nil {
		return Config{}, err
	}
	for key, target := range map[string]*int{
		"VMIX_SAMPLE_RATE":        &cfg.SampleRate,
		"VMIX_CHANNELS":           &cfg.Channels,
		"VMIX_QUANTUM":            &cfg.Quantum,
		"VMIX_RING_FRAMES":        &cfg.RingFrames,
		"VMIX_METER_RATE_HZ":      &cfg.MeterRateHz,
		"VMIX_CONNECT_TIMEOUT_MS": &cfg.ConnectTimeoutMs,
		"VMIX_NS_STATE_SIZE":      &cfg.NoiseStateSize,
	} {
		if err := overrideInt(l.Lookup, key, target); err != nil {
			return Config{}, err
		}
	}
	if err := overrideFloat(l.Lookup, "VMIX_PEAK_DECAY_DB", &cfg.PeakDecayDB); err != nil {
		return Config{}, err
	}

	cfg.NoiseModel = strings.ToLower(cfg.NoiseModel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
