// Package limits provides centralized audio bounds for the vmix pipeline.
// This ensures consistent validation across channels, bridges and the plugin boundary.
package limits

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MinGain is the lowest linear channel gain (silence)
	MinGain = 0.0

	// MaxGain is the highest linear channel gain (about +3.5 dB)
	MaxGain = 1.5

	// MinVADThreshold is the lowest voice-activity threshold percentage
	MinVADThreshold = 0

	// MaxVADThreshold is the highest voice-activity threshold percentage
	MaxVADThreshold = 100

	// DefaultVADThreshold is the threshold applied to new channels and plugin instances
	DefaultVADThreshold = 50

	// MaxChannels is the largest interleaved channel count a bridge accepts.
	// Meters keep one fixed slot per channel, so this bounds their size.
	MaxChannels = 8

	// MinSampleRate and MaxSampleRate bound negotiated stream formats
	MinSampleRate = 8000
	MaxSampleRate = 192000

	// MaxQuantum is the largest callback block, in frames, a bridge pre-allocates for
	MaxQuantum = 8192

	// DefaultRingFrames is the default ring buffer capacity in frames
	DefaultRingFrames = 4096

	// MeterFloorDB is the lowest level reported by meters
	MeterFloorDB = -60.0
)

var (
	// ErrOutOfRange indicates a value outside its documented bounds
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidFormat indicates an unusable stream format
	ErrInvalidFormat = errors.New("invalid stream format")
)

// ClampGain limits a linear gain to [MinGain, MaxGain].
// NaN is treated as silence.
func ClampGain(gain float64) float64 {
	if math.IsNaN(gain) || gain < MinGain {
		return MinGain
	}
	if gain > MaxGain {
		return MaxGain
	}
	return gain
}

// ClampVADThreshold limits a threshold percentage to [MinVADThreshold, MaxVADThreshold].
func ClampVADThreshold(percent int) int {
	if percent < MinVADThreshold {
		return MinVADThreshold
	}
	if percent > MaxVADThreshold {
		return MaxVADThreshold
	}
	return percent
}

// ValidateGain rejects gains outside [MinGain, MaxGain].
func ValidateGain(gain float64) error {
	if math.IsNaN(gain) || gain < MinGain || gain > MaxGain {
		return fmt.Errorf("%w: gain %v not in [%v, %v]", ErrOutOfRange, gain, MinGain, MaxGain)
	}
	return nil
}

// ValidateVADThreshold rejects threshold percentages outside [0, 100].
func ValidateVADThreshold(percent int) error {
	if percent < MinVADThreshold || percent > MaxVADThreshold {
		return fmt.Errorf("%w: vad threshold %d not in [%d, %d]", ErrOutOfRange, percent, MinVADThreshold, MaxVADThreshold)
	}
	return nil
}

// ValidateFormat checks a channel count, sample rate and quantum triple.
// A zero quantum means the subsystem chooses it.
func ValidateFormat(channels, sampleRate, quantum int) error {
	if channels < 1 || channels > MaxChannels {
		return fmt.Errorf("%w: channels %d not in [1, %d]", ErrInvalidFormat, channels, MaxChannels)
	}
	if sampleRate < MinSampleRate || sampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d not in [%d, %d]", ErrInvalidFormat, sampleRate, MinSampleRate, MaxSampleRate)
	}
	if quantum < 0 || quantum > MaxQuantum {
		return fmt.Errorf("%w: quantum %d not in [0, %d]", ErrInvalidFormat, quantum, MaxQuantum)
	}
	return nil
}
