// Package meter implements lock-free level metering for audio callbacks.
//
// The audio thread calls Observe on every block; it only performs atomic
// compare-and-swap on a fixed array of per-channel peaks. The control plane
// calls Poll at a steady rate to turn the accumulated peaks into levels and
// a decaying peak-hold, both in decibels.
package meter

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/vmix/limits"
	"github.com/sirupsen/logrus"
)

// DefaultDecayDBPerSecond is the peak-hold fall rate used when none is configured.
const DefaultDecayDBPerSecond = 20.0

// Sample is the per-channel result of the most recent poll.
type Sample struct {
	Channels int
	LevelDB  [limits.MaxChannels]float64
	PeakDB   [limits.MaxChannels]float64
}

// Stereo returns left and right level and peak. A mono sample reports the
// same values on both sides.
func (s Sample) Stereo() (levelLeft, levelRight, peakLeft, peakRight float64) {
	levelLeft, peakLeft = s.LevelDB[0], s.PeakDB[0]
	levelRight, peakRight = levelLeft, peakLeft
	if s.Channels > 1 {
		levelRight, peakRight = s.LevelDB[1], s.PeakDB[1]
	}
	return levelLeft, levelRight, peakLeft, peakRight
}

// Meter tracks per-channel peaks between polls.
type Meter struct {
	channels int
	decay    float64

	// peak holds float32 bits of the max |sample| seen since the last poll.
	peak [limits.MaxChannels]atomic.Uint32

	// level and hold hold float64 bits of the last polled dB values.
	level [limits.MaxChannels]atomic.Uint64
	hold  [limits.MaxChannels]atomic.Uint64

	pollMu   sync.Mutex
	lastPoll time.Time
}

// New creates a meter for the given channel count. Channel counts above
// limits.MaxChannels are truncated; a non-positive decay uses the default.
func New(channels int, decayDBPerSecond float64) *Meter {
	if channels < 1 {
		channels = 1
	}
	if channels > limits.MaxChannels {
		logrus.WithFields(logrus.Fields{
			"function": "meter.New",
			"channels": channels,
			"max":      limits.MaxChannels,
		}).Warn("Channel count exceeds meter slots, extra channels are not metered")
		channels = limits.MaxChannels
	}
	if decayDBPerSecond <= 0 {
		decayDBPerSecond = DefaultDecayDBPerSecond
	}

	m := &Meter{channels: channels, decay: decayDBPerSecond}
	floor := math.Float64bits(FloorDB)
	for ch := 0; ch < limits.MaxChannels; ch++ {
		m.level[ch].Store(floor)
		m.hold[ch].Store(floor)
	}
	return m
}

// Channels returns the number of metered channels.
func (m *Meter) Channels() int { return m.channels }

// Observe folds an interleaved block into the per-channel peaks.
func (m *Meter) Observe(block []float32, channels int) {
	m.ObserveScaled(block, channels, 1)
}

// ObserveScaled folds a block as if every sample had been multiplied by
// gain. A non-positive gain records nothing.
func (m *Meter) ObserveScaled(block []float32, channels int, gain float32) {
	if channels < 1 || !(gain > 0) {
		return
	}
	var local [limits.MaxChannels]float32
	for i, s := range block {
		ch := i % channels
		if ch >= m.channels {
			continue
		}
		if s < 0 {
			s = -s
		}
		if s > local[ch] {
			local[ch] = s
		}
	}
	for ch := 0; ch < m.channels; ch++ {
		if local[ch] > 0 {
			m.storeMax(ch, local[ch]*gain)
		}
	}
}

func (m *Meter) storeMax(ch int, v float32) {
	bits := math.Float32bits(v)
	for {
		old := m.peak[ch].Load()
		if math.Float32frombits(old) >= v {
			return
		}
		if m.peak[ch].CompareAndSwap(old, bits) {
			return
		}
	}
}

// Poll converts the peaks accumulated since the previous poll into levels
// and updates the peak-hold. The hold jumps up to a louder level at once
// and otherwise falls by the decay rate, never below the current level.
func (m *Meter) Poll(now time.Time) Sample {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	var dt float64
	if !m.lastPoll.IsZero() && now.After(m.lastPoll) {
		dt = now.Sub(m.lastPoll).Seconds()
	}
	m.lastPoll = now

	for ch := 0; ch < m.channels; ch++ {
		linear := math.Float32frombits(m.peak[ch].Swap(0))
		level := LinearToDB(float64(linear))

		hold := math.Float64frombits(m.hold[ch].Load())
		if level >= hold {
			hold = level
		} else {
			hold = math.Max(level, hold-m.decay*dt)
		}
		if hold < FloorDB {
			hold = FloorDB
		}

		m.level[ch].Store(math.Float64bits(level))
		m.hold[ch].Store(math.Float64bits(hold))
	}
	return m.Snapshot()
}

// Snapshot returns the values computed by the last poll without polling.
func (m *Meter) Snapshot() Sample {
	s := Sample{Channels: m.channels}
	for ch := 0; ch < limits.MaxChannels; ch++ {
		s.LevelDB[ch] = math.Float64frombits(m.level[ch].Load())
		s.PeakDB[ch] = math.Float64frombits(m.hold[ch].Load())
	}
	return s
}
