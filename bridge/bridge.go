package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/meter"
	"github.com/sirupsen/logrus"
)

// Bridge couples a capture stream to a playback stream through a ring
// buffer, applying noise suppression, gain and mute on the way.
//
// Control methods may be called from any goroutine. Open and Close are
// serialized; the setters are atomic stores picked up by the audio thread
// at its next callback.
type Bridge struct {
	subsystem interfaces.IAudioSubsystem
	cfg       Config

	// mu serializes Open and Close. It is never taken by a callback.
	mu       sync.Mutex
	capture  interfaces.IStream
	playback interfaces.IStream
	released bool

	state    atomic.Int32
	inFlight atomic.Int32
	pipe     atomic.Pointer[pipeline]
	meter    atomic.Pointer[meter.Meter]
	final    atomic.Pointer[Stats]

	gain             atomic.Uint32
	muted            atomic.Bool
	noiseSuppression atomic.Bool
	vadThreshold     atomic.Int32

	errs     chan error
	failed   atomic.Bool
	fatalErr atomic.Pointer[error]
}

// Stats is a point-in-time view of a bridge.
type Stats struct {
	State            State
	Format           interfaces.Format
	Overruns         uint64
	Underruns        uint64
	GateStarvations  uint64
	GatedFrames      uint64
	BufferedFrames   int
	Gain             float64
	Muted            bool
	NoiseSuppression bool
	VADThreshold     int
}

// New creates an idle bridge. The configuration is validated here; no
// stream is created until Open.
func New(subsystem interfaces.IAudioSubsystem, cfg Config) (*Bridge, error) {
	if subsystem == nil {
		return nil, fmt.Errorf("%w: nil audio subsystem", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		subsystem: subsystem,
		cfg:       cfg,
		errs:      make(chan error, 1),
	}
	b.SetGain(cfg.Gain)
	b.muted.Store(cfg.Muted)
	b.noiseSuppression.Store(cfg.NoiseSuppression)
	b.vadThreshold.Store(int32(cfg.VADThreshold))
	return b, nil
}

// Config returns the bridge configuration.
func (b *Bridge) Config() Config { return b.cfg }

// State returns the current lifecycle state.
func (b *Bridge) State() State { return State(b.state.Load()) }

// Errors delivers the fatal stream error, at most once.
func (b *Bridge) Errors() <-chan error { return b.errs }

// Err returns the fatal stream error, if one occurred.
func (b *Bridge) Err() error {
	if p := b.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Open creates and connects both streams. On success the bridge is Running.
// On failure every created stream is stopped and closed and the bridge is
// Closed; the error is returned, not logged, so the owner reports it.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StateIdle), int32(StateActivating)) {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, b.State())
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bridge.Open",
		"name":     b.cfg.Name,
		"kind":     b.cfg.Kind.String(),
		"target":   b.cfg.Target,
	}).Info("Opening bridge")

	if err := b.activate(ctx); err != nil {
		b.state.Store(int32(StateClosed))
		b.shutdown(context.WithoutCancel(ctx))
		return err
	}

	format := b.pipe.Load().format
	logrus.WithFields(logrus.Fields{
		"function":    "Bridge.Open",
		"name":        b.cfg.Name,
		"channels":    format.Channels,
		"sample_rate": format.SampleRate,
		"quantum":     format.Quantum,
	}).Info("Bridge running")
	return nil
}

func (b *Bridge) activate(ctx context.Context) error {
	capCfg, playCfg := b.cfg.streamConfigs()

	capture, err := b.subsystem.CreateCapture(capCfg, b.onCapture, b.onStreamError(capCfg.Name))
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrDeviceUnavailable, capCfg.Name, err)
	}
	b.capture = capture

	playback, err := b.subsystem.CreatePlayback(playCfg, b.onPlayback, b.onStreamError(playCfg.Name))
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrDeviceUnavailable, playCfg.Name, err)
	}
	b.playback = playback

	for _, st := range []interfaces.IStream{playback, capture} {
		if err := st.Start(); err != nil {
			return fmt.Errorf("%w: start: %w", ErrDeviceUnavailable, err)
		}
	}

	deadline := time.Now().Add(b.cfg.ConnectTimeout)
	err = pollUntil(ctx, deadline, func() (bool, error) {
		ready := true
		for _, st := range []interfaces.IStream{capture, playback} {
			switch st.State() {
			case interfaces.StreamStreaming:
			case interfaces.StreamError:
				return false, fmt.Errorf("%w: stream failed while connecting", ErrDeviceUnavailable)
			default:
				ready = false
			}
		}
		return ready, nil
	})
	if err != nil {
		return err
	}

	format := capture.Format()
	if pf := playback.Format(); pf.Channels != format.Channels || pf.SampleRate != format.SampleRate {
		return fmt.Errorf("%w: capture %d ch %d Hz, playback %d ch %d Hz", ErrDeviceUnavailable,
			format.Channels, format.SampleRate, pf.Channels, pf.SampleRate)
	}
	if err := limits.ValidateFormat(format.Channels, format.SampleRate, format.Quantum); err != nil {
		return fmt.Errorf("%w: negotiated %w", ErrDeviceUnavailable, err)
	}

	p, err := newPipeline(format, b.cfg, b.effectiveGain())
	if err != nil {
		return err
	}
	b.meter.Store(meter.New(format.Channels, b.cfg.PeakDecayDBPerSecond))
	b.pipe.Store(p)

	if !b.state.CompareAndSwap(int32(StateActivating), int32(StateRunning)) {
		if err := b.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: bridge left activating state", ErrInvalidState)
	}
	return nil
}

// Close drains buffered audio, stops both streams, waits for in-flight
// callbacks and releases the buffers. Every wait is bounded; if the streams
// cannot be confirmed stopped in time Close returns ErrTimeout and keeps
// the buffers, and a later Close retries the release.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		b.state.Store(int32(StateClosed))
		return nil
	}

	if b.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		b.drain(ctx)
	}
	b.state.Store(int32(StateClosed))

	if err := b.shutdown(ctx); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bridge.Close",
		"name":     b.cfg.Name,
	}).Info("Bridge closed")
	return nil
}

// shutdown stops the streams, waits for in-flight callbacks and releases
// the pipeline. The state must already be Closed.
func (b *Bridge) shutdown(ctx context.Context) error {
	deadline := time.Now().Add(b.cfg.CloseTimeout)
	if err := b.stopStreams(ctx, deadline); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.shutdown",
			"name":     b.cfg.Name,
			"error":    err.Error(),
		}).Error("Streams did not stop, keeping buffers")
		return err
	}

	err := pollUntil(ctx, deadline, func() (bool, error) {
		return b.inFlight.Load() == 0, nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Bridge.shutdown",
			"name":      b.cfg.Name,
			"in_flight": b.inFlight.Load(),
		}).Error("Callbacks still in flight, keeping buffers")
		return err
	}

	b.release()
	return nil
}

func (b *Bridge) drain(ctx context.Context) {
	p := b.pipe.Load()
	if p == nil {
		return
	}
	deadline := time.Now().Add(b.cfg.DrainTimeout)
	err := pollUntil(ctx, deadline, func() (bool, error) {
		return p.ring.Buffered() == 0 || b.State() != StateDraining, nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.drain",
			"name":     b.cfg.Name,
			"buffered": p.ring.Buffered(),
		}).Warn("Drain timed out, discarding buffered audio")
	}
}

// stopStreams stops both streams in a helper goroutine so a wedged audio
// subsystem cannot block Close past the deadline.
func (b *Bridge) stopStreams(ctx context.Context, deadline time.Time) error {
	streams := b.streams()
	if len(streams) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		var first error
		for _, st := range streams {
			if err := st.Stop(); err != nil && first == nil {
				first = err
			}
		}
		done <- first
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Bridge.stopStreams",
				"name":     b.cfg.Name,
				"error":    err.Error(),
			}).Warn("Stream stop reported an error")
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: stopping streams", ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (b *Bridge) streams() []interfaces.IStream {
	var out []interfaces.IStream
	if b.capture != nil {
		out = append(out, b.capture)
	}
	if b.playback != nil {
		out = append(out, b.playback)
	}
	return out
}

func (b *Bridge) release() {
	final := b.Stats()
	final.State = StateClosed
	b.final.Store(&final)

	for _, st := range b.streams() {
		if err := st.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Bridge.release",
				"name":     b.cfg.Name,
				"error":    err.Error(),
			}).Warn("Stream close failed")
		}
	}
	b.capture, b.playback = nil, nil

	if p := b.pipe.Swap(nil); p != nil {
		p.closeGates()
	}
	b.released = true
}

// onStreamError returns the ErrorFunc for one stream. The first fatal
// error closes the bridge and is reported once on Errors.
func (b *Bridge) onStreamError(stream string) interfaces.ErrorFunc {
	return func(err error) {
		if !b.failed.CompareAndSwap(false, true) {
			return
		}
		wrapped := fmt.Errorf("%w: %s: %w", ErrStreamFailed, stream, err)
		b.fatalErr.Store(&wrapped)
		b.state.Store(int32(StateClosed))
		select {
		case b.errs <- wrapped:
		default:
		}
	}
}

func (b *Bridge) onCapture(in []float32) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	if State(b.state.Load()) != StateRunning {
		return
	}
	if p := b.pipe.Load(); p != nil {
		p.capture(b, in)
	}
}

func (b *Bridge) onPlayback(out []float32) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	s := State(b.state.Load())
	p := b.pipe.Load()
	if p == nil || (s != StateRunning && s != StateDraining) {
		clear(out)
		return
	}
	p.playback(out, s == StateDraining)
}

// SetGain sets the linear gain, clamped to [0, 1.5].
func (b *Bridge) SetGain(gain float64) {
	b.gain.Store(math.Float32bits(float32(limits.ClampGain(gain))))
}

// Gain returns the requested linear gain.
func (b *Bridge) Gain() float64 {
	return float64(math.Float32frombits(b.gain.Load()))
}

// SetMute mutes or unmutes the bridge. Muting ramps to silence.
func (b *Bridge) SetMute(muted bool) { b.muted.Store(muted) }

// Muted reports whether the bridge is muted.
func (b *Bridge) Muted() bool { return b.muted.Load() }

func (b *Bridge) effectiveGain() float32 {
	if b.muted.Load() {
		return 0
	}
	return math.Float32frombits(b.gain.Load())
}

// EnableNoiseSuppression turns the noise gates on or off. Turning them on
// flushes their buffers at the next capture callback.
func (b *Bridge) EnableNoiseSuppression(enabled bool) {
	b.noiseSuppression.Store(enabled)
}

// NoiseSuppression reports whether noise suppression is enabled.
func (b *Bridge) NoiseSuppression() bool { return b.noiseSuppression.Load() }

// SetVADThreshold sets the voice-activity threshold in percent, clamped to
// [0, 100]. Gates apply it at their next frame boundary.
func (b *Bridge) SetVADThreshold(percent int) {
	percent = limits.ClampVADThreshold(percent)
	b.vadThreshold.Store(int32(percent))
	if p := b.pipe.Load(); p != nil {
		for _, g := range p.gates {
			g.SetThreshold(percent)
		}
	}
}

// VADThreshold returns the threshold in percent.
func (b *Bridge) VADThreshold() int { return int(b.vadThreshold.Load()) }

// Meter returns the bridge meter, or nil before the bridge has run.
func (b *Bridge) Meter() *meter.Meter { return b.meter.Load() }

// ReadMeter returns the most recently polled left and right level and
// peak-hold in dB. Mono bridges report the same values on both sides.
func (b *Bridge) ReadMeter() (levelLeft, levelRight, peakLeft, peakRight float64) {
	m := b.meter.Load()
	if m == nil {
		return meter.FloorDB, meter.FloorDB, meter.FloorDB, meter.FloorDB
	}
	return m.Snapshot().Stereo()
}

// Stats returns counters and settings. After Close it returns the values
// captured at release.
func (b *Bridge) Stats() Stats {
	s := Stats{
		State:            b.State(),
		Gain:             b.Gain(),
		Muted:            b.Muted(),
		NoiseSuppression: b.NoiseSuppression(),
		VADThreshold:     b.VADThreshold(),
	}
	if p := b.pipe.Load(); p != nil {
		s.Format = p.format
		s.Overruns = p.ring.Overruns()
		s.Underruns = p.ring.Underruns()
		s.BufferedFrames = p.ring.Buffered()
		s.GateStarvations, s.GatedFrames = p.gateCounters()
		return s
	}
	if f := b.final.Load(); f != nil {
		s.Format = f.Format
		s.Overruns = f.Overruns
		s.Underruns = f.Underruns
		s.GateStarvations = f.GateStarvations
		s.GatedFrames = f.GatedFrames
	}
	return s
}
