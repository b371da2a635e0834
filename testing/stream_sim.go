package testing

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/vmix/interfaces"
)

// ErrStreamClosed is returned when starting a closed stream.
var ErrStreamClosed = errors.New("stream closed")

// SimulatedStream implements IStream for the simulated subsystem.
//
// mu is held for the duration of every callback and by Stop, so once Stop
// returns no callback is running and none will start.
type SimulatedStream struct {
	sub    *SimulatedAudioSubsystem
	config interfaces.StreamConfig
	format interfaces.Format

	onCapture  interfaces.CaptureFunc
	onPlayback interfaces.PlaybackFunc
	onError    interfaces.ErrorFunc

	mu           sync.Mutex
	state        atomic.Int32
	connectAt    atomic.Int64
	connectDelay time.Duration
	hang         bool
	closed       bool
	failed       atomic.Bool
	source       func(block []float32)
	block        []float32
	played       []float32
	callbacks    atomic.Uint64
	stopGate     atomic.Pointer[chan struct{}]
}

// Config returns the configuration the stream was created with.
func (st *SimulatedStream) Config() interfaces.StreamConfig { return st.config }

// Start implements IStream.Start.
func (st *SimulatedStream) Start() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrStreamClosed
	}
	st.connectAt.Store(time.Now().Add(st.connectDelay).UnixNano())
	st.state.Store(int32(interfaces.StreamConnecting))
	st.mu.Unlock()

	st.sub.logEvent(st.config.Name, "started", nil)
	return nil
}

// State implements IStream.State. A connecting stream becomes streaming
// once its connect delay has elapsed.
func (st *SimulatedStream) State() interfaces.StreamState {
	s := interfaces.StreamState(st.state.Load())
	if s == interfaces.StreamConnecting && !st.hang && time.Now().UnixNano() >= st.connectAt.Load() {
		if st.state.CompareAndSwap(int32(interfaces.StreamConnecting), int32(interfaces.StreamStreaming)) {
			return interfaces.StreamStreaming
		}
		return interfaces.StreamState(st.state.Load())
	}
	return s
}

// Format implements IStream.Format.
func (st *SimulatedStream) Format() interfaces.Format { return st.format }

// Stop implements IStream.Stop.
func (st *SimulatedStream) Stop() error {
	if gate := st.stopGate.Swap(nil); gate != nil {
		<-*gate
	}

	st.mu.Lock()
	if !st.failed.Load() {
		st.state.Store(int32(interfaces.StreamUnconnected))
	}
	st.mu.Unlock()

	st.sub.logEvent(st.config.Name, "stopped", nil)
	return nil
}

// Close implements IStream.Close.
func (st *SimulatedStream) Close() error {
	if err := st.Stop(); err != nil {
		return err
	}
	st.mu.Lock()
	already := st.closed
	st.closed = true
	st.mu.Unlock()

	if !already {
		st.sub.remove(st)
	}
	return nil
}

// Played returns everything a playback stream has played. It stays
// readable after Close.
func (st *SimulatedStream) Played() []float32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]float32, len(st.played))
	copy(out, st.played)
	return out
}

// Callbacks returns how many callbacks the stream has delivered.
func (st *SimulatedStream) Callbacks() uint64 { return st.callbacks.Load() }

func (st *SimulatedStream) cycle() {
	if st.State() != interfaces.StreamStreaming {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if interfaces.StreamState(st.state.Load()) != interfaces.StreamStreaming {
		return
	}

	st.callbacks.Add(1)
	switch st.config.Direction {
	case interfaces.DirectionCapture:
		if st.source != nil {
			st.source(st.block)
		} else {
			clear(st.block)
		}
		if st.onCapture != nil {
			st.onCapture(st.block)
		}
	case interfaces.DirectionPlayback:
		clear(st.block)
		if st.onPlayback != nil {
			st.onPlayback(st.block)
		}
		st.played = append(st.played, st.block...)
	}
}

func (st *SimulatedStream) fail(err error) {
	if !st.failed.CompareAndSwap(false, true) {
		return
	}
	st.state.Store(int32(interfaces.StreamError))
	st.sub.logEvent(st.config.Name, "failed", err)
	if st.onError != nil {
		st.onError(err)
	}
}
