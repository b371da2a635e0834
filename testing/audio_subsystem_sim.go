package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrClockRunning is returned when starting a clock that is already running.
var ErrClockRunning = errors.New("simulation clock already running")

// SimulatedAudioSubsystem implements an in-memory audio server for testing.
//
// Streams never touch real devices. Callbacks are driven either
// synchronously with Pump, which makes tests deterministic, or by a
// wall-clock ticker started with StartClock.
type SimulatedAudioSubsystem struct {
	config *interfaces.AudioSubsystemConfig

	mu             sync.RWMutex
	streams        []*SimulatedStream
	byName         map[string]*SimulatedStream
	createFailures map[string]error
	connectDelay   time.Duration
	hangConnect    bool
	negotiated     interfaces.Format
	eventLog       []StreamEvent

	pumpMu sync.Mutex
	cycles atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// StreamEvent represents a stream lifecycle event for testing verification
type StreamEvent struct {
	Stream    string
	Event     string
	Timestamp int64
	Error     error
}

// SimulationStats summarises the simulated subsystem.
type SimulationStats struct {
	StreamCount    int
	StreamingCount int
	Cycles         uint64
	Events         int
}

// NewSimulatedAudioSubsystem creates a new simulation implementation for testing
func NewSimulatedAudioSubsystem(config *interfaces.AudioSubsystemConfig) *SimulatedAudioSubsystem {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":    "NewSimulatedAudioSubsystem",
		"sample_rate": config.SampleRate,
		"quantum":     config.Quantum,
	}).Info("Creating simulated audio subsystem for testing")

	return &SimulatedAudioSubsystem{
		config:         config,
		byName:         make(map[string]*SimulatedStream),
		createFailures: make(map[string]error),
		eventLog:       make([]StreamEvent, 0),
	}
}

// CreateCapture implements IAudioSubsystem.CreateCapture with simulation
func (s *SimulatedAudioSubsystem) CreateCapture(config interfaces.StreamConfig, onData interfaces.CaptureFunc, onError interfaces.ErrorFunc) (interfaces.IStream, error) {
	config.Direction = interfaces.DirectionCapture
	st, err := s.create(config, onError)
	if err != nil {
		return nil, err
	}
	st.onCapture = onData
	return st, nil
}

// CreatePlayback implements IAudioSubsystem.CreatePlayback with simulation
func (s *SimulatedAudioSubsystem) CreatePlayback(config interfaces.StreamConfig, onData interfaces.PlaybackFunc, onError interfaces.ErrorFunc) (interfaces.IStream, error) {
	config.Direction = interfaces.DirectionPlayback
	st, err := s.create(config, onError)
	if err != nil {
		return nil, err
	}
	st.onPlayback = onData
	return st, nil
}

func (s *SimulatedAudioSubsystem) create(config interfaces.StreamConfig, onError interfaces.ErrorFunc) (*SimulatedStream, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "SimulatedAudioSubsystem.create",
		"stream":    config.Name,
		"direction": config.Direction.String(),
	}).Debug("Simulating stream creation")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.createFailures[config.Name]; ok {
		delete(s.createFailures, config.Name)
		s.logEventLocked(config.Name, "create_failed", err)
		return nil, err
	}

	format := s.negotiateLocked(config)
	st := &SimulatedStream{
		sub:          s,
		config:       config,
		format:       format,
		onError:      onError,
		block:        make([]float32, format.Quantum*format.Channels),
		connectDelay: s.connectDelay,
		hang:         s.hangConnect,
	}
	s.streams = append(s.streams, st)
	s.byName[config.Name] = st
	s.logEventLocked(config.Name, "created", nil)
	return st, nil
}

func (s *SimulatedAudioSubsystem) negotiateLocked(config interfaces.StreamConfig) interfaces.Format {
	f := interfaces.Format{
		Channels:   config.Channels,
		SampleRate: config.SampleRate,
		Quantum:    config.Quantum,
	}
	if f.Channels <= 0 {
		f.Channels = 2
	}
	if f.SampleRate <= 0 {
		f.SampleRate = s.config.SampleRate
	}
	if f.Quantum <= 0 {
		f.Quantum = s.config.Quantum
	}
	if s.negotiated.Channels > 0 {
		f.Channels = s.negotiated.Channels
	}
	if s.negotiated.SampleRate > 0 {
		f.SampleRate = s.negotiated.SampleRate
	}
	if s.negotiated.Quantum > 0 {
		f.Quantum = s.negotiated.Quantum
	}
	return f
}

// IsSimulation implements IAudioSubsystem.IsSimulation
func (s *SimulatedAudioSubsystem) IsSimulation() bool {
	return true
}

// FailNextCreate makes the next stream created with name fail with err.
func (s *SimulatedAudioSubsystem) FailNextCreate(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailures[name] = err
}

// SetConnectDelay makes streams created afterwards report StreamConnecting
// for d after Start.
func (s *SimulatedAudioSubsystem) SetConnectDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectDelay = d
}

// SetHangOnConnect makes streams created afterwards never finish connecting.
func (s *SimulatedAudioSubsystem) SetHangOnConnect(hang bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangConnect = hang
}

// SetNegotiatedFormat overrides the format streams created afterwards
// negotiate. Zero fields keep the requested value.
func (s *SimulatedAudioSubsystem) SetNegotiatedFormat(f interfaces.Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiated = f
}

// Stream returns the most recent stream created with name.
func (s *SimulatedAudioSubsystem) Stream(name string) (*SimulatedStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byName[name]
	return st, ok
}

// SetCaptureSource installs the generator filling blocks delivered by the
// named capture stream. Without a source capture streams deliver silence.
func (s *SimulatedAudioSubsystem) SetCaptureSource(name string, source func(block []float32)) error {
	st, ok := s.Stream(name)
	if !ok {
		return fmt.Errorf("stream %q not found in simulation", name)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.source = source
	return nil
}

// BlockStop makes the next Stop of the named stream wait until release is
// called. Later Stop calls are not blocked.
func (s *SimulatedAudioSubsystem) BlockStop(name string) (release func(), err error) {
	st, ok := s.Stream(name)
	if !ok {
		return nil, fmt.Errorf("stream %q not found in simulation", name)
	}
	gate := make(chan struct{})
	st.stopGate.Store(&gate)

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }, nil
}

// PlaybackOutput returns everything the named playback stream has played.
func (s *SimulatedAudioSubsystem) PlaybackOutput(name string) []float32 {
	st, ok := s.Stream(name)
	if !ok {
		return nil
	}
	return st.Played()
}

// Fail reports a fatal error on the named stream, as a device removal would.
func (s *SimulatedAudioSubsystem) Fail(name string, err error) error {
	st, ok := s.Stream(name)
	if !ok {
		return fmt.Errorf("stream %q not found in simulation", name)
	}
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "SimulatedAudioSubsystem.Fail",
		"stream":   name,
		"error":    err.Error(),
	}).Info("Simulating fatal stream error")

	st.fail(err)
	return nil
}

// Pump runs n audio cycles synchronously. In each cycle every streaming
// capture stream delivers one block, then every streaming playback stream
// requests one.
func (s *SimulatedAudioSubsystem) Pump(n int) {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()

	s.mu.RLock()
	streams := make([]*SimulatedStream, len(s.streams))
	copy(streams, s.streams)
	s.mu.RUnlock()

	for i := 0; i < n; i++ {
		for _, st := range streams {
			if st.config.Direction == interfaces.DirectionCapture {
				st.cycle()
			}
		}
		for _, st := range streams {
			if st.config.Direction == interfaces.DirectionPlayback {
				st.cycle()
			}
		}
		s.cycles.Add(1)
	}
}

// StartClock pumps one cycle per quantum of wall-clock time.
func (s *SimulatedAudioSubsystem) StartClock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrClockRunning
	}

	period := time.Duration(s.config.Quantum) * time.Second / time.Duration(s.config.SampleRate)
	if period <= 0 {
		period = 5 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Pump(1)
			}
		}
	}(s.done)

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedAudioSubsystem.StartClock",
		"period":   period,
	}).Info("Simulation clock started")
	return nil
}

// StopClock stops the wall-clock driver and waits for it to exit.
func (s *SimulatedAudioSubsystem) StopClock() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// GetStreamLog returns the stream event log for test verification
func (s *SimulatedAudioSubsystem) GetStreamLog() []StreamEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := make([]StreamEvent, len(s.eventLog))
	copy(log, s.eventLog)
	return log
}

// ClearStreamLog clears the event log for test cleanup
func (s *SimulatedAudioSubsystem) ClearStreamLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLog = make([]StreamEvent, 0)
}

// GetStats returns statistics about the simulation
func (s *SimulatedAudioSubsystem) GetStats() SimulationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SimulationStats{
		StreamCount: len(s.streams),
		Cycles:      s.cycles.Load(),
		Events:      len(s.eventLog),
	}
	for _, st := range s.streams {
		if st.State() == interfaces.StreamStreaming {
			stats.StreamingCount++
		}
	}
	return stats
}

func (s *SimulatedAudioSubsystem) logEvent(stream, event string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logEventLocked(stream, event, err)
}

func (s *SimulatedAudioSubsystem) logEventLocked(stream, event string, err error) {
	s.eventLog = append(s.eventLog, StreamEvent{
		Stream:    stream,
		Event:     event,
		Timestamp: time.Now().UnixNano(),
		Error:     err,
	})
}

func (s *SimulatedAudioSubsystem) remove(st *SimulatedStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.streams {
		if other == st {
			s.streams = append(s.streams[:i], s.streams[i+1:]...)
			break
		}
	}
	if s.byName[st.config.Name] == st {
		delete(s.byName, st.config.Name)
	}
	s.logEventLocked(st.config.Name, "closed", nil)
}
