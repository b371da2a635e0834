package vmix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/vmix/bridge"
	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/meter"
	"github.com/opd-ai/vmix/routing"
	"github.com/sirupsen/logrus"
)

// Mixer owns every channel bridge of one process. It is created at startup
// and torn down with Shutdown, which closes every bridge it still holds.
type Mixer struct {
	subsystem interfaces.IAudioSubsystem
	options   *Options
	rules     *routing.Engine
	poller    *meter.Poller

	// lifecycle serializes channel creation, destruction and shutdown.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	channels  map[string]*Channel
	byName    map[string]*Channel
	order     []string
	producers map[string]*Producer
	closed    bool

	reporter *reporter
	wg       sync.WaitGroup
}

// NewMixer creates a mixer bound to an audio subsystem. Options may be nil.
func NewMixer(subsystem interfaces.IAudioSubsystem, options *Options) (*Mixer, error) {
	if subsystem == nil {
		return nil, fmt.Errorf("audio subsystem is required")
	}
	if options == nil {
		options = NewOptions()
	}
	if err := limits.ValidateFormat(options.Channels, options.SampleRate, options.Quantum); err != nil {
		return nil, err
	}

	m := &Mixer{
		subsystem: subsystem,
		options:   options,
		rules:     routing.NewEngine(),
		poller:    meter.NewPoller(options.MeterRateHz),
		channels:  make(map[string]*Channel),
		byName:    make(map[string]*Channel),
		producers: make(map[string]*Producer),
		reporter:  newReporter(options.ReportInterval),
	}
	m.poller.OnPoll(m.onPoll)

	logrus.WithFields(logrus.Fields{
		"function":    "NewMixer",
		"simulation":  subsystem.IsSimulation(),
		"sample_rate": options.SampleRate,
		"channels":    options.Channels,
		"noise_model": options.NoiseModel.Kind,
	}).Info("Mixer created")

	return m, nil
}

// Rules returns the routing rule engine.
func (m *Mixer) Rules() *routing.Engine { return m.rules }

// Start begins meter polling and counter reporting.
func (m *Mixer) Start() error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrMixerClosed
	}
	return m.poller.Start()
}

// PollMeters polls every channel meter immediately.
func (m *Mixer) PollMeters() {
	m.poller.PollOnce()
}

// CreateChannel creates and opens a new channel with default settings.
func (m *Mixer) CreateChannel(ctx context.Context, name string, kind ChannelKind, target string) (ChannelState, error) {
	return m.RestoreChannel(ctx, ChannelState{
		Name:         name,
		Kind:         kind,
		Target:       target,
		Gain:         1,
		VADThreshold: m.options.VADThreshold,
	})
}

// RestoreChannel creates and opens a channel from a record. An empty ID is
// replaced by a new one. Producers in the record are ignored; producers are
// routed again as they appear.
func (m *Mixer) RestoreChannel(ctx context.Context, state ChannelState) (ChannelState, error) {
	if state.Name == "" {
		return ChannelState{}, fmt.Errorf("%w: empty name", ErrInvalidChannel)
	}
	if err := limits.ValidateGain(state.Gain); err != nil {
		return ChannelState{}, fmt.Errorf("%w: %w", ErrInvalidChannel, err)
	}
	if err := limits.ValidateVADThreshold(state.VADThreshold); err != nil {
		return ChannelState{}, fmt.Errorf("%w: %w", ErrInvalidChannel, err)
	}
	if state.ID == "" {
		state.ID = uuid.NewString()
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	closed := m.closed
	_, idTaken := m.channels[state.ID]
	_, nameTaken := m.byName[state.Name]
	m.mu.RUnlock()
	if closed {
		return ChannelState{}, ErrMixerClosed
	}
	if idTaken || nameTaken {
		return ChannelState{}, fmt.Errorf("%w: %s", ErrChannelExists, state.Name)
	}

	b, err := bridge.New(m.subsystem, m.options.bridgeConfig(state))
	if err != nil {
		return ChannelState{}, fmt.Errorf("%w: %w", ErrInvalidChannel, err)
	}
	if err := b.Open(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.RestoreChannel",
			"channel":  state.Name,
			"error":    err.Error(),
		}).Warn("Channel activation failed")
		return ChannelState{}, err
	}

	c := &Channel{
		id:     state.ID,
		name:   state.Name,
		kind:   state.Kind,
		target: state.Target,
		bridge: b,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.channels[c.id] = c
	m.byName[c.name] = c
	m.order = append(m.order, c.id)
	m.mu.Unlock()

	m.poller.Register(c.id, b.Meter())
	m.wg.Add(1)
	go m.watch(c)

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.RestoreChannel",
		"channel":  c.name,
		"id":       c.id,
		"kind":     c.kind.String(),
	}).Info("Channel created")

	m.RouteUnassigned()
	return c.State(), nil
}

// watch reports a fatal stream error for one channel.
func (m *Mixer) watch(c *Channel) {
	defer m.wg.Done()
	select {
	case err := <-c.bridge.Errors():
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.watch",
			"channel":  c.name,
			"id":       c.id,
			"error":    err.Error(),
		}).Error("Channel stream failed, channel is inactive")
	case <-c.done:
	}
}

// DestroyChannel closes a channel and forgets it. Its producers become
// unassigned. If the close fails the channel stays registered, inactive,
// and a later DestroyChannel retries the release.
func (m *Mixer) DestroyChannel(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	if err := m.closeChannel(ctx, c); err != nil {
		return err
	}

	m.mu.Lock()
	m.removeChannelLocked(c)
	m.mu.Unlock()
	return nil
}

func (m *Mixer) removeChannelLocked(c *Channel) {
	delete(m.channels, c.id)
	delete(m.byName, c.name)
	for i, id := range m.order {
		if id == c.id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for _, p := range m.producers {
		if p.Channel == c.id {
			p.Channel = ""
			p.Manual = false
		}
	}
}

func (m *Mixer) closeChannel(ctx context.Context, c *Channel) error {
	m.poller.Unregister(c.id)
	c.stop.Do(func() { close(c.done) })

	if err := c.bridge.Close(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.closeChannel",
			"channel":  c.name,
			"id":       c.id,
			"error":    err.Error(),
		}).Error("Channel did not close cleanly")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.closeChannel",
		"channel":  c.name,
		"id":       c.id,
	}).Info("Channel destroyed")
	return nil
}

// Channel returns the live channel with the given id.
func (m *Mixer) Channel(id string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return c, nil
}

// ChannelByName returns the live channel with the given name.
func (m *Mixer) ChannelByName(name string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return c, nil
}

// Channels returns the records of every channel in creation order.
func (m *Mixer) Channels() []ChannelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChannelState, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.channels[id].State())
	}
	return out
}

// SetGain sets a channel's linear gain, clamped to [0, 1.5].
func (m *Mixer) SetGain(id string, gain float64) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	c.bridge.SetGain(gain)
	return nil
}

// SetMute mutes or unmutes a channel.
func (m *Mixer) SetMute(id string, muted bool) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	c.bridge.SetMute(muted)
	return nil
}

// EnableNoiseSuppression turns a channel's noise gate on or off.
func (m *Mixer) EnableNoiseSuppression(id string, enabled bool) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	c.bridge.EnableNoiseSuppression(enabled)
	return nil
}

// SetVADThreshold sets a channel's voice-activity threshold in percent,
// clamped to [0, 100].
func (m *Mixer) SetVADThreshold(id string, percent int) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	c.bridge.SetVADThreshold(percent)
	return nil
}

// ReadMeter returns a channel's left and right level and peak-hold in dB.
func (m *Mixer) ReadMeter(id string) (levelLeft, levelRight, peakLeft, peakRight float64, err error) {
	c, err := m.Channel(id)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	levelLeft, levelRight, peakLeft, peakRight = c.ReadMeter()
	return levelLeft, levelRight, peakLeft, peakRight, nil
}

// Stats returns a channel's bridge counters.
func (m *Mixer) Stats(id string) (bridge.Stats, error) {
	c, err := m.Channel(id)
	if err != nil {
		return bridge.Stats{}, err
	}
	return c.Stats(), nil
}

// Shutdown stops polling and closes every channel. It keeps going after a
// failed close and returns all errors joined. Channels that failed to close
// stay registered, so calling Shutdown again retries them.
func (m *Mixer) Shutdown(ctx context.Context) error {
	m.poller.Stop()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.closed = true
	channels := make([]*Channel, 0, len(m.order))
	for _, id := range m.order {
		channels = append(channels, m.channels[id])
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.Shutdown",
		"channels": len(channels),
	}).Info("Shutting down mixer")

	var errs []error
	for _, c := range channels {
		if err := m.closeChannel(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", c.name, err))
			continue
		}
		m.mu.Lock()
		m.removeChannelLocked(c)
		m.mu.Unlock()
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

func (m *Mixer) onPoll(now time.Time, _ map[string]meter.Sample) {
	m.mu.RLock()
	stats := make(map[string]bridge.Stats, len(m.channels))
	names := make(map[string]string, len(m.channels))
	for id, c := range m.channels {
		stats[id] = c.Stats()
		names[id] = c.name
	}
	m.mu.RUnlock()

	m.reporter.observe(now, stats, names)
}
