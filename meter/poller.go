package meter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when starting a poller that is already running.
var ErrAlreadyRunning = errors.New("poller is already running")

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Poller drives Poll on a set of meters at a fixed rate, independently of
// the audio threads feeding them.
//
// Example usage:
//
//	poller := meter.NewPoller(30)
//	poller.Register("music", m)
//	poller.OnPoll(func(now time.Time, samples map[string]meter.Sample) {
//	    // publish samples
//	})
//	poller.Start()
//	defer poller.Stop()
type Poller struct {
	interval time.Duration
	clock    TimeProvider

	mu      sync.RWMutex
	running bool
	meters  map[string]*Meter
	onPoll  func(now time.Time, samples map[string]Sample)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller ticking rateHz times per second.
// Rates outside 1..240 fall back to 30 Hz.
func NewPoller(rateHz int) *Poller {
	if rateHz < 1 || rateHz > 240 {
		logrus.WithFields(logrus.Fields{
			"function": "NewPoller",
			"rate_hz":  rateHz,
		}).Warn("Invalid meter poll rate, using default")
		rateHz = 30
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPoller",
		"rate_hz":  rateHz,
	}).Debug("Creating meter poller")

	return &Poller{
		interval: time.Second / time.Duration(rateHz),
		clock:    DefaultTimeProvider{},
		meters:   make(map[string]*Meter),
	}
}

// SetTimeProvider replaces the clock used to timestamp polls.
func (p *Poller) SetTimeProvider(tp TimeProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	p.clock = tp
}

// Interval returns the time between polls.
func (p *Poller) Interval() time.Duration { return p.interval }

// Register adds a meter under id, replacing any meter with the same id.
func (p *Poller) Register(id string, m *Meter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meters[id] = m
}

// Unregister stops polling the meter registered under id.
func (p *Poller) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.meters, id)
}

// OnPoll registers a callback invoked after every poll with fresh samples.
func (p *Poller) OnPoll(cb func(now time.Time, samples map[string]Sample)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPoll = cb
}

// Start begins periodic polling.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx, p.done)

	logrus.WithFields(logrus.Fields{
		"function": "Poller.Start",
		"interval": p.interval,
	}).Info("Meter poller started")
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done

	logrus.WithFields(logrus.Fields{
		"function": "Poller.Stop",
	}).Info("Meter poller stopped")
}

// IsRunning returns whether the poller is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PollOnce polls every registered meter immediately and runs the callback.
func (p *Poller) PollOnce() map[string]Sample {
	p.mu.RLock()
	now := p.clock.Now()
	meters := make(map[string]*Meter, len(p.meters))
	for id, m := range p.meters {
		meters[id] = m
	}
	cb := p.onPoll
	p.mu.RUnlock()

	samples := make(map[string]Sample, len(meters))
	for id, m := range meters {
		samples[id] = m.Poll(now)
	}
	if cb != nil {
		cb(now, samples)
	}
	return samples
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}
