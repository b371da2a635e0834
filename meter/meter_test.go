package meter

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBToLinearEndpoints(t *testing.T) {
	assert.Equal(t, 1.0, DBToLinear(0))
	assert.Equal(t, 0.0, DBToLinear(-60))
	assert.Equal(t, 0.0, DBToLinear(-90))
	assert.InDelta(t, 0.5011872, DBToLinear(-6), 1e-6)
}

func TestLinearToDBClampsToFloor(t *testing.T) {
	assert.Equal(t, FloorDB, LinearToDB(0))
	assert.Equal(t, FloorDB, LinearToDB(-1))
	assert.Equal(t, FloorDB, LinearToDB(1e-9))
	assert.InDelta(t, 0.0, LinearToDB(1), 1e-12)
}

func TestDBRoundTrip(t *testing.T) {
	for db := -59.5; db <= 0; db += 0.5 {
		assert.InDelta(t, db, LinearToDB(DBToLinear(db)), 1e-9, "db=%v", db)
	}
}

func TestObserveTracksPerChannelPeak(t *testing.T) {
	m := New(2, 0)
	m.Observe([]float32{0.1, -0.5, -0.25, 0.2}, 2)
	m.Observe([]float32{0.05, 0.1}, 2)

	s := m.Poll(time.Unix(100, 0))
	assert.InDelta(t, LinearToDB(0.25), s.LevelDB[0], 1e-6)
	assert.InDelta(t, LinearToDB(0.5), s.LevelDB[1], 1e-6)

	// Peaks reset after each poll.
	s = m.Poll(time.Unix(100, 0).Add(20 * time.Millisecond))
	assert.Equal(t, FloorDB, s.LevelDB[0])
	assert.Equal(t, FloorDB, s.LevelDB[1])
}

// Peak-hold never increases without new input and never drops below the
// current level.
func TestPeakHoldDecay(t *testing.T) {
	m := New(1, 20)
	start := time.Unix(0, 0)

	m.Observe([]float32{1.0}, 1)
	s := m.Poll(start)
	assert.InDelta(t, 0.0, s.PeakDB[0], 1e-9)

	prev := s.PeakDB[0]
	now := start
	for i := 0; i < 100; i++ {
		now = now.Add(50 * time.Millisecond)
		s = m.Poll(now)
		assert.LessOrEqual(t, s.PeakDB[0], prev)
		assert.GreaterOrEqual(t, s.PeakDB[0], s.LevelDB[0])
		assert.GreaterOrEqual(t, s.PeakDB[0], FloorDB)
		prev = s.PeakDB[0]
	}
	assert.Equal(t, FloorDB, prev)
}

func TestPeakHoldDecayRate(t *testing.T) {
	m := New(1, 10)
	start := time.Unix(0, 0)
	m.Observe([]float32{1.0}, 1)
	m.Poll(start)

	// A quieter signal at -40 dB: after one second the hold has fallen 10 dB.
	quiet := float32(DBToLinear(-40))
	m.Observe([]float32{quiet}, 1)
	s := m.Poll(start.Add(time.Second))
	assert.InDelta(t, -10.0, s.PeakDB[0], 1e-6)
	assert.InDelta(t, -40.0, s.LevelDB[0], 1e-4)

	// The hold never drops below the level even after a long gap.
	m.Observe([]float32{quiet}, 1)
	s = m.Poll(start.Add(time.Minute))
	assert.InDelta(t, s.LevelDB[0], s.PeakDB[0], 1e-9)
}

func TestStereoMirrorsMono(t *testing.T) {
	m := New(1, 0)
	m.Observe([]float32{0.5}, 1)
	l, r, pl, pr := m.Poll(time.Unix(1, 0)).Stereo()
	assert.Equal(t, l, r)
	assert.Equal(t, pl, pr)
}

func TestObserveScaled(t *testing.T) {
	m := New(2, 0)
	m.ObserveScaled([]float32{0.5, -1.0}, 2, 0.5)
	s := m.Poll(time.Unix(1, 0))
	assert.InDelta(t, -12.04, s.LevelDB[0], 0.01)
	assert.InDelta(t, -6.02, s.LevelDB[1], 0.01)

	m.ObserveScaled([]float32{1.0, 1.0}, 2, 0)
	s = m.Poll(time.Unix(2, 0))
	assert.Equal(t, FloorDB, s.LevelDB[0])
	assert.Equal(t, FloorDB, s.LevelDB[1])
}

func TestConcurrentObserveKeepsMax(t *testing.T) {
	m := New(1, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Observe([]float32{float32(g+1) / 10}, 1)
			}
		}(g)
	}
	wg.Wait()

	s := m.Poll(time.Unix(1, 0))
	assert.InDelta(t, LinearToDB(0.8), s.LevelDB[0], 1e-6)
}

func TestNewClampsChannels(t *testing.T) {
	assert.Equal(t, 1, New(0, 0).Channels())
	assert.Equal(t, 8, New(32, 0).Channels())
	assert.False(t, math.IsNaN(New(2, 0).Snapshot().PeakDB[1]))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Since(t time.Time) time.Duration { return f.Now().Sub(t) }

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestPollerPollOnce(t *testing.T) {
	p := NewPoller(30)
	clock := &fakeClock{now: time.Unix(10, 0)}
	p.SetTimeProvider(clock)

	a := New(1, 0)
	b := New(2, 0)
	p.Register("a", a)
	p.Register("b", b)

	var seen map[string]Sample
	p.OnPoll(func(now time.Time, samples map[string]Sample) {
		assert.Equal(t, clock.Now(), now)
		seen = samples
	})

	a.Observe([]float32{0.5}, 1)
	samples := p.PollOnce()
	require.Len(t, samples, 2)
	assert.Equal(t, samples, seen)
	assert.InDelta(t, LinearToDB(0.5), samples["a"].LevelDB[0], 1e-6)

	p.Unregister("a")
	clock.advance(time.Second)
	assert.Len(t, p.PollOnce(), 1)
}

func TestPollerLifecycle(t *testing.T) {
	p := NewPoller(120)
	assert.False(t, p.IsRunning())

	polled := make(chan struct{}, 1)
	p.OnPoll(func(time.Time, map[string]Sample) {
		select {
		case polled <- struct{}{}:
		default:
		}
	})

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)
	assert.True(t, p.IsRunning())

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not tick")
	}

	p.Stop()
	assert.False(t, p.IsRunning())
	p.Stop()

	require.NoError(t, p.Start())
	p.Stop()
}

func TestNewPollerInvalidRate(t *testing.T) {
	assert.Equal(t, time.Second/30, NewPoller(0).Interval())
	assert.Equal(t, time.Second/60, NewPoller(60).Interval())
}
