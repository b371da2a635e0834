package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/noisegate"
	simtest "github.com/opd-ai/vmix/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passModel copies frames through unchanged and reports a fixed VAD.
type passModel struct{ vad float32 }

func (m *passModel) FrameSize() int      { return noisegate.FrameSize }
func (m *passModel) InputScale() float32 { return 1 }
func (m *passModel) ProcessFrame(out, in []float32) float32 {
	copy(out, in)
	return m.vad
}
func (m *passModel) Reset()       {}
func (m *passModel) Close() error { return nil }
func (m *passModel) Name() string { return "pass" }

func passFactory(vad float32) noisegate.ModelFactory {
	return func() (noisegate.Model, error) { return &passModel{vad: vad}, nil }
}

func newSim() *simtest.SimulatedAudioSubsystem {
	return simtest.NewSimulatedAudioSubsystem(&interfaces.AudioSubsystemConfig{
		UseSimulation:  true,
		SampleRate:     48000,
		Quantum:        64,
		ConnectTimeout: 1000,
	})
}

func testConfig(name string, channels int) Config {
	cfg := DefaultConfig(name, KindOutput)
	cfg.Channels = channels
	cfg.Quantum = 64
	cfg.RingFrames = 256
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.DrainTimeout = 50 * time.Millisecond
	cfg.CloseTimeout = 500 * time.Millisecond
	cfg.NoiseModel = passFactory(1)
	return cfg
}

func openBridge(t *testing.T, sim *simtest.SimulatedAudioSubsystem, cfg Config) *Bridge {
	t.Helper()
	b, err := New(sim, cfg)
	require.NoError(t, err)
	require.NoError(t, b.Open(context.Background()))
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

// counterSource produces a deterministic non-repeating-looking sequence.
func counterSource() func([]float32) {
	n := 0
	return func(block []float32) {
		for i := range block {
			block[i] = float32(n%1000) / 1000
			n++
		}
	}
}

func expected(n int) []float32 {
	out := make([]float32, n)
	counterSource()(out)
	return out
}

func constantSource(v float32) func([]float32) {
	return func(block []float32) {
		for i := range block {
			block[i] = v
		}
	}
}

func TestOpenNegotiatesFormat(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))

	assert.Equal(t, StateRunning, b.State())
	assert.Equal(t, interfaces.Format{Channels: 2, SampleRate: 48000, Quantum: 64}, b.Stats().Format)

	capName, playName := b.Config().StreamNames()
	assert.Equal(t, "vmix.music.sink", capName)
	assert.Equal(t, "vmix.music.playback", playName)

	capStream, ok := sim.Stream(capName)
	require.True(t, ok)
	assert.True(t, capStream.Config().Virtual)
	playStream, ok := sim.Stream(playName)
	require.True(t, ok)
	assert.False(t, playStream.Config().Virtual)
}

func TestPassThroughPreservesSamples(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))
	capName, playName := b.Config().StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, counterSource()))

	sim.Pump(10)

	assert.Equal(t, expected(10*64*2), sim.PlaybackOutput(playName))
	stats := b.Stats()
	assert.Zero(t, stats.Overruns)
	assert.Zero(t, stats.Underruns)
	assert.Zero(t, stats.BufferedFrames)
}

func TestGainRampsOverFixedFrames(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 1))
	capName, playName := b.Config().StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, constantSource(1)))

	sim.Pump(1)
	b.SetGain(0.5)
	sim.Pump(GainRampFrames / 64)
	sim.Pump(1)

	out := sim.PlaybackOutput(playName)
	require.Len(t, out, 64+GainRampFrames+64)
	for _, s := range out[:64] {
		assert.Equal(t, float32(1), s)
	}

	ramp := out[64 : 64+GainRampFrames]
	assert.InDelta(t, 1-0.5/GainRampFrames, ramp[0], 1e-5)
	for i := 1; i < len(ramp); i++ {
		assert.LessOrEqual(t, ramp[i], ramp[i-1])
	}
	assert.Equal(t, float32(0.5), ramp[len(ramp)-1])

	for _, s := range out[64+GainRampFrames:] {
		assert.Equal(t, float32(0.5), s)
	}
}

func TestMuteRampsToSilence(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))
	capName, playName := b.Config().StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, constantSource(0.25)))

	b.SetMute(true)
	assert.True(t, b.Muted())
	sim.Pump(GainRampFrames/64 + 1)

	out := sim.PlaybackOutput(playName)
	assert.Greater(t, out[0], float32(0))
	for _, s := range out[len(out)-128:] {
		assert.Equal(t, float32(0), s)
	}

	b.SetMute(false)
	sim.Pump(GainRampFrames/64 + 1)
	out = sim.PlaybackOutput(playName)
	assert.Equal(t, float32(0.25), out[len(out)-1])
}

func TestOverrunDropsWholeBlocks(t *testing.T) {
	sim := newSim()
	cfg := testConfig("music", 1)
	cfg.RingFrames = 128
	b := openBridge(t, sim, cfg)
	_, playName := cfg.StreamNames()

	play, ok := sim.Stream(playName)
	require.True(t, ok)
	require.NoError(t, play.Stop())

	sim.Pump(4)

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.Overruns)
	assert.Equal(t, 128, stats.BufferedFrames)
}

func TestOverrunBlockIsStillMetered(t *testing.T) {
	sim := newSim()
	cfg := testConfig("music", 1)
	cfg.RingFrames = 128
	b := openBridge(t, sim, cfg)
	capName, playName := cfg.StreamNames()

	play, ok := sim.Stream(playName)
	require.True(t, ok)
	require.NoError(t, play.Stop())

	blocks := 0
	require.NoError(t, sim.SetCaptureSource(capName, func(block []float32) {
		v := float32(0)
		if blocks >= 2 {
			v = 0.5
		}
		for i := range block {
			block[i] = v
		}
		blocks++
	}))

	// Two silent blocks fill the ring.
	sim.Pump(2)
	s := b.Meter().Poll(time.Now())
	assert.Equal(t, -60.0, s.LevelDB[0])
	assert.Equal(t, uint64(0), b.Stats().Overruns)

	sim.Pump(1)
	require.Equal(t, uint64(1), b.Stats().Overruns)
	s = b.Meter().Poll(time.Now())
	assert.InDelta(t, -6.02, s.LevelDB[0], 0.01)

	b.SetMute(true)
	sim.Pump(1)
	require.Equal(t, uint64(2), b.Stats().Overruns)
	s = b.Meter().Poll(time.Now())
	assert.Equal(t, -60.0, s.LevelDB[0])
}

func TestUnderrunPadsSilence(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))
	capName, playName := b.Config().StreamNames()

	capStream, ok := sim.Stream(capName)
	require.True(t, ok)
	require.NoError(t, capStream.Stop())

	sim.Pump(3)

	assert.Equal(t, uint64(3), b.Stats().Underruns)
	out := sim.PlaybackOutput(playName)
	require.Len(t, out, 3*64*2)
	for _, s := range out {
		assert.Equal(t, float32(0), s)
	}
}

func TestCloseDrainsBufferedAudio(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 1))
	capName, playName := b.Config().StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, counterSource()))

	play, ok := sim.Stream(playName)
	require.True(t, ok)
	require.NoError(t, play.Stop())
	sim.Pump(2)
	require.Equal(t, 128, b.Stats().BufferedFrames)
	require.NoError(t, play.Start())

	done := make(chan error, 1)
	go func() { done <- b.Close(context.Background()) }()

pump:
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			break pump
		default:
			sim.Pump(1)
			time.Sleep(time.Millisecond)
		}
	}

	out := play.Played()
	require.GreaterOrEqual(t, len(out), 128)
	assert.Equal(t, expected(128), out[:128])

	stats := b.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.Underruns)
}

func TestOpenDeviceUnavailable(t *testing.T) {
	sim := newSim()
	cfg := testConfig("music", 2)
	capName, playName := cfg.StreamNames()
	boom := errors.New("no such device")
	sim.FailNextCreate(playName, boom)

	b, err := New(sim, cfg)
	require.NoError(t, err)
	err = b.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, b.State())

	_, ok := sim.Stream(capName)
	assert.False(t, ok, "capture stream must be closed on rollback")

	assert.ErrorIs(t, b.Open(context.Background()), ErrInvalidState)
	assert.NoError(t, b.Close(context.Background()))
}

func TestOpenTimesOut(t *testing.T) {
	sim := newSim()
	sim.SetHangOnConnect(true)
	cfg := testConfig("music", 2)
	cfg.ConnectTimeout = 30 * time.Millisecond

	b, err := New(sim, cfg)
	require.NoError(t, err)

	start := time.Now()
	err = b.Open(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, sim.GetStats().StreamCount)
}

func TestOpenHonoursContext(t *testing.T) {
	sim := newSim()
	sim.SetHangOnConnect(true)
	b, err := New(sim, testConfig("music", 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = b.Open(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sim.GetStats().StreamCount)
}

func TestFatalStreamErrorReportedOnce(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))
	capName, playName := b.Config().StreamNames()

	boom := errors.New("device removed")
	require.NoError(t, sim.Fail(capName, boom))
	require.NoError(t, sim.Fail(playName, errors.New("second failure")))

	select {
	case err := <-b.Errors():
		assert.ErrorIs(t, err, ErrStreamFailed)
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("fatal error not reported")
	}
	select {
	case err := <-b.Errors():
		t.Fatalf("unexpected second report: %v", err)
	default:
	}

	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Err(), boom)

	assert.NoError(t, b.Close(context.Background()))
	_, ok := sim.Stream(capName)
	assert.False(t, ok)
}

func TestNoCallbacksAfterClose(t *testing.T) {
	sim := newSim()
	b := openBridge(t, sim, testConfig("music", 2))
	capName, playName := b.Config().StreamNames()
	capStream, _ := sim.Stream(capName)
	playStream, _ := sim.Stream(playName)

	sim.Pump(2)
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))

	capCalls, playCalls := capStream.Callbacks(), playStream.Callbacks()
	sim.Pump(5)
	assert.Equal(t, capCalls, capStream.Callbacks())
	assert.Equal(t, playCalls, playStream.Callbacks())
	assert.Equal(t, 0, sim.GetStats().StreamCount)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Open(context.Background()), ErrInvalidState)
}

func TestNoiseSuppressionDelaysByOneFrame(t *testing.T) {
	sim := newSim()
	cfg := testConfig("voice", 1)
	cfg.Quantum = 160
	cfg.NoiseSuppression = true
	b := openBridge(t, sim, cfg)
	capName, playName := cfg.StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, counterSource()))

	sim.Pump(6)

	out := sim.PlaybackOutput(playName)
	require.Len(t, out, 960)
	src := expected(960)
	for i := 0; i < noisegate.FrameSize; i++ {
		assert.Equal(t, float32(0), out[i])
	}
	assert.Equal(t, src[:960-noisegate.FrameSize], out[noisegate.FrameSize:])
	assert.Zero(t, b.Stats().GateStarvations)
}

func TestVADThresholdGatesFrames(t *testing.T) {
	sim := newSim()
	cfg := testConfig("voice", 1)
	cfg.Quantum = 160
	cfg.NoiseSuppression = true
	cfg.NoiseModel = passFactory(0.3)
	b := openBridge(t, sim, cfg)
	capName, playName := cfg.StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, counterSource()))

	sim.Pump(6)
	for _, s := range sim.PlaybackOutput(playName) {
		require.Equal(t, float32(0), s)
	}
	assert.Equal(t, uint64(2), b.Stats().GatedFrames)

	b.SetVADThreshold(20)
	assert.Equal(t, 20, b.VADThreshold())
	sim.Pump(6)

	out := sim.PlaybackOutput(playName)
	require.Len(t, out, 1920)
	assert.Equal(t, expected(1440)[960:], out[1440:])
	assert.Equal(t, uint64(2), b.Stats().GatedFrames)
}

func TestEnableNoiseSuppressionAtRuntime(t *testing.T) {
	sim := newSim()
	cfg := testConfig("voice", 1)
	cfg.Quantum = 160
	b := openBridge(t, sim, cfg)
	capName, playName := cfg.StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, constantSource(0.5)))

	sim.Pump(1)
	b.EnableNoiseSuppression(true)
	assert.True(t, b.NoiseSuppression())
	sim.Pump(3)

	out := sim.PlaybackOutput(playName)
	require.Len(t, out, 640)
	assert.Equal(t, float32(0.5), out[0])
	for _, s := range out[160:640] {
		assert.Equal(t, float32(0), s, "flushed gate starts with one frame of silence")
	}

	sim.Pump(3)
	out = sim.PlaybackOutput(playName)
	assert.Equal(t, float32(0.5), out[len(out)-1])
}

func TestReadMeter(t *testing.T) {
	sim := newSim()
	b, err := New(sim, testConfig("music", 2))
	require.NoError(t, err)

	l, r, pl, pr := b.ReadMeter()
	assert.Equal(t, -60.0, l)
	assert.Equal(t, -60.0, r)
	assert.Equal(t, -60.0, pl)
	assert.Equal(t, -60.0, pr)

	require.NoError(t, b.Open(context.Background()))
	defer b.Close(context.Background())
	capName, _ := b.Config().StreamNames()
	require.NoError(t, sim.SetCaptureSource(capName, constantSource(0.5)))

	sim.Pump(2)
	b.Meter().Poll(time.Now())

	l, r, pl, pr = b.ReadMeter()
	assert.InDelta(t, -6.02, l, 0.01)
	assert.InDelta(t, -6.02, r, 0.01)
	assert.InDelta(t, -6.02, pl, 0.01)
	assert.InDelta(t, -6.02, pr, 0.01)
}

func TestSettersClamp(t *testing.T) {
	b, err := New(newSim(), testConfig("music", 2))
	require.NoError(t, err)

	b.SetGain(3)
	assert.Equal(t, 1.5, b.Gain())
	b.SetGain(-1)
	assert.Equal(t, 0.0, b.Gain())
	b.SetVADThreshold(150)
	assert.Equal(t, 100, b.VADThreshold())
	b.SetVADThreshold(-5)
	assert.Equal(t, 0, b.VADThreshold())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, testConfig("music", 2))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig("music", 0)
	_, err = New(newSim(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig("", 2)
	_, err = New(newSim(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig("music", 2)
	cfg.Gain = 2
	_, err = New(newSim(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInputKindStreams(t *testing.T) {
	sim := newSim()
	cfg := testConfig("mic", 1)
	cfg.Kind = KindInput
	cfg.Target = "alsa_input.usb"
	b := openBridge(t, sim, cfg)

	capName, playName := b.Config().StreamNames()
	assert.Equal(t, "vmix.mic.capture", capName)
	assert.Equal(t, "vmix.mic.source", playName)

	capStream, _ := sim.Stream(capName)
	assert.Equal(t, "alsa_input.usb", capStream.Config().Target)
	playStream, _ := sim.Stream(playName)
	assert.True(t, playStream.Config().Virtual)
}

// recordingSubsystem keeps the stream configs a bridge requests before the
// simulation normalizes them.
type recordingSubsystem struct {
	*simtest.SimulatedAudioSubsystem

	mu       sync.Mutex
	requests []interfaces.StreamConfig
}

func (r *recordingSubsystem) record(cfg interfaces.StreamConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, cfg)
}

func (r *recordingSubsystem) CreateCapture(cfg interfaces.StreamConfig, onData interfaces.CaptureFunc, onError interfaces.ErrorFunc) (interfaces.IStream, error) {
	r.record(cfg)
	return r.SimulatedAudioSubsystem.CreateCapture(cfg, onData, onError)
}

func (r *recordingSubsystem) CreatePlayback(cfg interfaces.StreamConfig, onData interfaces.PlaybackFunc, onError interfaces.ErrorFunc) (interfaces.IStream, error) {
	r.record(cfg)
	return r.SimulatedAudioSubsystem.CreatePlayback(cfg, onData, onError)
}

func TestStreamRequestsCarryDirection(t *testing.T) {
	for _, kind := range []Kind{KindOutput, KindInput} {
		t.Run(kind.String(), func(t *testing.T) {
			rec := &recordingSubsystem{SimulatedAudioSubsystem: newSim()}
			cfg := testConfig("dir", 1)
			cfg.Kind = kind
			b, err := New(rec, cfg)
			require.NoError(t, err)
			require.NoError(t, b.Open(context.Background()))
			defer b.Close(context.Background())

			capName, playName := cfg.StreamNames()
			rec.mu.Lock()
			defer rec.mu.Unlock()
			require.Len(t, rec.requests, 2)
			for _, req := range rec.requests {
				switch req.Name {
				case capName:
					assert.Equal(t, interfaces.DirectionCapture, req.Direction)
				case playName:
					assert.Equal(t, interfaces.DirectionPlayback, req.Direction)
				default:
					t.Errorf("unexpected stream %q", req.Name)
				}
			}
		})
	}
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("source")))
	assert.Equal(t, KindInput, k)
	text, err := KindOutput.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "output", string(text))
	assert.Error(t, k.UnmarshalText([]byte("sideways")))
}

func TestConcurrentControlWithClock(t *testing.T) {
	sim := newSim()
	b, err := New(sim, testConfig("music", 2))
	require.NoError(t, err)
	require.NoError(t, sim.StartClock())
	defer sim.StopClock()

	require.NoError(t, b.Open(context.Background()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.SetGain(float64(i%15) / 10)
			b.SetMute(i%7 == 0)
			b.EnableNoiseSuppression(i%3 == 0)
			b.SetVADThreshold(i % 101)
			_ = b.Stats()
		}
	}()
	time.Sleep(30 * time.Millisecond)
	wg.Wait()

	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, StateClosed, b.State())
}

func TestPollUntil(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), time.Now().Add(time.Second), func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	boom := errors.New("boom")
	err = pollUntil(context.Background(), time.Now().Add(time.Second), func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	err = pollUntil(context.Background(), time.Now().Add(10*time.Millisecond), func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}
