package plugin

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/opd-ai/vmix/noisegate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	vad    float32
	closed bool
}

func (m *fakeModel) FrameSize() int      { return noisegate.FrameSize }
func (m *fakeModel) InputScale() float32 { return 1 }
func (m *fakeModel) ProcessFrame(out, in []float32) float32 {
	copy(out, in)
	return m.vad
}
func (m *fakeModel) Reset()       {}
func (m *fakeModel) Close() error { m.closed = true; return nil }
func (m *fakeModel) Name() string { return "fake" }

func fakeRegistry(vad float32) (*Registry, *[]*fakeModel) {
	var models []*fakeModel
	r := NewRegistry(func() (noisegate.Model, error) {
		m := &fakeModel{vad: vad}
		models = append(models, m)
		return m, nil
	})
	return r, &models
}

func fill(buf []float32, v float32) {
	for i := range buf {
		buf[i] = v
	}
}

func ptr(buf []float32) unsafe.Pointer { return unsafe.Pointer(&buf[0]) }

func TestPortLayout(t *testing.T) {
	ports := Ports()
	assert.Equal(t, 3, len(ports))

	th := ports[PortThreshold]
	assert.True(t, th.Control)
	assert.True(t, th.Input)
	assert.Equal(t, float32(0), th.Min)
	assert.Equal(t, float32(100), th.Max)
	assert.Equal(t, float32(50), th.Default)

	assert.False(t, ports[PortInput].Control)
	assert.True(t, ports[PortInput].Input)
	assert.False(t, ports[PortOutput].Control)
	assert.False(t, ports[PortOutput].Input)
}

func TestLifecyclePassesVoiceWithOneFrameLatency(t *testing.T) {
	r, models := fakeRegistry(1)

	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	require.NotZero(t, h)
	assert.Equal(t, 1, r.Live())

	threshold := []float32{50}
	in := make([]float32, noisegate.FrameSize)
	out := make([]float32, noisegate.FrameSize)
	require.NoError(t, r.ConnectPort(h, PortThreshold, ptr(threshold)))
	require.NoError(t, r.ConnectPort(h, PortInput, ptr(in)))
	require.NoError(t, r.ConnectPort(h, PortOutput, ptr(out)))
	require.NoError(t, r.Activate(h))

	fill(in, 0.25)
	fill(out, 9)
	require.NoError(t, r.Run(h, len(in)))
	for i, s := range out {
		require.Equalf(t, float32(0), s, "sample %d should be latency silence", i)
	}

	fill(in, 0.5)
	require.NoError(t, r.Run(h, len(in)))
	for i, s := range out {
		require.Equalf(t, float32(0.25), s, "sample %d", i)
	}

	require.NoError(t, r.Cleanup(h))
	assert.Equal(t, 0, r.Live())
	require.Len(t, *models, 1)
	assert.True(t, (*models)[0].closed)
}

func TestThresholdControlAppliesAtFrameBoundary(t *testing.T) {
	r, _ := fakeRegistry(0.4)
	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	defer r.Cleanup(h)

	threshold := []float32{50}
	in := make([]float32, noisegate.FrameSize)
	out := make([]float32, noisegate.FrameSize)
	require.NoError(t, r.ConnectPort(h, PortThreshold, ptr(threshold)))
	require.NoError(t, r.ConnectPort(h, PortInput, ptr(in)))
	require.NoError(t, r.ConnectPort(h, PortOutput, ptr(out)))
	require.NoError(t, r.Activate(h))
	gate, err := r.Gate(h)
	require.NoError(t, err)

	fill(in, 0.3)
	require.NoError(t, r.Run(h, len(in)))
	assert.Equal(t, uint64(1), gate.GatedFrames())

	threshold[0] = 30
	require.NoError(t, r.Run(h, len(in)))
	// The first frame was gated.
	assert.Equal(t, float32(0), out[0])
	assert.Equal(t, uint64(1), gate.GatedFrames())

	require.NoError(t, r.Run(h, len(in)))
	assert.Equal(t, float32(0.3), out[0])

	got, err := r.Threshold(h)
	require.NoError(t, err)
	assert.Equal(t, float32(30), got)
}

func TestThresholdControlIsClamped(t *testing.T) {
	r, _ := fakeRegistry(1)
	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	defer r.Cleanup(h)

	threshold := []float32{250}
	buf := make([]float32, 64)
	require.NoError(t, r.ConnectPort(h, PortThreshold, ptr(threshold)))
	require.NoError(t, r.ConnectPort(h, PortInput, ptr(buf)))
	require.NoError(t, r.ConnectPort(h, PortOutput, ptr(buf)))
	require.NoError(t, r.Activate(h))
	require.NoError(t, r.Run(h, len(buf)))

	got, _ := r.Threshold(h)
	assert.Equal(t, ThresholdMax, got)

	threshold[0] = -4
	require.NoError(t, r.Run(h, len(buf)))
	got, _ = r.Threshold(h)
	assert.Equal(t, ThresholdMin, got)
}

func TestInPlaceProcessing(t *testing.T) {
	r, _ := fakeRegistry(1)
	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	defer r.Cleanup(h)

	buf := make([]float32, 160)
	require.NoError(t, r.ConnectPort(h, PortInput, ptr(buf)))
	require.NoError(t, r.ConnectPort(h, PortOutput, ptr(buf)))
	require.NoError(t, r.Activate(h))

	// Six blocks of 160 make two frames; the third and later blocks echo
	// the input from one frame earlier.
	for block := 0; block < 6; block++ {
		for i := range buf {
			buf[i] = float32(block*160 + i + 1)
		}
		require.NoError(t, r.Run(h, len(buf)))
		if block >= 3 {
			assert.Equal(t, float32((block-3)*160+1), buf[0], "block %d", block)
			assert.Equal(t, float32((block-3)*160+160), buf[159], "block %d", block)
		} else {
			assert.Equal(t, float32(0), buf[0], "block %d", block)
		}
	}
}

func TestRunRequiresActivationAndPorts(t *testing.T) {
	r, _ := fakeRegistry(1)
	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	defer r.Cleanup(h)

	buf := make([]float32, 32)
	assert.ErrorIs(t, r.Run(h, len(buf)), ErrNotActive)

	require.NoError(t, r.Activate(h))
	assert.ErrorIs(t, r.Run(h, len(buf)), ErrPortNotConnected)

	require.NoError(t, r.ConnectPort(h, PortInput, ptr(buf)))
	assert.ErrorIs(t, r.Run(h, len(buf)), ErrPortNotConnected)

	require.NoError(t, r.ConnectPort(h, PortOutput, ptr(buf)))
	assert.NoError(t, r.Run(h, len(buf)))
	assert.NoError(t, r.Run(h, 0))

	require.NoError(t, r.Deactivate(h))
	assert.ErrorIs(t, r.Run(h, len(buf)), ErrNotActive)

	assert.ErrorIs(t, r.ConnectPort(h, PortCount, ptr(buf)), ErrInvalidPort)
	assert.ErrorIs(t, r.ConnectPort(h, -1, ptr(buf)), ErrInvalidPort)
}

func TestStaleHandlesAreRejected(t *testing.T) {
	r, _ := fakeRegistry(1)

	assert.ErrorIs(t, r.Activate(0), ErrInvalidHandle)
	assert.ErrorIs(t, r.Run(Handle(MaxInstances+1), 1), ErrInvalidHandle)

	first, err := r.Instantiate(48000)
	require.NoError(t, err)
	require.NoError(t, r.Cleanup(first))
	assert.ErrorIs(t, r.Cleanup(first), ErrInvalidHandle)

	second, err := r.Instantiate(48000)
	require.NoError(t, err)
	defer r.Cleanup(second)

	assert.NotEqual(t, first, second)
	assert.ErrorIs(t, r.Activate(first), ErrInvalidHandle)
	assert.NoError(t, r.Activate(second))
}

func TestSlotsAreBounded(t *testing.T) {
	r, _ := fakeRegistry(1)
	handles := make([]Handle, 0, MaxInstances)
	for i := 0; i < MaxInstances; i++ {
		h, err := r.Instantiate(48000)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	_, err := r.Instantiate(48000)
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	require.NoError(t, r.Cleanup(handles[7]))
	h, err := r.Instantiate(48000)
	require.NoError(t, err)
	handles[7] = h

	for _, h := range handles {
		require.NoError(t, r.Cleanup(h))
	}
	assert.Equal(t, 0, r.Live())
}

func TestInstantiateFailures(t *testing.T) {
	r, _ := fakeRegistry(1)
	_, err := r.Instantiate(100)
	assert.ErrorIs(t, err, ErrSampleRate)

	boom := errors.New("boom")
	failing := NewRegistry(func() (noisegate.Model, error) { return nil, boom })
	_, err = failing.Instantiate(48000)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, failing.Live())
}
