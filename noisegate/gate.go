package noisegate

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/opd-ai/vmix/limits"
	"github.com/sirupsen/logrus"
)

// Gate is a mono noise gate. Process must only be called from one
// goroutine (the audio thread); the setters and counters are safe to use
// from any goroutine.
type Gate struct {
	model     Model
	frameSize int
	scale     float32

	// Audio-thread state.
	acc      []float32
	pending  int
	carry    []float32
	carryPos int
	carryLen int
	frameOut []float32

	// Staged threshold in [0, 1], float32 bits. Loaded once per frame.
	threshold atomic.Uint32

	frames      atomic.Uint64
	gated       atomic.Uint64
	starvations atomic.Uint64
	lastVAD     atomic.Uint32
}

// New creates a gate around model with the threshold given in percent.
// The gate takes ownership of the model and closes it on Close.
func New(model Model, thresholdPercent int) (g *Gate, err error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrAllocationFailure)
	}
	frameSize := model.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ErrAllocationFailure, frameSize)
	}
	scale := model.InputScale()
	if scale <= 0 || math.IsNaN(float64(scale)) {
		scale = 1
	}

	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = fmt.Errorf("%w: %v", ErrAllocationFailure, r)
		}
	}()

	g = &Gate{
		model:     model,
		frameSize: frameSize,
		scale:     scale,
		acc:       make([]float32, frameSize),
		carry:     make([]float32, frameSize),
		frameOut:  make([]float32, frameSize),
	}
	g.SetThreshold(thresholdPercent)
	g.Flush()

	logrus.WithFields(logrus.Fields{
		"function":   "noisegate.New",
		"model":      model.Name(),
		"frame_size": frameSize,
		"threshold":  thresholdPercent,
	}).Debug("Noise gate created")

	return g, nil
}

// SetThreshold stages a new threshold in percent (clamped to 0..100).
// It takes effect at the next frame boundary, never inside a frame.
func (g *Gate) SetThreshold(percent int) {
	percent = limits.ClampVADThreshold(percent)
	g.SetThresholdFraction(float32(percent) / 100)
}

// SetThresholdFraction stages a threshold already expressed in [0, 1].
func (g *Gate) SetThresholdFraction(t float32) {
	if t < 0 || math.IsNaN(float64(t)) {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	g.threshold.Store(math.Float32bits(t))
}

// Threshold returns the staged threshold in [0, 1].
func (g *Gate) Threshold() float32 {
	return math.Float32frombits(g.threshold.Load())
}

// Latency returns the delay, in samples, the gate adds.
func (g *Gate) Latency() int { return g.frameSize }

// Process gates in into out. Only min(len(in), len(out)) samples are
// processed; any extra output is silence. in and out may be the same slice.
func (g *Gate) Process(out, in []float32) {
	n := len(in)
	if len(out) < n {
		n = len(out)
	}

	for pos := 0; pos < n; {
		seg := g.frameSize - g.pending
		if seg > n-pos {
			seg = n - pos
		}

		dst := g.acc[g.pending : g.pending+seg]
		for i, s := range in[pos : pos+seg] {
			dst[i] = s * g.scale
		}
		g.pending += seg

		g.drain(out[pos : pos+seg])
		pos += seg

		if g.pending == g.frameSize {
			g.runFrame()
			g.pending = 0
		}
	}

	if len(out) > n {
		clear(out[n:])
	}
}

func (g *Gate) drain(dst []float32) {
	k := g.carryLen - g.carryPos
	if k > len(dst) {
		k = len(dst)
	}
	copy(dst, g.carry[g.carryPos:g.carryPos+k])
	g.carryPos += k
	if k < len(dst) {
		clear(dst[k:])
		g.starvations.Add(1)
	}
}

func (g *Gate) runFrame() {
	t := math.Float32frombits(g.threshold.Load())
	p := g.model.ProcessFrame(g.frameOut, g.acc)
	g.lastVAD.Store(math.Float32bits(p))
	g.frames.Add(1)

	if p >= t {
		inv := 1 / g.scale
		for i, s := range g.frameOut {
			g.carry[i] = s * inv
		}
	} else {
		clear(g.carry)
		g.gated.Add(1)
	}
	g.carryPos = 0
	g.carryLen = g.frameSize
}

// Flush drops buffered input and re-primes the carry-over with one frame
// of silence. Model state is kept. Audio thread only, or while stopped.
func (g *Gate) Flush() {
	g.pending = 0
	clear(g.acc)
	clear(g.carry)
	g.carryPos = 0
	g.carryLen = g.frameSize
}

// Reset clears the model state and flushes the buffers. Call it while the
// gate is not processing.
func (g *Gate) Reset() {
	g.model.Reset()
	g.Flush()
}

// Buffered returns the samples waiting in the accumulator and in the
// carry-over. Their sum equals Latency between calls.
func (g *Gate) Buffered() (pending, carry int) {
	return g.pending, g.carryLen - g.carryPos
}

// Frames returns the number of frames run through the model.
func (g *Gate) Frames() uint64 { return g.frames.Load() }

// GatedFrames returns the number of frames replaced by silence.
func (g *Gate) GatedFrames() uint64 { return g.gated.Load() }

// Starvations returns how often output had to be zero-filled because the
// carry-over ran short.
func (g *Gate) Starvations() uint64 { return g.starvations.Load() }

// LastVAD returns the voice probability of the most recent frame.
func (g *Gate) LastVAD() float32 { return math.Float32frombits(g.lastVAD.Load()) }

// ModelName returns the name of the underlying model.
func (g *Gate) ModelName() string { return g.model.Name() }

// Close releases the model.
func (g *Gate) Close() error {
	logrus.WithFields(logrus.Fields{
		"function": "Gate.Close",
		"model":    g.model.Name(),
		"frames":   g.frames.Load(),
	}).Debug("Closing noise gate")
	return g.model.Close()
}
