package bridge

import (
	"fmt"

	"github.com/opd-ai/vmix/interfaces"
	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/noisegate"
	"github.com/opd-ai/vmix/ringbuf"
)

// pipeline holds everything the audio callbacks touch. It is built before
// the bridge becomes Running and released only after the streams are
// stopped and no callback is in flight.
type pipeline struct {
	format      interfaces.Format
	channels    int
	blockFrames int

	ring  *ringbuf.Buffer
	gates []*noisegate.Gate

	// Capture-thread state.
	scratch  []float32
	lane     []float32
	nsActive bool

	gain       float32
	rampTarget float32
	rampStep   float32
	rampLeft   int
}

func newPipeline(format interfaces.Format, cfg Config, initialGain float32) (*pipeline, error) {
	blockFrames := format.Quantum
	if blockFrames <= 0 {
		blockFrames = 1024
	}
	if blockFrames > limits.MaxQuantum {
		blockFrames = limits.MaxQuantum
	}

	ring, err := ringbuf.New(cfg.RingFrames, format.Channels)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		format:      format,
		channels:    format.Channels,
		blockFrames: blockFrames,
		ring:        ring,
		scratch:     make([]float32, blockFrames*format.Channels),
		lane:        make([]float32, blockFrames),
		gain:        initialGain,
		rampTarget:  initialGain,
	}

	for ch := 0; ch < format.Channels; ch++ {
		model, err := cfg.NoiseModel()
		if err != nil {
			p.closeGates()
			return nil, fmt.Errorf("channel %d model: %w", ch, err)
		}
		gate, err := noisegate.New(model, cfg.VADThreshold)
		if err != nil {
			model.Close()
			p.closeGates()
			return nil, err
		}
		p.gates = append(p.gates, gate)
	}
	return p, nil
}

// capture processes one captured block. Capture thread only.
func (p *pipeline) capture(b *Bridge, in []float32) {
	ch := p.channels
	frames := len(in) / ch
	if frames == 0 {
		return
	}
	if !p.ring.Reserve(frames) {
		// The block is dropped but still metered at the channel gain.
		if m := b.meter.Load(); m != nil {
			m.ObserveScaled(in, ch, b.effectiveGain())
		}
		return
	}

	target := b.effectiveGain()
	nsOn := b.noiseSuppression.Load()
	if nsOn && !p.nsActive {
		for _, g := range p.gates {
			g.Flush()
		}
	}
	p.nsActive = nsOn

	m := b.meter.Load()
	for off := 0; off < frames; {
		n := frames - off
		if n > p.blockFrames {
			n = p.blockFrames
		}
		chunk := p.scratch[:n*ch]
		copy(chunk, in[off*ch:(off+n)*ch])

		if nsOn {
			p.suppress(chunk, n)
		}
		p.applyGain(chunk, n, target)
		if m != nil {
			m.Observe(chunk, ch)
		}
		p.ring.Write(chunk)
		off += n
	}
}

// suppress runs every channel of an interleaved chunk through its gate.
func (p *pipeline) suppress(chunk []float32, frames int) {
	ch := p.channels
	lane := p.lane[:frames]
	for c, g := range p.gates {
		for f := range lane {
			lane[f] = chunk[f*ch+c]
		}
		g.Process(lane, lane)
		for f, s := range lane {
			chunk[f*ch+c] = s
		}
	}
}

// applyGain moves the gain linearly towards target over GainRampFrames
// frames and scales the chunk.
func (p *pipeline) applyGain(chunk []float32, frames int, target float32) {
	if target != p.rampTarget {
		p.rampTarget = target
		p.rampLeft = GainRampFrames
		p.rampStep = (target - p.gain) / GainRampFrames
	}

	ch := p.channels
	for f := 0; f < frames; f++ {
		if p.rampLeft > 0 {
			p.rampLeft--
			if p.rampLeft == 0 {
				p.gain = p.rampTarget
			} else {
				p.gain += p.rampStep
			}
		}
		if p.gain == 1 {
			continue
		}
		frame := chunk[f*ch : f*ch+ch]
		for i := range frame {
			frame[i] *= p.gain
		}
	}
}

// playback fills out from the ring. Playback thread only.
func (p *pipeline) playback(out []float32, draining bool) {
	if draining && p.ring.Buffered() == 0 {
		clear(out)
		return
	}
	p.ring.Read(out)
}

func (p *pipeline) gateCounters() (starvations, gated uint64) {
	for _, g := range p.gates {
		starvations += g.Starvations()
		gated += g.GatedFrames()
	}
	return starvations, gated
}

func (p *pipeline) closeGates() {
	for _, g := range p.gates {
		g.Close()
	}
}
