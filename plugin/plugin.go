// Package plugin hosts noise gate instances behind a fixed, LADSPA-shaped
// port layout so that the gate can be driven by an external real-time
// filter-chain host through the capi package.
//
// Instances live in a fixed array of slots addressed by Handle. A host
// connects raw sample pointers to ports; a pointer is valid from ConnectPort
// until Cleanup (or until the port is connected again) and is dereferenced
// only inside Run.
package plugin

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/opd-ai/vmix/limits"
	"github.com/opd-ai/vmix/noisegate"
	"github.com/sirupsen/logrus"
)

// Descriptor constants shared with the C boundary.
const (
	UniqueID  = 0x564d58
	Label     = "vmix_noise_gate"
	Name      = "vmix Noise Gate"
	Maker     = "vmix"
	Copyright = "None"
)

// Port indices in their fixed order.
const (
	PortThreshold = iota
	PortInput
	PortOutput
	PortCount
)

// Threshold control bounds, in percent.
const (
	ThresholdMin     = float32(limits.MinVADThreshold)
	ThresholdMax     = float32(limits.MaxVADThreshold)
	ThresholdDefault = float32(limits.DefaultVADThreshold)
)

// MaxInstances is the number of slots in a Registry.
const MaxInstances = 256

var (
	// ErrInvalidHandle indicates a handle that does not name a live instance.
	ErrInvalidHandle = errors.New("invalid plugin handle")

	// ErrInvalidPort indicates a port index outside the fixed layout.
	ErrInvalidPort = errors.New("invalid plugin port")

	// ErrNoFreeSlot indicates every instance slot is in use.
	ErrNoFreeSlot = errors.New("no free plugin slot")

	// ErrNotActive indicates Run on an instance that was not activated.
	ErrNotActive = errors.New("plugin instance not active")

	// ErrPortNotConnected indicates Run with an unconnected audio port.
	ErrPortNotConnected = errors.New("plugin audio port not connected")

	// ErrSampleRate indicates an unsupported host sample rate.
	ErrSampleRate = errors.New("unsupported sample rate")
)

// PortInfo describes one port of the descriptor.
type PortInfo struct {
	Name    string
	Control bool
	Input   bool
	Min     float32
	Max     float32
	Default float32
}

// Ports returns the port layout in index order.
func Ports() [PortCount]PortInfo {
	return [PortCount]PortInfo{
		PortThreshold: {Name: "VAD Threshold (%)", Control: true, Input: true, Min: ThresholdMin, Max: ThresholdMax, Default: ThresholdDefault},
		PortInput:     {Name: "Input", Input: true},
		PortOutput:    {Name: "Output"},
	}
}

// Handle names an instance slot. The zero Handle is never valid.
type Handle uint32

const (
	slotFree int32 = iota
	slotReady
	slotActive
)

type slot struct {
	state      atomic.Int32
	gen        atomic.Uint32
	sampleRate int
	gate       *noisegate.Gate
	ports      [PortCount]unsafe.Pointer
	threshold  float32
}

// Registry owns a fixed set of instance slots.
type Registry struct {
	mu      sync.Mutex
	factory noisegate.ModelFactory
	slots   [MaxInstances]slot
	live    atomic.Int32
}

// NewRegistry creates a registry whose instances use models from factory.
func NewRegistry(factory noisegate.ModelFactory) *Registry {
	if factory == nil {
		factory = noisegate.FactoryFor(noisegate.ModelConfig{Kind: noisegate.ModelAuto})
	}
	return &Registry{factory: factory}
}

func makeHandle(index int, gen uint32) Handle {
	return Handle(gen<<16 | uint32(index+1))
}

func (r *Registry) lookup(h Handle) (*slot, error) {
	index := int(h&0xffff) - 1
	if index < 0 || index >= MaxInstances {
		return nil, ErrInvalidHandle
	}
	s := &r.slots[index]
	if s.state.Load() == slotFree || s.gen.Load() != uint32(h)>>16 {
		return nil, ErrInvalidHandle
	}
	return s, nil
}

// Instantiate creates an instance for the given host sample rate.
func (r *Registry) Instantiate(sampleRate int) (Handle, error) {
	if sampleRate < limits.MinSampleRate || sampleRate > limits.MaxSampleRate {
		return 0, fmt.Errorf("%w: %d", ErrSampleRate, sampleRate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index := -1
	for i := range r.slots {
		if r.slots[i].state.Load() == slotFree {
			index = i
			break
		}
	}
	if index < 0 {
		return 0, ErrNoFreeSlot
	}

	model, err := r.factory()
	if err != nil {
		return 0, err
	}
	gate, err := noisegate.New(model, limits.DefaultVADThreshold)
	if err != nil {
		model.Close()
		return 0, err
	}

	s := &r.slots[index]
	s.sampleRate = sampleRate
	s.gate = gate
	s.ports = [PortCount]unsafe.Pointer{}
	s.threshold = ThresholdDefault
	gen := (s.gen.Load() + 1) & 0xffff
	if gen == 0 {
		gen = 1
	}
	s.gen.Store(gen)
	s.state.Store(slotReady)
	r.live.Add(1)

	if sampleRate != 48000 {
		logrus.WithFields(logrus.Fields{
			"function":    "Registry.Instantiate",
			"sample_rate": sampleRate,
			"model":       gate.ModelName(),
		}).Warn("Denoise models are tuned for 48 kHz")
	}
	logrus.WithFields(logrus.Fields{
		"function": "Registry.Instantiate",
		"slot":     index,
		"model":    gate.ModelName(),
	}).Debug("Plugin instance created")

	return makeHandle(index, gen), nil
}

// ConnectPort binds a host buffer to a port. data points to one float32
// for the control port and to at least the Run sample count for the audio
// ports. A nil data disconnects the port.
func (r *Registry) ConnectPort(h Handle, port int, data unsafe.Pointer) error {
	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	if port < 0 || port >= PortCount {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	s.ports[port] = data
	return nil
}

// Activate resets the gate and allows Run.
func (r *Registry) Activate(h Handle) error {
	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.gate.Reset()
	s.state.Store(slotActive)
	return nil
}

// Deactivate stops Run until the next Activate.
func (r *Registry) Deactivate(h Handle) error {
	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.state.Store(slotReady)
	return nil
}

// Run processes n samples from the input port into the output port. The
// threshold control is read once per call; it reaches the gate at its next
// frame boundary. Run does not allocate or lock.
func (r *Registry) Run(h Handle, n int) error {
	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	if s.state.Load() != slotActive {
		return ErrNotActive
	}
	in, out := s.ports[PortInput], s.ports[PortOutput]
	if in == nil || out == nil {
		return ErrPortNotConnected
	}
	if n <= 0 {
		return nil
	}

	if p := s.ports[PortThreshold]; p != nil {
		t := clampThreshold(*(*float32)(p))
		if t != s.threshold {
			s.threshold = t
			s.gate.SetThresholdFraction(t / 100)
		}
	}

	s.gate.Process(unsafe.Slice((*float32)(out), n), unsafe.Slice((*float32)(in), n))
	return nil
}

// Threshold returns the threshold last applied to the instance, in percent.
func (r *Registry) Threshold(h Handle) (float32, error) {
	s, err := r.lookup(h)
	if err != nil {
		return 0, err
	}
	return s.threshold, nil
}

// Gate returns the instance's gate for inspection.
func (r *Registry) Gate(h Handle) (*noisegate.Gate, error) {
	s, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.gate, nil
}

// Cleanup destroys the instance. Its handle and port pointers are
// forgotten and the slot becomes free.
func (r *Registry) Cleanup(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.state.Store(slotFree)
	s.ports = [PortCount]unsafe.Pointer{}
	gate := s.gate
	s.gate = nil
	r.live.Add(-1)

	if err := gate.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Cleanup",
			"error":    err.Error(),
		}).Warn("Failed to close noise gate")
		return err
	}
	return nil
}

// Live returns the number of instantiated slots.
func (r *Registry) Live() int { return int(r.live.Load()) }

func clampThreshold(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return ThresholdDefault
	}
	if v < ThresholdMin {
		return ThresholdMin
	}
	if v > ThresholdMax {
		return ThresholdMax
	}
	return v
}
