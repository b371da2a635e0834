package noisegate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// FrameSize is the fixed number of samples every model consumes per call.
const FrameSize = 480

var (
	// ErrAllocationFailure indicates a model or gate could not allocate its state.
	ErrAllocationFailure = errors.New("noise gate allocation failed")

	// ErrModelUnavailable indicates the requested model backend is not
	// compiled in or its native library could not be loaded.
	ErrModelUnavailable = errors.New("denoise model unavailable")

	// ErrUnknownModel indicates an unrecognised model kind.
	ErrUnknownModel = errors.New("unknown denoise model")

	// ErrFrameSize indicates a model whose frame size differs from FrameSize.
	ErrFrameSize = errors.New("model frame size mismatch")
)

// Model is a frame-based denoiser with a voice-activity estimate.
//
// ProcessFrame reads exactly FrameSize samples from in, writes the
// denoised frame to out and returns the probability, in [0, 1], that the
// frame contains voice. Samples are in the model's own range: the gate
// multiplies host samples by InputScale before the call and divides after.
// ProcessFrame runs on the audio thread and must not allocate.
type Model interface {
	FrameSize() int
	InputScale() float32
	ProcessFrame(out, in []float32) float32
	Reset()
	Close() error
	Name() string
}

// Model kinds accepted by NewModel.
const (
	ModelAuto     = "auto"
	ModelSpectral = "spectral"
	ModelRNNoise  = "rnnoise"
	ModelONNX     = "onnx"
)

// ModelConfig selects and configures a denoise model.
type ModelConfig struct {
	// Kind is one of the Model* constants; empty means ModelAuto.
	Kind string

	// LibraryPath overrides the rnnoise shared library location.
	LibraryPath string

	// ModelPath is the ONNX graph used by ModelONNX.
	ModelPath string

	// StateSize is the recurrent state width of the ONNX graph.
	StateSize int
}

// NewModel builds the configured model. ModelAuto prefers rnnoise and falls
// back to the built-in spectral model when the library cannot be loaded.
func NewModel(cfg ModelConfig) (Model, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = ModelAuto
	}

	var (
		m   Model
		err error
	)
	switch kind {
	case ModelSpectral:
		m, err = NewSpectralModel()
	case ModelRNNoise:
		m, err = NewRNNoiseModel(cfg.LibraryPath)
	case ModelONNX:
		m, err = NewONNXModel(cfg.ModelPath, cfg.StateSize)
	case ModelAuto:
		m, err = NewRNNoiseModel(cfg.LibraryPath)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewModel",
				"error":    err.Error(),
			}).Warn("rnnoise unavailable, falling back to spectral model")
			m, err = NewSpectralModel()
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if m.FrameSize() != FrameSize {
		m.Close()
		return nil, fmt.Errorf("%w: %s uses %d samples, want %d", ErrFrameSize, m.Name(), m.FrameSize(), FrameSize)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewModel",
		"requested": kind,
		"model":     m.Name(),
	}).Debug("Denoise model created")

	return m, nil
}

// ModelFactory creates one independent model per gate.
type ModelFactory func() (Model, error)

// FactoryFor returns a ModelFactory building models from cfg.
func FactoryFor(cfg ModelConfig) ModelFactory {
	return func() (Model, error) {
		return NewModel(cfg)
	}
}
