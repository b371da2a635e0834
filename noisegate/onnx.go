//go:build onnx

package noisegate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultONNXStateSize is the recurrent state width assumed when none is configured.
const DefaultONNXStateSize = 256

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXAvailable reports whether the ONNX backend is compiled in.
func ONNXAvailable() bool { return true }

// ONNXModel runs a recurrent denoiser graph through ONNX Runtime.
//
// The graph takes "input" [1, 480] and "state" [1, S] and produces
// "output" [1, 480], "vad" [1, 1] and "stateN" [1, S]. The state is carried
// from one frame to the next and cleared by Reset.
type ONNXModel struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	vadTensor    *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	runErrors atomic.Uint64
}

// NewONNXModel initializes ONNX Runtime once and loads the graph at modelPath.
func NewONNXModel(modelPath string, stateSize int) (*ONNXModel, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: onnx model path is empty", ErrModelUnavailable)
	}
	if stateSize <= 0 {
		stateSize = DefaultONNXStateSize
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, ortInitErr)
	}

	m := &ONNXModel{}
	var err error
	if m.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, FrameSize)); err != nil {
		return nil, m.fail("create input tensor", err)
	}
	if m.stateTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(stateSize))); err != nil {
		return nil, m.fail("create state tensor", err)
	}
	if m.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, FrameSize)); err != nil {
		return nil, m.fail("create output tensor", err)
	}
	if m.vadTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, m.fail("create vad tensor", err)
	}
	if m.stateNTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(stateSize))); err != nil {
		return nil, m.fail("create stateN tensor", err)
	}
	clear(m.stateTensor.GetData())
	clear(m.stateNTensor.GetData())

	m.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "state"},
		[]string{"output", "vad", "stateN"},
		[]ort.Value{m.inputTensor, m.stateTensor},
		[]ort.Value{m.outputTensor, m.vadTensor, m.stateNTensor},
		nil,
	)
	if err != nil {
		return nil, m.fail("create session", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewONNXModel",
		"model_path": modelPath,
		"state_size": stateSize,
	}).Info("ONNX denoise model loaded")

	return m, nil
}

func (m *ONNXModel) fail(step string, err error) error {
	m.Close()
	return fmt.Errorf("%w: onnx %s: %v", ErrAllocationFailure, step, err)
}

// Name returns "onnx".
func (m *ONNXModel) Name() string { return ModelONNX }

// FrameSize returns FrameSize.
func (m *ONNXModel) FrameSize() int { return FrameSize }

// InputScale returns 1: the graph works on host range samples.
func (m *ONNXModel) InputScale() float32 { return 1 }

// ProcessFrame runs one inference. A failed run passes the input through
// as voice so audio is never lost to an inference error.
func (m *ONNXModel) ProcessFrame(out, in []float32) float32 {
	copy(m.inputTensor.GetData(), in[:FrameSize])
	if err := m.session.Run(); err != nil {
		m.runErrors.Add(1)
		copy(out, in[:FrameSize])
		return 1
	}
	copy(out, m.outputTensor.GetData())
	copy(m.stateTensor.GetData(), m.stateNTensor.GetData())
	return m.vadTensor.GetData()[0]
}

// RunErrors returns the number of failed inferences.
func (m *ONNXModel) RunErrors() uint64 { return m.runErrors.Load() }

// Reset clears the recurrent state.
func (m *ONNXModel) Reset() {
	clear(m.stateTensor.GetData())
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (m *ONNXModel) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	for _, t := range []**ort.Tensor[float32]{&m.inputTensor, &m.stateTensor, &m.outputTensor, &m.vadTensor, &m.stateNTensor} {
		if *t != nil {
			(*t).Destroy()
			*t = nil
		}
	}
	return nil
}

// resolveORTLibPath returns the ONNX Runtime shared library path: the
// VMIX_ORT_LIB_PATH override, or lib/<goos>-<goarch>/ next to the executable.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("VMIX_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: VMIX_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: VMIX_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		for _, rel := range []string{
			filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename),
			filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename),
		} {
			path := filepath.Join(exeDir, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("ort: shared library not found; searched lib/<os>-<arch>/%s relative to executable (set VMIX_ORT_LIB_PATH to override)", filename)
}

func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
