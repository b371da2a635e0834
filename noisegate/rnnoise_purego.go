//go:build (darwin || linux) && (amd64 || arm64)

package noisegate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"
)

var (
	rnnoiseOnce    sync.Once
	rnnoiseHandle  uintptr
	rnnoiseInitErr error
)

// librnnoise function pointers
var (
	rnnoiseCreate       func(model uintptr) uintptr
	rnnoiseDestroy      func(st uintptr)
	rnnoiseProcessFrame func(st uintptr, out *float32, in *float32) float32
	rnnoiseGetFrameSize func() int32
)

// rnnoiseScale maps host samples in [-1, 1] onto the 16-bit range the
// network was trained on.
const rnnoiseScale = 32768

// RNNoiseModel denoises with librnnoise loaded at runtime.
type RNNoiseModel struct {
	state uintptr
}

// RNNoiseAvailable reports whether librnnoise can be loaded.
func RNNoiseAvailable(libraryPath string) bool {
	return loadRNNoise(libraryPath) == nil
}

// NewRNNoiseModel loads librnnoise (once per process) and creates a denoiser state.
func NewRNNoiseModel(libraryPath string) (*RNNoiseModel, error) {
	if err := loadRNNoise(libraryPath); err != nil {
		return nil, err
	}

	st := rnnoiseCreate(0)
	if st == 0 {
		return nil, fmt.Errorf("%w: rnnoise_create returned NULL", ErrAllocationFailure)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewRNNoiseModel",
	}).Debug("rnnoise denoiser state created")

	return &RNNoiseModel{state: st}, nil
}

func loadRNNoise(libraryPath string) error {
	rnnoiseOnce.Do(func() {
		rnnoiseInitErr = loadRNNoiseLib(libraryPath)
		if rnnoiseInitErr != nil {
			rnnoiseInitErr = fmt.Errorf("%w: %v", ErrModelUnavailable, rnnoiseInitErr)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":   "loadRNNoise",
			"frame_size": rnnoiseFrameSize(),
		}).Info("Loaded librnnoise")
	})
	return rnnoiseInitErr
}

func loadRNNoiseLib(libraryPath string) error {
	var lastErr error
	for _, path := range rnnoiseLibPaths(libraryPath) {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := loadRNNoiseSymbols(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		rnnoiseHandle = handle
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load librnnoise: %w", lastErr)
	}
	return errors.New("librnnoise not found in any standard location")
}

func loadRNNoiseSymbols(handle uintptr) error {
	required := []struct {
		name string
		fn   interface{}
	}{
		{"rnnoise_create", &rnnoiseCreate},
		{"rnnoise_destroy", &rnnoiseDestroy},
		{"rnnoise_process_frame", &rnnoiseProcessFrame},
	}
	for _, sym := range required {
		addr, err := purego.Dlsym(handle, sym.name)
		if err != nil {
			return fmt.Errorf("missing symbol %s: %w", sym.name, err)
		}
		purego.RegisterFunc(sym.fn, addr)
	}

	// rnnoise_get_frame_size only exists in newer releases.
	rnnoiseGetFrameSize = nil
	if addr, err := purego.Dlsym(handle, "rnnoise_get_frame_size"); err == nil {
		purego.RegisterFunc(&rnnoiseGetFrameSize, addr)
	}
	return nil
}

func rnnoiseLibPaths(libraryPath string) []string {
	var paths []string

	if libraryPath != "" {
		paths = append(paths, libraryPath)
	}
	if envPath := os.Getenv("VMIX_RNNOISE_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	names := []string{"librnnoise.so.0", "librnnoise.so"}
	if runtime.GOOS == "darwin" {
		names = []string{"librnnoise.0.dylib", "librnnoise.dylib"}
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, name := range names {
			paths = append(paths,
				filepath.Join(exeDir, name),
				filepath.Join(exeDir, "..", "lib", name),
			)
		}
	}

	if runtime.GOOS == "darwin" {
		for _, name := range names {
			paths = append(paths,
				filepath.Join("/opt/homebrew/lib", name),
				filepath.Join("/usr/local/lib", name),
			)
		}
	}

	// Bare names go through the dynamic loader's own search path.
	paths = append(paths, names...)
	return paths
}

func rnnoiseFrameSize() int {
	if rnnoiseGetFrameSize == nil {
		return FrameSize
	}
	return int(rnnoiseGetFrameSize())
}

// Name returns "rnnoise".
func (m *RNNoiseModel) Name() string { return ModelRNNoise }

// FrameSize returns the library's frame size (480 samples).
func (m *RNNoiseModel) FrameSize() int { return rnnoiseFrameSize() }

// InputScale returns the 16-bit scale rnnoise expects.
func (m *RNNoiseModel) InputScale() float32 { return rnnoiseScale }

// ProcessFrame denoises one frame and returns the library's voice probability.
func (m *RNNoiseModel) ProcessFrame(out, in []float32) float32 {
	return rnnoiseProcessFrame(m.state, &out[0], &in[0])
}

// Reset recreates the denoiser state. rnnoise has no in-place reset.
func (m *RNNoiseModel) Reset() {
	if m.state == 0 {
		return
	}
	fresh := rnnoiseCreate(0)
	if fresh == 0 {
		return
	}
	rnnoiseDestroy(m.state)
	m.state = fresh
}

// Close destroys the denoiser state. Safe to call multiple times.
func (m *RNNoiseModel) Close() error {
	if m.state != 0 {
		rnnoiseDestroy(m.state)
		m.state = 0
	}
	return nil
}
