//go:build !((darwin || linux) && (amd64 || arm64))

package noisegate

import "fmt"

// RNNoiseModel is unavailable on this platform.
type RNNoiseModel struct{}

// RNNoiseAvailable always reports false on this platform.
func RNNoiseAvailable(string) bool { return false }

// NewRNNoiseModel always fails on this platform.
func NewRNNoiseModel(string) (*RNNoiseModel, error) {
	return nil, fmt.Errorf("%w: rnnoise requires linux or darwin on amd64 or arm64", ErrModelUnavailable)
}

func (m *RNNoiseModel) Name() string                           { return ModelRNNoise }
func (m *RNNoiseModel) FrameSize() int                         { return FrameSize }
func (m *RNNoiseModel) InputScale() float32                    { return 1 }
func (m *RNNoiseModel) ProcessFrame(out, in []float32) float32 { copy(out, in); return 1 }
func (m *RNNoiseModel) Reset()                                 {}
func (m *RNNoiseModel) Close() error                           { return nil }
