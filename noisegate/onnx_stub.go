//go:build !onnx

package noisegate

import "fmt"

// ONNXModel is not compiled in; build with -tags onnx to enable it.
type ONNXModel struct{}

// ONNXAvailable reports whether the ONNX backend is compiled in.
func ONNXAvailable() bool { return false }

// NewONNXModel always fails without the onnx build tag.
func NewONNXModel(string, int) (*ONNXModel, error) {
	return nil, fmt.Errorf("%w: onnx backend not compiled in (build with -tags onnx)", ErrModelUnavailable)
}

func (m *ONNXModel) Name() string                           { return ModelONNX }
func (m *ONNXModel) FrameSize() int                         { return FrameSize }
func (m *ONNXModel) InputScale() float32                    { return 1 }
func (m *ONNXModel) ProcessFrame(out, in []float32) float32 { copy(out, in); return 1 }
func (m *ONNXModel) Reset()                                 {}
func (m *ONNXModel) Close() error                           { return nil }
