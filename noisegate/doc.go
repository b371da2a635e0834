// Package noisegate implements the frame-accumulating voice-activity gate
// used for per-channel noise suppression.
//
// # Architecture Overview
//
// Host callbacks deliver blocks of arbitrary length while denoise models
// work on fixed frames of FrameSize (480) samples:
//
//	host block → accumulator → Model.ProcessFrame → hard gate → carry-over → host block
//
// Each input segment is appended to the accumulator and the same number of
// samples is drained from the carry-over. When the accumulator holds a full
// frame, the model runs on it and returns a voice probability p. If p is at
// least the threshold t the denoised frame refills the carry-over, otherwise
// a frame of silence does. The carry-over starts primed with one frame of
// silence, so the gate delays audio by exactly one frame and in steady state
// never runs short. If it ever does, the output is zero-filled and the
// Starvations counter increments.
//
// # Threshold
//
// SetThreshold stages a percentage atomically. The audio thread loads it once
// per frame, so a change never splits a frame.
//
// # Models
//
//   - spectral: built-in spectral subtraction with an SNR based voice estimate
//   - rnnoise: librnnoise loaded at runtime through purego (linux, darwin)
//   - onnx: an ONNX Runtime graph, compiled in with -tags onnx
//
// NewModel selects one by name; "auto" prefers rnnoise and falls back to
// spectral:
//
//	model, err := noisegate.NewModel(noisegate.ModelConfig{Kind: "auto"})
//	if err != nil {
//	    return err
//	}
//	gate, err := noisegate.New(model, 50)
//	if err != nil {
//	    return err
//	}
//	defer gate.Close()
//
//	gate.Process(out, in) // on the audio thread
//
// # Real-time Safety
//
// Process and Flush never allocate or lock. Model state is only cleared by
// Reset, which for rnnoise recreates the native state, so callers keep it
// off the audio thread. Flush only drops buffered samples.
package noisegate
