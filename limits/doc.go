// Package limits provides centralized audio bounds and validation functions
// for vmix. Every component that accepts a gain, a voice-activity threshold
// or a stream format checks it here so that the control plane, the bridges
// and the plugin boundary agree on the same ranges.
//
// # Bounds
//
//   - Gain: linear, [MinGain, MaxGain] = [0.0, 1.5]. Setters clamp rather than
//     reject so that a slider overshoot never fails an operation.
//
//   - VAD threshold: integer percent, [0, 100], default 50. The noise gate
//     works on the same value divided by 100.
//
//   - Format: 1 to MaxChannels interleaved channels, sample rate within
//     [MinSampleRate, MaxSampleRate], callback quantum up to MaxQuantum frames.
//
// # Validation Functions
//
//	if err := limits.ValidateFormat(2, 48000, 256); err != nil {
//	    // errors.Is(err, limits.ErrInvalidFormat)
//	}
//
// The Clamp helpers never fail:
//
//	gain := limits.ClampGain(requested)
package limits
