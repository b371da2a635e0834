// Package testing provides a simulated audio subsystem for deterministic
// testing of vmix bridges and mixers.
//
// # Overview
//
// This package implements an in-memory audio server that mirrors the
// contract of a native backend without touching devices. Streams negotiate
// a format, report connection state and invoke capture and playback
// callbacks, so bridge code can be exercised end to end.
//
// # Simulation vs Native Implementation
//
// vmix supports two audio subsystem modes:
//
//   - Simulation (this package): callbacks are driven by Pump or by a
//     wall-clock ticker, capture input comes from installable sources and
//     playback output is recorded for verification.
//
//   - Native: a backend registered with factory.RegisterNative binds
//     streams to the host audio server.
//
// Both conform to the interfaces.IAudioSubsystem interface, allowing
// seamless switching via the factory package.
//
// # Usage
//
//	config := &interfaces.AudioSubsystemConfig{
//	    UseSimulation:  true,
//	    SampleRate:     48000,
//	    Quantum:        256,
//	    ConnectTimeout: 2000,
//	}
//	sim := testing.NewSimulatedAudioSubsystem(config)
//
//	// ... open a bridge against sim ...
//
//	sim.SetCaptureSource("vmix.music.capture", func(block []float32) {
//	    for i := range block {
//	        block[i] = 0.25
//	    }
//	})
//	sim.Pump(10)
//	played := sim.PlaybackOutput("vmix.music.playback")
//
// # Failure Injection
//
//   - FailNextCreate makes a stream creation fail (device unavailable)
//   - SetConnectDelay and SetHangOnConnect exercise activation timeouts
//   - Fail reports a fatal stream error through the ErrorFunc
//
// # Thread Safety
//
// Every stream holds its own mutex while a callback runs and while Stop
// executes, which gives Stop its no-callback-after-return guarantee. The
// mutex belongs to the simulation; bridge callbacks never see it.
package testing
