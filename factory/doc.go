// Package factory creates audio subsystem implementations for vmix.
//
// The factory abstracts how the external audio server is reached, allowing
// seamless switching between the in-memory simulation (for testing) and a
// native backend without changing consuming code.
//
// # Configuration
//
// The factory supports configuration via environment variables:
//   - VMIX_USE_SIMULATION: "true" or "false" to enable simulation mode
//   - VMIX_SAMPLE_RATE: default sample rate in Hz
//   - VMIX_QUANTUM: default callback block size in frames
//   - VMIX_CONNECT_TIMEOUT_MS: integer milliseconds for stream activation
//
// Invalid values are logged and ignored.
//
// # Usage
//
//	factory := NewAudioSubsystemFactory()
//	factory.RegisterNative(pipewire.New) // provided by a native backend module
//
//	audio, err := factory.CreateAudioSubsystem()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Without a registered native backend CreateAudioSubsystem fails with
// ErrNoNativeBackend unless simulation is enabled.
//
// # Testing Support
//
//	func TestMyFeature(t *testing.T) {
//	    sim := NewAudioSubsystemFactory().CreateSimulationForTesting(WithQuantum(64))
//	    // Use sim in tests...
//	}
package factory
