// Package interfaces defines the abstractions vmix uses to talk to the
// external audio subsystem.
//
// The audio server (PipeWire, CoreAudio and the like) owns devices, format
// negotiation and the real-time threads. vmix only creates streams and
// supplies callbacks. Keeping that boundary behind interfaces lets the same
// bridge code run against a native backend in production and against the
// in-memory simulation in the testing package.
//
// # Core Interfaces
//
// [IAudioSubsystem] creates capture and playback streams:
//
//	sub, err := factory.NewAudioSubsystemFactory().CreateAudioSubsystem()
//	if err != nil {
//	    return err
//	}
//	capture, err := sub.CreateCapture(interfaces.StreamConfig{
//	    Name:       "vmix.music.capture",
//	    Direction:  interfaces.DirectionCapture,
//	    Virtual:    true,
//	    Channels:   2,
//	    SampleRate: 48000,
//	    Quantum:    256,
//	}, onCapture, onError)
//
// [IStream] is one bound stream. Start begins connecting; the caller polls
// State until it reports StreamStreaming and then reads the negotiated
// Format. Stop guarantees that no further callback begins once it returns,
// which is what lets a bridge release its buffers safely.
//
// # Callbacks
//
// CaptureFunc and PlaybackFunc run on audio threads. Implementations of the
// callbacks must not block, lock or allocate. ErrorFunc reports a fatal
// stream failure exactly once and may also run on an audio thread.
//
// # Configuration
//
// [AudioSubsystemConfig] carries the defaults used by the factory package:
//
//	config := &interfaces.AudioSubsystemConfig{
//	    UseSimulation:  true,
//	    SampleRate:     48000,
//	    Quantum:        256,
//	    ConnectTimeout: 2000,
//	}
//	if err := config.Validate(); err != nil {
//	    return err
//	}
package interfaces
