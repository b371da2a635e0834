// Package vmix implements software-defined audio channels with per-channel
// gain, mute, noise suppression, metering and rule-based routing.
//
// A channel is a virtual sink or source realised by a bridge: two streams of
// the host audio subsystem coupled through a lock-free ring buffer. The
// [Mixer] owns every bridge of the process and tears them all down at
// shutdown; there is no package-level state.
//
// # Getting Started
//
//	audio, err := factory.NewAudioSubsystemFactory().CreateAudioSubsystem()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mixer, err := vmix.NewMixer(audio, vmix.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mixer.Shutdown(context.Background())
//
//	music, err := mixer.CreateChannel(ctx, "Music", vmix.ChannelOutput, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mixer.SetGain(music.ID, 0.8)
//	mixer.EnableNoiseSuppression(music.ID, true)
//
//	if err := mixer.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Core Types
//
//   - [Mixer]: owns channels, producers and the routing rules
//   - [Channel]: a live virtual endpoint
//   - [ChannelState]: the record a channel is restored from and reported as
//   - [Producer]: an application stream to be routed
//   - [Options]: configuration for a new Mixer
//
// # Routing
//
// Producers are matched against the rules of [Mixer.Rules] in priority
// order. The first enabled rule that matches names the target channel:
//
//	mixer.Rules().Add(routing.Rule{
//	    Name:          "voice chat",
//	    Enabled:       true,
//	    Target:        routing.MatchEither,
//	    Type:          routing.MatchContains,
//	    Pattern:       "discord",
//	    TargetChannel: "Comms",
//	    Priority:      10,
//	})
//	p, _ := mixer.AddProducer(vmix.Producer{Name: "Discord", Binary: "discord"})
//
// A producer whose rule targets a channel that does not exist yet is routed
// once that channel is created.
//
// # Reporting
//
// Overruns, underruns and noise gate starvation are counted on the audio
// thread and reported by the mixer once per report window, aggregated per
// channel, while the meter poller runs.
package vmix
