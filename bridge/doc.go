// Package bridge implements a virtual audio endpoint as two streams of the
// external audio subsystem coupled through a ring buffer.
//
// # Lifecycle
//
//	Idle -> Activating -> Running -> Draining -> Closed
//
// Open creates the capture and playback streams, starts them and waits
// with exponential backoff until both report streaming. A refused stream
// fails with ErrDeviceUnavailable, a stream that never connects with
// ErrTimeout. Close stops accepting capture input, lets the playback side
// drain the ring, stops both streams and waits for in-flight callbacks
// before releasing buffers. A fatal stream error closes the bridge
// immediately and is delivered once on Errors.
//
// # Audio Thread
//
// The capture callback runs noise suppression, ramped gain and metering
// and writes the block to the ring, or drops the whole block and counts an
// overrun when it does not fit. The playback callback reads the ring and
// pads any shortfall with silence, counting an underrun. Neither callback
// locks, allocates or logs; control changes reach them through atomics.
//
// # Usage
//
//	cfg := bridge.DefaultConfig("music", bridge.KindOutput)
//	b, err := bridge.New(audio, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := b.Open(ctx); err != nil {
//	    return err
//	}
//	defer b.Close(ctx)
//
//	b.SetGain(0.8)
//	b.EnableNoiseSuppression(true)
package bridge
