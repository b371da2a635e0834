// Package ringbuf provides the single-producer single-consumer sample ring
// that couples a capture callback to a playback callback.
//
// The producer is the capture audio thread and the consumer is the playback
// audio thread. Neither side takes a lock or allocates; the two cursors are
// atomics and each is advanced by exactly one side.
package ringbuf

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidSize is returned for a non-positive capacity or channel count.
var ErrInvalidSize = errors.New("invalid ring buffer size")

// Buffer is a fixed-capacity ring of interleaved float32 frames.
//
// Cursors count frames and only ever grow, so 0 <= written-read <= capacity
// holds at all times and wrap-around is a modulo on the index.
type Buffer struct {
	data     []float32
	capacity uint64
	channels int

	// written is advanced only by the producer, read only by the consumer.
	written atomic.Uint64
	read    atomic.Uint64

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// New allocates a ring holding capacityFrames frames of the given channel count.
func New(capacityFrames, channels int) (*Buffer, error) {
	if capacityFrames <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: capacity %d frames, %d channels", ErrInvalidSize, capacityFrames, channels)
	}
	return &Buffer{
		data:     make([]float32, capacityFrames*channels),
		capacity: uint64(capacityFrames),
		channels: channels,
	}, nil
}

// Capacity returns the ring size in frames.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Channels returns the interleaved channel count.
func (b *Buffer) Channels() int { return b.channels }

// Buffered returns the number of frames written but not yet read.
func (b *Buffer) Buffered() int {
	return int(b.written.Load() - b.read.Load())
}

// Free returns the number of frames that can be written without overrun.
// Seen from the producer this can only grow until the next Write.
func (b *Buffer) Free() int {
	return int(b.capacity - (b.written.Load() - b.read.Load()))
}

// Reserve reports whether a block of the given frame count fits. When it
// does not, the overrun counter increments once. A producer that checks with
// Reserve may then Write the block in pieces, since free space can only
// grow until its own next Write.
// Producer side only.
func (b *Buffer) Reserve(frames int) bool {
	if frames <= 0 {
		return true
	}
	if uint64(frames) > b.capacity-(b.written.Load()-b.read.Load()) {
		b.overruns.Add(1)
		return false
	}
	return true
}

// Write appends an interleaved block. If the ring cannot hold the whole
// block, nothing is written, the overrun counter increments once and Write
// returns false. A trailing partial frame is ignored.
// Producer side only.
func (b *Buffer) Write(block []float32) bool {
	frames := uint64(len(block) / b.channels)
	if frames == 0 {
		return true
	}
	w := b.written.Load()
	r := b.read.Load()
	if w-r+frames > b.capacity {
		b.overruns.Add(1)
		return false
	}

	start := int(w%b.capacity) * b.channels
	n := int(frames) * b.channels
	first := copy(b.data[start:], block[:n])
	if first < n {
		copy(b.data, block[first:n])
	}

	b.written.Store(w + frames)
	return true
}

// Read fills out with the oldest buffered frames. When fewer frames are
// available than requested, the remainder of out is set to silence and the
// underrun counter increments once. It returns the number of frames taken
// from the ring.
// Consumer side only.
func (b *Buffer) Read(out []float32) int {
	want := uint64(len(out) / b.channels)
	r := b.read.Load()
	w := b.written.Load()
	avail := w - r

	frames := want
	if avail < frames {
		frames = avail
	}

	n := int(frames) * b.channels
	if n > 0 {
		start := int(r%b.capacity) * b.channels
		first := copy(out[:n], b.data[start:])
		if first < n {
			copy(out[first:n], b.data)
		}
		b.read.Store(r + frames)
	}

	clear(out[n:])
	if frames < want {
		b.underruns.Add(1)
	}
	return int(frames)
}

// Overruns returns how many blocks were dropped because the ring was full.
func (b *Buffer) Overruns() uint64 { return b.overruns.Load() }

// Underruns returns how many reads were padded with silence.
func (b *Buffer) Underruns() uint64 { return b.underruns.Load() }

// Reset discards buffered frames. It must only be called while neither
// audio thread is running against the buffer.
func (b *Buffer) Reset() {
	b.read.Store(b.written.Load())
}
