// Package ring provides the fixed-capacity circular sample buffer that
// carries audio across the producer/consumer boundary of a connection.
package ring

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// Buffer is a fixed-capacity single-producer/single-consumer circular
// buffer of float32 PCM, measured in frames of NumChannels samples.
//
// Overflow is not an error: when a write exceeds the free capacity the
// oldest unread frames are silently overwritten, so the buffer behaves as a
// bounded lossy queue that always favours the newest audio. Underflow pads
// with silence. Both policies keep the realtime callbacks on either side
// from ever blocking or raising.
//
// All operations share one short exclusive lock. The critical sections are
// bounded copies with no allocation and no system calls, safe to enter
// from a realtime thread.
type Buffer struct {
	mu       sync.Mutex
	data     []float32
	capacity int // frames
	channels int // samples per frame
	head     int // frame index of the next write
	length   int // valid frames, in [0, capacity]
}

// New creates a Buffer holding capacityFrames frames of numChannels
// samples each.
func New(capacityFrames, numChannels int) *Buffer {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	if numChannels < 1 {
		numChannels = 1
	}
	return &Buffer{
		data:     make([]float32, capacityFrames*numChannels),
		capacity: capacityFrames,
		channels: numChannels,
	}
}

// Capacity returns the buffer capacity in frames.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// NumChannels returns the samples per frame.
func (b *Buffer) NumChannels() int {
	return b.channels
}

// Write copies frameCount frames from samples into the buffer, advancing
// the write cursor. If frameCount exceeds the free capacity the oldest
// unread frames are overwritten; if it exceeds the whole capacity only the
// newest capacity frames survive.
func (b *Buffer) Write(samples frame.PCMFrame, frameCount int) {
	if frameCount <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channels
	if frameCount >= b.capacity {
		copy(b.data, samples[(frameCount-b.capacity)*ch:frameCount*ch])
		b.head = 0
		b.length = b.capacity
		return
	}

	n := frameCount * ch
	writeAt := b.head * ch
	if toEnd := len(b.data) - writeAt; n <= toEnd {
		copy(b.data[writeAt:], samples[:n])
	} else {
		copy(b.data[writeAt:], samples[:toEnd])
		copy(b.data, samples[toEnd:n])
	}
	b.head = (b.head + frameCount) % b.capacity
	b.length += frameCount
	if b.length > b.capacity {
		b.length = b.capacity
	}
}

// Read copies up to frameCount frames of the oldest unread data into dst
// and returns the number of frames that were actually available before
// padding. Any shortfall is zero-filled, so dst always holds frameCount
// well-defined frames on return. dst must hold at least
// frameCount*NumChannels samples.
func (b *Buffer) Read(dst frame.PCMFrame, frameCount int) int {
	if frameCount <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channels
	available := b.length
	if available > frameCount {
		available = frameCount
	}

	start := ((b.head - b.length + b.capacity) % b.capacity) * ch
	n := available * ch
	if toEnd := len(b.data) - start; n <= toEnd {
		copy(dst[:n], b.data[start:start+n])
	} else {
		copy(dst[:toEnd], b.data[start:])
		copy(dst[toEnd:n], b.data[:n-toEnd])
	}
	for i := n; i < frameCount*ch; i++ {
		dst[i] = 0
	}
	b.length -= available
	return available
}

// FillLevel reports availableFrames/capacity in [0, 1].
func (b *Buffer) FillLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.length) / float64(b.capacity)
}
