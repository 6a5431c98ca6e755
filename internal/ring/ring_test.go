package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// ramp returns n frames of ch channels where sample (f, c) = base + f + c/10.
func ramp(base float32, n, ch int) frame.PCMFrame {
	out := make(frame.PCMFrame, n*ch)
	for f := 0; f < n; f++ {
		for c := 0; c < ch; c++ {
			out[f*ch+c] = base + float32(f) + float32(c)/10
		}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		channels int
		writes   []int
	}{
		{name: "single write", capacity: 16, channels: 1, writes: []int{7}},
		{name: "multiple writes", capacity: 16, channels: 1, writes: []int{5, 5, 6}},
		{name: "stereo frames", capacity: 8, channels: 2, writes: []int{3, 5}},
		{name: "exactly full", capacity: 8, channels: 1, writes: []int{8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.capacity, tt.channels)

			var written frame.PCMFrame
			base := float32(0)
			total := 0
			for _, n := range tt.writes {
				chunk := ramp(base, n, tt.channels)
				b.Write(chunk, n)
				written = append(written, chunk...)
				base += 100
				total += n
			}
			require.LessOrEqual(t, total, tt.capacity, "test writes must not exceed capacity")

			dst := make(frame.PCMFrame, total*tt.channels)
			got := b.Read(dst, total)
			assert.Equal(t, total, got)
			assert.Equal(t, written, dst)
			assert.Zero(t, b.FillLevel())
		})
	}
}

func TestUnderflowPadding(t *testing.T) {
	b := New(16, 1)
	b.Write(ramp(1, 4, 1), 4)

	dst := make(frame.PCMFrame, 10)
	for i := range dst {
		dst[i] = -99 // stale data that must be overwritten by padding
	}
	got := b.Read(dst, 10)

	assert.Equal(t, 4, got, "true available count reported before padding")
	assert.Equal(t, frame.PCMFrame{1, 2, 3, 4}, dst[:4])
	assert.Equal(t, frame.Silence(6), dst[4:])
	assert.Zero(t, b.FillLevel())
}

func TestOverflowOverwritesOldest(t *testing.T) {
	b := New(4, 1)

	// 7 frames into a capacity-4 ring: frames 0..2 are lost, 3..6 survive.
	b.Write(frame.PCMFrame{0, 1, 2, 3, 4, 5, 6}, 7)
	assert.Equal(t, 1.0, b.FillLevel())

	dst := make(frame.PCMFrame, 4)
	got := b.Read(dst, 4)
	assert.Equal(t, 4, got)
	assert.Equal(t, frame.PCMFrame{3, 4, 5, 6}, dst)
}

func TestOverflowAcrossWrites(t *testing.T) {
	b := New(4, 1)

	b.Write(frame.PCMFrame{0, 1, 2}, 3)
	b.Write(frame.PCMFrame{3, 4, 5}, 3)

	// Most recent capacity frames are exactly recoverable.
	dst := make(frame.PCMFrame, 4)
	got := b.Read(dst, 4)
	assert.Equal(t, 4, got)
	assert.Equal(t, frame.PCMFrame{2, 3, 4, 5}, dst)
}

func TestOversizedWriteKeepsNewestCapacityFrames(t *testing.T) {
	b := New(4, 2)

	b.Write(ramp(0, 10, 2), 10)

	dst := make(frame.PCMFrame, 8)
	got := b.Read(dst, 4)
	assert.Equal(t, 4, got)
	assert.Equal(t, ramp(0, 10, 2)[12:], dst)
}

func TestWrapAround(t *testing.T) {
	b := New(8, 1)

	// Advance the cursors so subsequent writes wrap the physical end.
	b.Write(ramp(0, 6, 1), 6)
	dst := make(frame.PCMFrame, 6)
	b.Read(dst, 6)

	b.Write(ramp(100, 5, 1), 5)
	got := b.Read(dst, 5)
	assert.Equal(t, 5, got)
	assert.Equal(t, ramp(100, 5, 1), dst[:5])
}

func TestFillLevel(t *testing.T) {
	b := New(10, 1)
	assert.Zero(t, b.FillLevel())

	b.Write(frame.Silence(5), 5)
	assert.InDelta(t, 0.5, b.FillLevel(), 1e-12)

	dst := make(frame.PCMFrame, 3)
	b.Read(dst, 3)
	assert.InDelta(t, 0.2, b.FillLevel(), 1e-12)
}

func TestZeroFrameOps(t *testing.T) {
	b := New(4, 1)
	b.Write(nil, 0)
	assert.Equal(t, 0, b.Read(nil, 0))
	assert.Zero(t, b.FillLevel())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b := New(256, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		block := ramp(0, 64, 1)
		for i := 0; i < 1000; i++ {
			b.Write(block, 64)
		}
	}()

	dst := make(frame.PCMFrame, 64)
	for i := 0; i < 1000; i++ {
		b.Read(dst, 64)
	}
	<-done

	level := b.FillLevel()
	assert.GreaterOrEqual(t, level, 0.0)
	assert.LessOrEqual(t, level, 1.0)
}
