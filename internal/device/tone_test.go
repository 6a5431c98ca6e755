package device_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/device"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

func TestToneCaptureProducesSine(t *testing.T) {
	ep := device.NewToneCaptureEndpoint(mono48k(), 440, 0.5, 480)

	var mu sync.Mutex
	var captured frame.PCMFrame
	ep.SetFrameHandler(func(samples frame.PCMFrame, frameCount, channelCount int) {
		mu.Lock()
		captured = append(captured, samples[:frameCount]...)
		mu.Unlock()
	})

	require.NoError(t, ep.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ep.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, captured, "ticker delivered at least one block")

	// Phase-continuous 440Hz sine at 0.5 amplitude from sample zero.
	step := 2 * math.Pi * 440 / 48000
	for i, v := range captured {
		want := 0.5 * math.Sin(step*float64(i))
		require.InDelta(t, want, float64(v), 1e-5, "sample %d", i)
	}
}

func TestToneCaptureStopIsSynchronous(t *testing.T) {
	ep := device.NewToneCaptureEndpoint(mono48k(), 440, 0.5, 480)

	var mu sync.Mutex
	frames := 0
	ep.SetFrameHandler(func(samples frame.PCMFrame, frameCount, channelCount int) {
		mu.Lock()
		frames += frameCount
		mu.Unlock()
	})

	require.NoError(t, ep.Start())
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, ep.Stop())

	mu.Lock()
	after := frames
	mu.Unlock()
	time.Sleep(25 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, frames, "no frames delivered after Stop returns")
	mu.Unlock()

	require.NoError(t, ep.Stop(), "Stop is idempotent")
	require.NoError(t, ep.Start(), "endpoint is restartable")
	require.NoError(t, ep.Stop())
}
