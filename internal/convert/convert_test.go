package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

func mono(rate float64) format.StreamFormat {
	return format.StreamFormat{SampleRate: rate, NumChannels: 1, Interleaved: true}
}

func stereo(rate float64) format.StreamFormat {
	return format.StreamFormat{SampleRate: rate, NumChannels: 2, Interleaved: true}
}

func TestPassthroughWhenCompatible(t *testing.T) {
	c, err := New(mono(48000), mono(48000), 0)
	require.NoError(t, err)

	in := frame.PCMFrame{0.1, 0.2, 0.3}
	out, n := c.Convert(in, 3)
	assert.Equal(t, 3, n)
	assert.Equal(t, in, out)
}

func TestStereoToMonoAverages(t *testing.T) {
	c, err := New(stereo(48000), mono(48000), 0)
	require.NoError(t, err)

	in := frame.PCMFrame{0.2, 0.4, -1, 1, 0.5, 0.5}
	out, n := c.Convert(in, 3)
	require.Equal(t, 3, n)
	assert.InDelta(t, 0.3, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.0, float64(out[1]), 1e-6)
	assert.InDelta(t, 0.5, float64(out[2]), 1e-6)
}

func TestMonoToStereoDuplicates(t *testing.T) {
	c, err := New(mono(48000), stereo(48000), 0)
	require.NoError(t, err)

	out, n := c.Convert(frame.PCMFrame{0.25, -0.5}, 2)
	require.Equal(t, 2, n)
	assert.Equal(t, frame.PCMFrame{0.25, 0.25, -0.5, -0.5}, out)
}

func TestResampleFrameCountRatio(t *testing.T) {
	c, err := New(mono(48000), mono(24000), 0)
	require.NoError(t, err)

	in := frame.Silence(480)
	total := 0
	// The resampler is free to buffer frames internally, so check the
	// ratio over a sustained run rather than a single call.
	for i := 0; i < 100; i++ {
		_, n := c.Convert(in, 480)
		total += n
	}
	assert.InDelta(t, 24000, total, 480*2)
}

func TestDownmixThenResample(t *testing.T) {
	c, err := New(stereo(48000), mono(96000), 0)
	require.NoError(t, err)

	in := make(frame.PCMFrame, 960)
	for i := range in {
		in[i] = 0.5
	}
	total := 0
	for i := 0; i < 50; i++ {
		_, n := c.Convert(in, 480)
		total += n
	}
	// 480 frames in at 48k should produce ~960 out at 96k per call.
	assert.InDelta(t, 50*960, total, 960*2)
}

func TestFormatsReported(t *testing.T) {
	c, err := New(stereo(44100), mono(48000), 0)
	require.NoError(t, err)
	assert.True(t, c.SourceFormat().Equal(stereo(44100)))
	assert.True(t, c.DestinationFormat().Equal(mono(48000)))
}

func TestInvalidFormatsRejected(t *testing.T) {
	_, err := New(format.StreamFormat{}, mono(48000), 0)
	assert.Error(t, err)
	_, err = New(mono(48000), format.StreamFormat{SampleRate: 48000}, 0)
	assert.Error(t, err)
}
