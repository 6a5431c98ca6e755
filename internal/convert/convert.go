// Package convert is the engine's conversion boundary: it moves PCM
// between a hardware-native format and the canonical internal format.
//
// Sample-rate conversion itself is delegated to github.com/oov/audio; this
// package only composes the conversion steps and owns their scratch
// buffers, so the rest of the engine never sees a resampler.
package convert

import (
	"fmt"

	"github.com/oov/audio/resampler"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

const (
	// To avoid reallocating for every buffer, each step reuses scratch with
	// "enough size". 48000Hz stereo at 120ms latency is 11520 samples, so
	// 2**14 = 16384 covers anything a hardware callback delivers.
	scratchSize = 16384

	// DefaultQuality is the resampler quality used when the caller does not
	// configure one.
	DefaultQuality = 10
)

// Converter converts PCM frames from a fixed source format to a fixed
// destination format. Convert consumes frameCount source frames and
// returns the converted samples plus the number of destination frames they
// represent. The returned slice aliases internal scratch and is only valid
// until the next call.
//
// Converters are stateful (resampler history) and therefore not safe for
// concurrent use; the engine keeps one per route.
type Converter interface {
	Convert(src frame.PCMFrame, frameCount int) (frame.PCMFrame, int)
	SourceFormat() format.StreamFormat
	DestinationFormat() format.StreamFormat
}

// step transforms a buffer of frameCount frames, returning the new buffer
// and frame count.
type step func(buf frame.PCMFrame, frameCount int) (frame.PCMFrame, int)

type converter struct {
	src   format.StreamFormat
	dst   format.StreamFormat
	steps []step
}

// New builds a Converter from src to dst with the given resampler quality.
// Compatible formats yield a passthrough converter. Channel conversion
// happens first (to minimise resampler channels), then rate conversion.
func New(src, dst format.StreamFormat, quality int) (Converter, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source format: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid destination format: %w", err)
	}
	if quality <= 0 {
		quality = DefaultQuality
	}

	c := &converter{src: src, dst: dst}
	if src.Equal(dst) {
		return c, nil
	}

	channels := src.NumChannels
	if src.NumChannels > 1 && dst.NumChannels == 1 {
		c.steps = append(c.steps, downmixStep(src.NumChannels))
		channels = 1
	}
	if src.SampleRate != dst.SampleRate {
		c.steps = append(c.steps, resampleStep(channels, src.SampleRate, dst.SampleRate, quality))
	}
	if channels == 1 && dst.NumChannels > 1 {
		c.steps = append(c.steps, upmixStep(dst.NumChannels))
	}

	return c, nil
}

func (c *converter) SourceFormat() format.StreamFormat      { return c.src }
func (c *converter) DestinationFormat() format.StreamFormat { return c.dst }

func (c *converter) Convert(src frame.PCMFrame, frameCount int) (frame.PCMFrame, int) {
	buf, n := src, frameCount
	for _, s := range c.steps {
		buf, n = s(buf, n)
	}
	return buf, n
}

// downmixStep averages every channel of a frame into one sample.
func downmixStep(numChannels int) step {
	scratch := frame.Silence(scratchSize)
	inv := float32(1) / float32(numChannels)
	return func(buf frame.PCMFrame, frameCount int) (frame.PCMFrame, int) {
		if frameCount > len(scratch) {
			frameCount = len(scratch)
		}
		for f := 0; f < frameCount; f++ {
			sum := float32(0)
			for ch := 0; ch < numChannels; ch++ {
				sum += buf[f*numChannels+ch]
			}
			scratch[f] = sum * inv
		}
		return scratch[:frameCount], frameCount
	}
}

// upmixStep duplicates a mono signal across every destination channel.
func upmixStep(numChannels int) step {
	scratch := frame.Silence(scratchSize)
	return func(buf frame.PCMFrame, frameCount int) (frame.PCMFrame, int) {
		maxFrames := len(scratch) / numChannels
		if frameCount > maxFrames {
			frameCount = maxFrames
		}
		for f := 0; f < frameCount; f++ {
			for ch := 0; ch < numChannels; ch++ {
				scratch[f*numChannels+ch] = buf[f]
			}
		}
		return scratch[:frameCount*numChannels], frameCount
	}
}

// resampleStep converts the sample rate of an interleaved buffer,
// deinterleaving through per-channel scratch for multi-channel streams.
func resampleStep(numChannels int, srcRate, dstRate float64, quality int) step {
	r := resampler.New(numChannels, int(srcRate), int(dstRate), quality)
	if numChannels == 1 {
		scratch := frame.Silence(scratchSize)
		return func(buf frame.PCMFrame, frameCount int) (frame.PCMFrame, int) {
			_, written := r.ProcessFloat32(0, buf[:frameCount], scratch)
			return scratch[:written], written
		}
	}

	chIn := make([]frame.PCMFrame, numChannels)
	chOut := make([]frame.PCMFrame, numChannels)
	for i := range chIn {
		chIn[i] = frame.Silence(scratchSize / numChannels)
		chOut[i] = frame.Silence(scratchSize / numChannels)
	}
	scratch := frame.Silence(scratchSize)
	return func(buf frame.PCMFrame, frameCount int) (frame.PCMFrame, int) {
		if limit := len(chIn[0]); frameCount > limit {
			frameCount = limit
		}
		for f := 0; f < frameCount; f++ {
			for ch := 0; ch < numChannels; ch++ {
				chIn[ch][f] = buf[f*numChannels+ch]
			}
		}
		written := 0
		for ch := 0; ch < numChannels; ch++ {
			_, written = r.ProcessFloat32(ch, chIn[ch][:frameCount], chOut[ch])
		}
		for f := 0; f < written; f++ {
			for ch := 0; ch < numChannels; ch++ {
				scratch[f*numChannels+ch] = chOut[ch][f]
			}
		}
		return scratch[:written*numChannels], written
	}
}
