package format

import (
	"errors"
	"fmt"
)

const bytesPerSample = 4 // float32 PCM throughout the engine

var (
	ErrInvalidSampleRate   = errors.New("sample rate must be positive")
	ErrInvalidChannelCount = errors.New("channel count must be at least one")
)

// StreamFormat describes the layout of a PCM stream: how many samples per
// second, how many channels, and whether channels are interleaved within a
// single buffer or delivered one buffer per channel.
//
// StreamFormat is a plain value type. Two formats are compatible (no
// conversion required between them) if and only if every field matches
// exactly; see Equal.
type StreamFormat struct {
	SampleRate  float64
	NumChannels int
	Interleaved bool
}

func (f StreamFormat) String() string {
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	return fmt.Sprintf("%.0fHz/%dch/%s", f.SampleRate, f.NumChannels, layout)
}

// Validate reports whether the format describes a usable stream.
func (f StreamFormat) Validate() error {
	if f.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if f.NumChannels < 1 {
		return ErrInvalidChannelCount
	}
	return nil
}

// Equal reports exact compatibility. A true result means buffers can flow
// between the two streams without any conversion, including identical
// derived byte and frame layout.
func (f StreamFormat) Equal(other StreamFormat) bool {
	return f.SampleRate == other.SampleRate &&
		f.NumChannels == other.NumChannels &&
		f.Interleaved == other.Interleaved
}

// SamplesPerFrame returns the number of samples in one frame.
func (f StreamFormat) SamplesPerFrame() int {
	return f.NumChannels
}

// BytesPerFrame returns the size in bytes of one frame.
func (f StreamFormat) BytesPerFrame() int {
	return f.NumChannels * bytesPerSample
}

// DefaultSampleRate is the canonical sample rate used when no hardware
// device is connected to anchor a higher one.
const DefaultSampleRate = 48000

// Canonical derives the engine's internal format from the formats of the
// currently connected hardware devices: the highest sample rate among them,
// one channel, interleaved (trivially, for mono). With no devices connected
// the canonical rate falls back to DefaultSampleRate.
func Canonical(deviceFormats ...StreamFormat) StreamFormat {
	rate := float64(0)
	for _, f := range deviceFormats {
		if f.SampleRate > rate {
			rate = f.SampleRate
		}
	}
	if rate == 0 {
		rate = DefaultSampleRate
	}
	return StreamFormat{
		SampleRate:  rate,
		NumChannels: 1,
		Interleaved: true,
	}
}
