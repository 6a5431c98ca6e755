// Package effects hosts the ordered in-place effect chains applied to
// connection audio, together with the small set of built-in units.
package effects

import (
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// ErrUnknownEffect is wrapped by NewChain when a descriptor names a kind
// that has no registered unit.
var ErrUnknownEffect = fmt.Errorf("unknown effect kind")

// Chain is an ordered list of processing units applied in place to a mono
// float buffer. A nil *Chain is valid and processes nothing.
//
// A Chain is built for one StreamFormat; units whose state depends on the
// sample rate (lowpass coefficients, delay lines) are instantiated from
// their descriptors at construction. Rebuilding for a new format means
// constructing a new Chain from Descriptors().
type Chain struct {
	streamFormat format.StreamFormat
	descriptors  []Descriptor
	units        []Effect
}

// NewChain instantiates every descriptor for the given format, in order.
// An empty or nil descriptor list yields a valid empty chain.
func NewChain(descriptors []Descriptor, streamFormat format.StreamFormat) (*Chain, error) {
	if err := streamFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chain format: %w", err)
	}

	units := make([]Effect, 0, len(descriptors))
	for _, d := range descriptors {
		unit, err := newUnit(d, streamFormat)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	return &Chain{
		streamFormat: streamFormat,
		descriptors:  CopyDescriptors(descriptors),
		units:        units,
	}, nil
}

func newUnit(d Descriptor, streamFormat format.StreamFormat) (Effect, error) {
	switch d.Kind {
	case KindGain:
		return newGain(d), nil
	case KindSoftClip:
		return newSoftClip(d), nil
	case KindLowPass:
		return newLowPass(d, streamFormat), nil
	case KindDelay:
		return newDelay(d, streamFormat), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, d.Kind)
	}
}

// Process runs every unit over the first frameCount frames of buf, in
// order, mutating buf in place.
func (c *Chain) Process(buf frame.PCMFrame, frameCount int) {
	if c == nil {
		return
	}
	for _, unit := range c.units {
		unit.Process(buf, frameCount)
	}
}

// Descriptors returns a copy of the descriptors this chain was built from.
func (c *Chain) Descriptors() []Descriptor {
	if c == nil {
		return nil
	}
	return CopyDescriptors(c.descriptors)
}

// Format returns the stream format the chain was built for.
func (c *Chain) Format() format.StreamFormat {
	if c == nil {
		return format.StreamFormat{}
	}
	return c.streamFormat
}

// Len returns the number of units in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.units)
}
