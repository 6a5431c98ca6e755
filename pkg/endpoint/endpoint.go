// Package endpoint defines the contract between the routing core and the
// platform audio layer.
//
// The core never calls OS audio APIs itself. A platform adapter (RtAudio,
// PortAudio, a test double, ...) resolves device UIDs, opens devices, and
// drives the CaptureEndpoint / RenderEndpoint callbacks from its realtime
// threads. The core only implements and consumes the interfaces below,
// which keeps the whole engine testable with synthetic endpoints that
// deliver deterministic buffers.
package endpoint

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

var (
	// ErrDeviceNotFound is returned by a Resolver when a device UID no
	// longer resolves. Devices may disappear between calls.
	ErrDeviceNotFound = errors.New("no device with specified UID")

	// ErrFormatUnavailable is returned by a Resolver when the device exists
	// but its native format cannot be queried.
	ErrFormatUnavailable = errors.New("device format unavailable")
)

// Direction distinguishes the two halves of a hardware device.
type Direction int

const (
	DirectionCapture Direction = iota
	DirectionRender
)

func (d Direction) String() string {
	switch d {
	case DirectionCapture:
		return "capture"
	case DirectionRender:
		return "render"
	default:
		return "unknown"
	}
}

// NativeID is the platform audio layer's own handle for a device.
//
// It comes from the underlying API (RtAudio, PortAudio, CoreAudio, ...) and
// is opaque to the core; the core only stores it so the same physical
// device can be reopened during hot-reconfiguration.
type NativeID int

// FrameHandler receives captured audio on the platform's realtime capture
// thread. samples holds frameCount frames of channelCount interleaved
// float32 samples. The handler must return quickly and must not block,
// allocate, or raise.
type FrameHandler func(samples frame.PCMFrame, frameCount, channelCount int)

// CaptureEndpoint is one opened capture device (e.g. a microphone).
// Start and Stop are idempotent; Stop is synchronous and guarantees the
// FrameHandler will not fire again once it returns.
type CaptureEndpoint interface {
	SetFrameHandler(handler FrameHandler)
	Start() error
	Stop() error
}

// RenderBuffer is the hardware output buffer handed to a FrameProvider.
// Exactly one of the two layouts is populated: Interleaved holds a single
// buffer of frameCapacity*numChannels strided samples, Planar holds one
// contiguous buffer per channel.
type RenderBuffer struct {
	Interleaved frame.PCMFrame
	Planar      []frame.PCMFrame
}

// Channels returns the channel count given the frame capacity, covering
// both layouts.
func (b RenderBuffer) Channels(frameCapacity int) int {
	if b.Interleaved != nil {
		if frameCapacity == 0 {
			return 0
		}
		return len(b.Interleaved) / frameCapacity
	}
	return len(b.Planar)
}

// Zero silences the entire buffer.
func (b RenderBuffer) Zero() {
	b.Interleaved.Zero()
	for _, ch := range b.Planar {
		ch.Zero()
	}
}

// FrameProvider fills buf with up to frameCapacity frames and returns the
// number of frames actually produced. Invoked on the platform's realtime
// render thread; the same rules as FrameHandler apply.
type FrameProvider func(buf RenderBuffer, frameCapacity int) int

// RenderEndpoint is one opened render device (e.g. speakers).
// Start and Stop are idempotent; Stop is synchronous and guarantees the
// FrameProvider will not fire again once it returns.
type RenderEndpoint interface {
	SetFrameProvider(provider FrameProvider)
	Start() error
	Stop() error
}

// Resolver looks devices up by UID. Both calls are fallible and possibly
// stale: a device may disappear between a resolve and the attempt to open
// it, and callers must cope with that.
type Resolver interface {
	ResolveFormat(deviceUID string, direction Direction) (format.StreamFormat, error)
	ResolveNativeID(deviceUID string) (NativeID, error)
}

// API is the full platform adapter seam: resolution plus endpoint
// construction. Implementations wrap an OS audio API; the in-repo
// implementation (internal/device.StaticAPI) serves tests and demos.
type API interface {
	Resolver

	NewCaptureEndpoint(deviceUID string, id NativeID, fmt format.StreamFormat) (CaptureEndpoint, error)
	NewRenderEndpoint(deviceUID string, id NativeID, fmt format.StreamFormat) (RenderEndpoint, error)
}
