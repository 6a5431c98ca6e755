package graph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/convert"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/ring"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// dispatchScratchFrames bounds how many frames a single capture callback
// can deliver through the per-route scratch buffers. Hardware callbacks
// are a few hundred to a few thousand frames; anything beyond the bound is
// truncated rather than allocated for.
const dispatchScratchFrames = 1 << 14

// sourceRoute is one connection's binding on the capture side: the ring it
// feeds, which captured channel it selects, and an optional hook fired
// after every delivery (used to drive a downstream processing node
// synchronously on the capture thread).
type sourceRoute struct {
	connectionID  uuid.UUID
	ring          *ring.Buffer
	channelOffset int
	onDelivered   func(frameCount int)
	conv          convert.Converter
	scratch       frame.PCMFrame
}

// Source wraps one capture HardwareEndpoint and fans each captured buffer
// out to every registered route. Capture is shared per device: all
// connections reading the same device UID go through one Source, each
// route selecting its own channel offset.
//
// Dispatch runs on the platform's capture thread; route mutation runs on
// the control thread. Dispatch takes a snapshot of the route list under a
// short lock and then works lock-free on the snapshot, so the capture
// thread never waits on control-thread work.
type Source struct {
	logger *slog.Logger

	deviceUID     string
	nativeID      endpoint.NativeID
	captureFormat format.StreamFormat
	canonical     format.StreamFormat
	quality       int
	ep            endpoint.CaptureEndpoint

	mu        sync.Mutex
	routes    map[uuid.UUID]*sourceRoute
	routeList []*sourceRoute // rebuilt on mutation, read by dispatch
	started   bool
}

// NewSource wires a Source to its capture endpoint. The endpoint is not
// started; the caller starts it once the first route is in place.
func NewSource(
	deviceUID string,
	nativeID endpoint.NativeID,
	ep endpoint.CaptureEndpoint,
	captureFormat format.StreamFormat,
	canonical format.StreamFormat,
	resampleQuality int,
	logger *slog.Logger,
) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		logger: logger.With(
			"source device", deviceUID,
			"capture format", captureFormat.String(),
		),
		deviceUID:     deviceUID,
		nativeID:      nativeID,
		captureFormat: captureFormat,
		canonical:     canonical,
		quality:       resampleQuality,
		ep:            ep,
		routes:        make(map[uuid.UUID]*sourceRoute),
	}
	ep.SetFrameHandler(s.dispatch)
	return s
}

// DeviceUID returns the device this source captures from.
func (s *Source) DeviceUID() string { return s.deviceUID }

// NativeID returns the platform handle the device was opened with.
func (s *Source) NativeID() endpoint.NativeID { return s.nativeID }

// CaptureFormat returns the hardware-native format of the capture side.
func (s *Source) CaptureFormat() format.StreamFormat { return s.captureFormat }

// AddRoute registers a connection's ring with this source. channelOffset
// selects which captured channel feeds the ring; offsets out of range for
// the current capture channel count deliver silence rather than failing.
// onDelivered may be nil.
func (s *Source) AddRoute(
	connectionID uuid.UUID,
	rb *ring.Buffer,
	channelOffset int,
	onDelivered func(frameCount int),
) error {
	mono := format.StreamFormat{SampleRate: s.captureFormat.SampleRate, NumChannels: 1, Interleaved: true}
	conv, err := convert.New(mono, s.canonical, s.quality)
	if err != nil {
		return fmt.Errorf("building route converter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[connectionID] = &sourceRoute{
		connectionID:  connectionID,
		ring:          rb,
		channelOffset: channelOffset,
		onDelivered:   onDelivered,
		conv:          conv,
		scratch:       frame.Silence(dispatchScratchFrames),
	}
	s.rebuildRouteList()
	s.logger.Debug("route added", "connection", connectionID, "channelOffset", channelOffset)
	return nil
}

// RemoveRoute unregisters a connection and reports whether any routes
// remain. Callers use the return value to decide whether to tear the
// Source down.
func (s *Source) RemoveRoute(connectionID uuid.UUID) (hasRemaining bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, connectionID)
	s.rebuildRouteList()
	s.logger.Debug("route removed", "connection", connectionID, "remaining", len(s.routes))
	return len(s.routes) > 0
}

// Routes returns a control-thread snapshot of the current route bindings,
// used to transfer routes onto a replacement Source during
// hot-reconfiguration.
func (s *Source) Routes() []RouteBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RouteBinding, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, RouteBinding{
			ConnectionID:  r.connectionID,
			Ring:          r.ring,
			ChannelOffset: r.channelOffset,
			OnDelivered:   r.onDelivered,
		})
	}
	return out
}

// Start is idempotent and delegates to the capture endpoint.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.ep.Start(); err != nil {
		return fmt.Errorf("%w: source %s: %v", ErrHardwareStartFailed, s.deviceUID, err)
	}
	s.started = true
	s.logger.Debug("source started")
	return nil
}

// Stop is idempotent and synchronous: once it returns, the capture
// callback will not fire again.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	// The endpoint contract makes Stop synchronous; it must not be called
	// under the route lock or a concurrent dispatch could deadlock against
	// the snapshot acquisition.
	if err := s.ep.Stop(); err != nil {
		s.logger.Error("error stopping capture endpoint", "err", err)
	}
	s.logger.Debug("source stopped")
}

// dispatch fans one captured buffer out to every route snapshot entry.
// Runs on the realtime capture thread; it must not error, block, or
// allocate.
func (s *Source) dispatch(samples frame.PCMFrame, frameCount, channelCount int) {
	s.mu.Lock()
	routes := s.routeList
	s.mu.Unlock()

	if frameCount > dispatchScratchFrames {
		frameCount = dispatchScratchFrames
	}

	for _, r := range routes {
		if r.channelOffset >= channelCount || r.channelOffset < 0 {
			// Out-of-range offsets deliver silence, not failure.
			for i := 0; i < frameCount; i++ {
				r.scratch[i] = 0
			}
		} else {
			for i := 0; i < frameCount; i++ {
				r.scratch[i] = samples[i*channelCount+r.channelOffset]
			}
		}

		out, n := r.conv.Convert(r.scratch[:frameCount], frameCount)
		r.ring.Write(out, n)
		if r.onDelivered != nil {
			r.onDelivered(n)
		}
	}
}

// rebuildRouteList refreshes the snapshot slice read by dispatch.
// Callers must hold s.mu.
func (s *Source) rebuildRouteList() {
	list := make([]*sourceRoute, 0, len(s.routes))
	for _, r := range s.routes {
		list = append(list, r)
	}
	s.routeList = list
}

// RouteBinding is the identity of one route, detached from the node that
// holds it, for transfer between old and new instances during
// hot-reconfiguration.
type RouteBinding struct {
	ConnectionID  uuid.UUID
	Ring          *ring.Buffer
	ChannelOffset int
	OnDelivered   func(frameCount int)
}
