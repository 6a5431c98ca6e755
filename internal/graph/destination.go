package graph

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/convert"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/ring"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// destinationRoute is one connection's binding on the render side: the
// ring it drains, the effect chain applied to the drained samples, and the
// output channel the result is mixed into.
type destinationRoute struct {
	connectionID  uuid.UUID
	ring          *ring.Buffer
	channelOffset int
	chain         *effects.Chain
	conv          convert.Converter
	scratch       frame.PCMFrame
}

// Destination wraps one render HardwareEndpoint. On each render pull it
// zeroes the output, drains every route's ring through that route's effect
// chain, converts to the device rate, and sums the result into the route's
// channel with a hard clamp to [-1, 1].
//
// Destinations are keyed per (deviceUID, channelOffset): a multi-channel
// device may host several independent Destinations on different channel
// ranges. Render runs on the platform's realtime thread and follows the
// same snapshot rule as Source.dispatch.
type Destination struct {
	logger *slog.Logger

	deviceUID    string
	nativeID     endpoint.NativeID
	renderFormat format.StreamFormat
	canonical    format.StreamFormat
	quality      int
	ep           endpoint.RenderEndpoint

	mu        sync.Mutex
	routes    map[uuid.UUID]*destinationRoute
	routeList []*destinationRoute
	started   bool
}

// NewDestination wires a Destination to its render endpoint. The endpoint
// is not started; the caller starts it once the first route is in place.
func NewDestination(
	deviceUID string,
	nativeID endpoint.NativeID,
	ep endpoint.RenderEndpoint,
	renderFormat format.StreamFormat,
	canonical format.StreamFormat,
	resampleQuality int,
	logger *slog.Logger,
) *Destination {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Destination{
		logger: logger.With(
			"destination device", deviceUID,
			"render format", renderFormat.String(),
		),
		deviceUID:    deviceUID,
		nativeID:     nativeID,
		renderFormat: renderFormat,
		canonical:    canonical,
		quality:      resampleQuality,
		ep:           ep,
		routes:       make(map[uuid.UUID]*destinationRoute),
	}
	ep.SetFrameProvider(d.render)
	return d
}

// DeviceUID returns the device this destination renders to.
func (d *Destination) DeviceUID() string { return d.deviceUID }

// NativeID returns the platform handle the device was opened with.
func (d *Destination) NativeID() endpoint.NativeID { return d.nativeID }

// RenderFormat returns the hardware-native format of the render side.
func (d *Destination) RenderFormat() format.StreamFormat { return d.renderFormat }

// AddRoute registers a connection's ring with this destination, building
// the route's effect chain from descriptors. The chain runs at the
// canonical format, before rate conversion to the device.
func (d *Destination) AddRoute(
	connectionID uuid.UUID,
	rb *ring.Buffer,
	channelOffset int,
	descriptors []effects.Descriptor,
) error {
	chain, err := effects.NewChain(descriptors, d.canonical)
	if err != nil {
		return err
	}
	mono := format.StreamFormat{SampleRate: d.renderFormat.SampleRate, NumChannels: 1, Interleaved: true}
	conv, err := convert.New(d.canonical, mono, d.quality)
	if err != nil {
		return fmt.Errorf("building route converter: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[connectionID] = &destinationRoute{
		connectionID:  connectionID,
		ring:          rb,
		channelOffset: channelOffset,
		chain:         chain,
		conv:          conv,
		scratch:       frame.Silence(dispatchScratchFrames),
	}
	d.rebuildRouteList()
	d.logger.Debug("route added", "connection", connectionID, "channelOffset", channelOffset, "effects", len(descriptors))
	return nil
}

// RemoveRoute unregisters a connection and reports whether any routes
// remain.
func (d *Destination) RemoveRoute(connectionID uuid.UUID) (hasRemaining bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routes, connectionID)
	d.rebuildRouteList()
	d.logger.Debug("route removed", "connection", connectionID, "remaining", len(d.routes))
	return len(d.routes) > 0
}

// SetEffects hot-swaps a route's chain without removing the route.
func (d *Destination) SetEffects(connectionID uuid.UUID, descriptors []effects.Descriptor) error {
	chain, err := effects.NewChain(descriptors, d.canonical)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	// render reads route fields lock-free from its routeList snapshot, so
	// the new chain must land on a fresh route entry; a snapshot taken
	// before the swap keeps draining through the old chain.
	swapped := *r
	swapped.chain = chain
	d.routes[connectionID] = &swapped
	d.rebuildRouteList()
	d.logger.Debug("effects swapped", "connection", connectionID, "effects", len(descriptors))
	return nil
}

// Routes returns a control-thread snapshot of the current route bindings,
// with each route's effect descriptors, for hot-reconfiguration transfer.
func (d *Destination) Routes() []DestinationRouteBinding {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DestinationRouteBinding, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, DestinationRouteBinding{
			ConnectionID:  r.connectionID,
			Ring:          r.ring,
			ChannelOffset: r.channelOffset,
			Effects:       r.chain.Descriptors(),
		})
	}
	return out
}

// Start is idempotent and delegates to the render endpoint.
func (d *Destination) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := d.ep.Start(); err != nil {
		return fmt.Errorf("%w: destination %s: %v", ErrHardwareStartFailed, d.deviceUID, err)
	}
	d.started = true
	d.logger.Debug("destination started")
	return nil
}

// Stop is idempotent and synchronous: once it returns, the render callback
// will not fire again.
func (d *Destination) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	if err := d.ep.Stop(); err != nil {
		d.logger.Error("error stopping render endpoint", "err", err)
	}
	d.logger.Debug("destination stopped")
}

// render fills one hardware pull. Returns the number of frames actually
// produced: the max across routes, so a stalled route cannot silence the
// others. Runs on the realtime render thread; any internal fault degrades
// to silence for this pull.
func (d *Destination) render(buf endpoint.RenderBuffer, frameCapacity int) int {
	d.mu.Lock()
	routes := d.routeList
	d.mu.Unlock()

	buf.Zero()
	channels := buf.Channels(frameCapacity)
	if channels == 0 || frameCapacity == 0 {
		return 0
	}

	deviceRate := d.renderFormat.SampleRate
	canonicalRate := d.canonical.SampleRate

	maxProduced := 0
	for _, r := range routes {
		canonicalFrames := int(math.Round(float64(frameCapacity) * canonicalRate / deviceRate))
		if canonicalFrames > len(r.scratch) {
			canonicalFrames = len(r.scratch)
		}
		available := r.ring.Read(r.scratch, canonicalFrames)
		r.chain.Process(r.scratch, canonicalFrames)
		out, n := r.conv.Convert(r.scratch[:canonicalFrames], canonicalFrames)

		mixFrames := n
		if mixFrames > frameCapacity {
			mixFrames = frameCapacity
		}
		mixInto(buf, out, mixFrames, frameCapacity, channels, r.channelOffset)

		produced := int(math.Round(float64(available) * deviceRate / canonicalRate))
		if produced > frameCapacity {
			produced = frameCapacity
		}
		if produced > maxProduced {
			maxProduced = produced
		}
	}
	return maxProduced
}

// mixInto sums mono samples into one channel of the hardware buffer,
// hard-clamping to [-1, 1]. The interleaved and planar paths must produce
// identical numeric results for the same input.
func mixInto(buf endpoint.RenderBuffer, samples frame.PCMFrame, frameCount, frameCapacity, channels, channelOffset int) {
	if channelOffset < 0 || channelOffset >= channels {
		return
	}
	if buf.Interleaved != nil {
		for i := 0; i < frameCount; i++ {
			idx := i*channels + channelOffset
			buf.Interleaved[idx] = clamp(buf.Interleaved[idx] + samples[i])
		}
		return
	}
	ch := buf.Planar[channelOffset]
	for i := 0; i < frameCount; i++ {
		ch[i] = clamp(ch[i] + samples[i])
	}
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func (d *Destination) rebuildRouteList() {
	list := make([]*destinationRoute, 0, len(d.routes))
	for _, r := range d.routes {
		list = append(list, r)
	}
	d.routeList = list
}

// DestinationRouteBinding is a destination route's identity for transfer
// during hot-reconfiguration.
type DestinationRouteBinding struct {
	ConnectionID  uuid.UUID
	Ring          *ring.Buffer
	ChannelOffset int
	Effects       []effects.Descriptor
}
