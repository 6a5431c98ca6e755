// Package graph implements the realtime routing core: sources,
// destinations, processing nodes, the connections between them, and the
// engine that owns and reconfigures them while audio keeps flowing.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/convert"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/ring"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
)

// DefaultRingCapacityFrames is the per-connection ring capacity used when
// the caller does not configure one. At a 48kHz canonical rate this is
// roughly 170ms of headroom between producer and consumer.
const DefaultRingCapacityFrames = 8192

// Config carries the tunables of the engine.
type Config struct {
	RingCapacityFrames int
	ResampleQuality    int
}

func (c Config) withDefaults() Config {
	if c.RingCapacityFrames <= 0 {
		c.RingCapacityFrames = DefaultRingCapacityFrames
	}
	if c.ResampleQuality <= 0 {
		c.ResampleQuality = convert.DefaultQuality
	}
	return c
}

// deviceKey identifies one direction of one hardware device.
type deviceKey struct {
	uid       string
	direction endpoint.Direction
}

// destinationKey identifies one render endpoint: the same physical device
// may host independent destinations on different channel offsets.
type destinationKey struct {
	uid     string
	channel int
}

// Graph is the routing engine. It exclusively owns every Source,
// Destination, ProcessingNode, and Connection, re-derives the canonical
// internal format as topology and hardware formats change, and rebuilds
// affected endpoints in place without dropping connections.
//
// Graph methods belong to the control domain: they may block briefly, and
// they are safe for concurrent use from UI and notification threads. The
// realtime domain only ever touches rings and route snapshots.
type Graph struct {
	logger *slog.Logger
	api    endpoint.API
	cfg    Config

	mu              sync.Mutex
	canonical       format.StreamFormat
	deviceFormats   map[deviceKey]format.StreamFormat
	sources         map[string]*Source
	destinations    map[destinationKey]*Destination
	nodes           map[uuid.UUID]*ProcessingNode
	nodeOrder       []uuid.UUID
	connections     map[uuid.UUID]*Connection
	connectionOrder []uuid.UUID
	stopped         bool
}

// New creates an empty Graph on top of the given platform API. A nil
// logger falls back to slog.Default(). The graph is constructed at session
// start and torn down with Stop at session end; it persists nothing.
func New(api endpoint.API, cfg Config, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		logger:        logger.With("component", "routing graph"),
		api:           api,
		cfg:           cfg.withDefaults(),
		canonical:     format.Canonical(),
		deviceFormats: make(map[deviceKey]format.StreamFormat),
		sources:       make(map[string]*Source),
		destinations:  make(map[destinationKey]*Destination),
		nodes:         make(map[uuid.UUID]*ProcessingNode),
		connections:   make(map[uuid.UUID]*Connection),
	}
}

// CanonicalFormat returns the current canonical internal format.
func (g *Graph) CanonicalFormat() format.StreamFormat {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canonical
}

// CreateProcessingNode adds an addressable effect-chain node and returns
// its id. The chain is instantiated at the current canonical format.
func (g *Graph) CreateProcessingNode(descriptors []effects.Descriptor) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New()
	node, err := NewProcessingNode(id, descriptors, g.canonical, g.logger)
	if err != nil {
		return uuid.Nil, err
	}
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	g.logger.Info("processing node created", "node", id, "effects", len(descriptors))
	return id, nil
}

// RemoveProcessingNode removes a node that no connection terminates on.
func (g *Graph) RemoveProcessingNode(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessingNodeNotFound, id)
	}
	if !node.HasNoConnections() {
		return fmt.Errorf("%w: %s", ErrNodeHasConnections, id)
	}
	delete(g.nodes, id)
	g.nodeOrder = removeID(g.nodeOrder, id)
	g.logger.Info("processing node removed", "node", id)
	return nil
}

// CreateConnection establishes a new edge from one endpoint to another,
// resolving (and on first use creating and starting) the underlying
// Source/Destination/ProcessingNode on each side and allocating the
// connection's dedicated ring buffer.
//
// Creation is atomic: on any failure every route and endpoint created
// during the attempt is rolled back and the graph is unchanged.
func (g *Graph) CreateConnection(
	id uuid.UUID,
	from, to Endpoint,
	descriptors []effects.Descriptor,
) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return fmt.Errorf("%w: graph is stopped", ErrInvalidConnection)
	}
	if _, exists := g.connections[id]; exists {
		return fmt.Errorf("%w: connection id %s already exists", ErrInvalidConnection, id)
	}
	if err := g.validateEndpoints(from, to); err != nil {
		return err
	}

	// Resolve hardware formats first: resolution failures must reject the
	// request before any side effect.
	var err error
	if from.Kind == EndpointDevice {
		from.NativeID, err = g.resolveDeviceLocked(from.DeviceUID, endpoint.DirectionCapture)
		if err != nil {
			return err
		}
	}
	if to.Kind == EndpointDevice {
		to.NativeID, err = g.resolveDeviceLocked(to.DeviceUID, endpoint.DirectionRender)
		if err != nil {
			return err
		}
	}

	// The new devices may raise the canonical sample rate. Switch the
	// canonical value now so the new routes are built against it; existing
	// endpoints are rebuilt only after the connection has fully succeeded.
	prevCanonical := g.canonical
	newCanonical := g.deriveCanonicalLocked(from, to)

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		g.canonical = prevCanonical
	}
	g.canonical = newCanonical

	rb := ring.New(g.cfg.RingCapacityFrames, g.canonical.NumChannels)

	// Wire the consuming side first so the producing side's delivery hook
	// has a node to wake.
	var onDelivered func(frameCount int)
	switch to.Kind {
	case EndpointDevice:
		dst, created, err := g.destinationForLocked(to)
		if err != nil {
			rollback()
			return err
		}
		if created {
			key := destinationKey{uid: to.DeviceUID, channel: to.Channel}
			undo = append(undo, func() { delete(g.destinations, key) })
		}
		if err := dst.AddRoute(id, rb, to.Channel, descriptors); err != nil {
			rollback()
			return err
		}
		undo = append(undo, func() { dst.RemoveRoute(id) })
		if created {
			if err := dst.Start(); err != nil {
				rollback()
				return err
			}
			undo = append(undo, func() { dst.Stop() })
		}
	case EndpointNode:
		node := g.nodes[to.NodeID]
		node.AddInputRoute(id, rb)
		undo = append(undo, func() { node.RemoveInputRoute(id) })
		onDelivered = func(frameCount int) { node.ProcessInput(id, frameCount) }
		if len(descriptors) > 0 {
			// Effects on a node-terminated connection configure the node's
			// own chain.
			prev := node.Descriptors()
			if err := node.SetEffects(descriptors); err != nil {
				rollback()
				return err
			}
			undo = append(undo, func() {
				if err := node.SetEffects(prev); err != nil {
					g.logger.Error("error restoring node chain during rollback", "node", to.NodeID, "err", err)
				}
			})
		}
	}

	switch from.Kind {
	case EndpointDevice:
		src, created, err := g.sourceForLocked(from)
		if err != nil {
			rollback()
			return err
		}
		if created {
			undo = append(undo, func() { delete(g.sources, from.DeviceUID) })
		}
		if err := src.AddRoute(id, rb, from.Channel, onDelivered); err != nil {
			rollback()
			return err
		}
		undo = append(undo, func() { src.RemoveRoute(id) })
		if created {
			if err := src.Start(); err != nil {
				rollback()
				return err
			}
		}
	case EndpointNode:
		node := g.nodes[from.NodeID]
		node.AddOutputRoute(id, rb, onDelivered)
		undo = append(undo, func() { node.RemoveOutputRoute(id) })
	}

	conn := &Connection{
		ID:      id,
		From:    from,
		To:      to,
		Effects: effects.CopyDescriptors(descriptors),
		ring:    rb,
	}
	g.connections[id] = conn
	g.connectionOrder = append(g.connectionOrder, id)

	// Now that the connection is established, rebuild anything still on
	// the previous canonical format.
	if !newCanonical.Equal(prevCanonical) {
		g.reconfigureForCanonicalLocked()
	}

	g.logger.Info("connection established",
		"connection", id,
		"from", from.String(),
		"to", to.String(),
		"effects", len(descriptors),
	)
	return nil
}

// RemoveConnection tears an edge down: route references are unlinked from
// both endpoints before the ring is released, and an endpoint whose route
// set becomes empty is stopped and destroyed.
func (g *Graph) RemoveConnection(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, ok := g.connections[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}

	switch conn.From.Kind {
	case EndpointDevice:
		if src, ok := g.sources[conn.From.DeviceUID]; ok {
			if hasRemaining := src.RemoveRoute(id); !hasRemaining {
				src.Stop()
				delete(g.sources, conn.From.DeviceUID)
				g.logger.Debug("source released", "device", conn.From.DeviceUID)
			}
		}
	case EndpointNode:
		if node, ok := g.nodes[conn.From.NodeID]; ok {
			node.RemoveOutputRoute(id)
		}
	}

	switch conn.To.Kind {
	case EndpointDevice:
		key := destinationKey{uid: conn.To.DeviceUID, channel: conn.To.Channel}
		if dst, ok := g.destinations[key]; ok {
			if hasRemaining := dst.RemoveRoute(id); !hasRemaining {
				dst.Stop()
				delete(g.destinations, key)
				g.logger.Debug("destination released", "device", conn.To.DeviceUID, "channel", conn.To.Channel)
			}
		}
	case EndpointNode:
		if node, ok := g.nodes[conn.To.NodeID]; ok {
			node.RemoveInputRoute(id)
		}
	}

	delete(g.connections, id)
	g.connectionOrder = removeID(g.connectionOrder, id)

	// A departing device may lower the canonical rate.
	newCanonical := g.deriveCanonicalLocked()
	if !newCanonical.Equal(g.canonical) {
		g.canonical = newCanonical
		g.reconfigureForCanonicalLocked()
	}

	g.logger.Info("connection removed", "connection", id)
	return nil
}

// SetEffects hot-swaps the effect chain associated with a connection
// without disturbing the route, delegating to the owning Destination or
// ProcessingNode.
func (g *Graph) SetEffects(connectionID uuid.UUID, descriptors []effects.Descriptor) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, ok := g.connections[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	switch conn.To.Kind {
	case EndpointDevice:
		key := destinationKey{uid: conn.To.DeviceUID, channel: conn.To.Channel}
		dst, ok := g.destinations[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
		}
		if err := dst.SetEffects(connectionID, descriptors); err != nil {
			return err
		}
	case EndpointNode:
		node, ok := g.nodes[conn.To.NodeID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProcessingNodeNotFound, conn.To.NodeID)
		}
		if err := node.SetEffects(descriptors); err != nil {
			return err
		}
	}

	conn.Effects = effects.CopyDescriptors(descriptors)
	return nil
}

// HandleFormatChange is the hot-reconfiguration entry point, called when
// the platform reports that a hardware device's native format changed.
//
// If the device participates in any live connection the engine recomputes
// the canonical format and swaps a replacement instance in for every
// affected Source/Destination, transferring each existing route by
// identity so connections and their rings survive untouched. A mid-swap
// failure leaves already-swapped endpoints running and logs the remaining
// ones as failed; rolling the whole graph back would drop live audio.
func (g *Graph) HandleFormatChange(deviceUID string, newFormat format.StreamFormat) error {
	if err := newFormat.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.deviceFormats {
		if key.uid == deviceUID {
			g.deviceFormats[key] = newFormat
		}
	}

	if !g.deviceConnectedLocked(deviceUID) {
		g.logger.Debug("format change for unconnected device ignored", "device", deviceUID)
		return nil
	}

	g.logger.Info("hardware format changed, reconfiguring",
		"device", deviceUID,
		"format", newFormat.String(),
	)

	g.canonical = g.deriveCanonicalLocked()
	g.reconfigureForCanonicalLocked()
	return nil
}

// Snapshot returns the read-only state of the graph for rendering.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		Canonical:   g.canonical,
		Connections: make([]ConnectionInfo, 0, len(g.connectionOrder)),
		Nodes:       make([]NodeInfo, 0, len(g.nodeOrder)),
	}
	for _, id := range g.connectionOrder {
		conn := g.connections[id]
		snap.Connections = append(snap.Connections, ConnectionInfo{
			ID:        conn.ID,
			From:      conn.From,
			To:        conn.To,
			Effects:   effects.CopyDescriptors(conn.Effects),
			FillLevel: conn.FillLevel(),
		})
	}
	for _, id := range g.nodeOrder {
		node := g.nodes[id]
		snap.Nodes = append(snap.Nodes, NodeInfo{
			ID:          node.ID(),
			Effects:     node.Descriptors(),
			InputCount:  node.InputCount(),
			OutputCount: node.OutputCount(),
		})
	}
	return snap
}

// Stop synchronously tears the session down: every hardware endpoint is
// stopped (no callback fires after return) and all graph state is
// released. Idempotent.
func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true

	for _, src := range g.sources {
		src.Stop()
	}
	for _, dst := range g.destinations {
		dst.Stop()
	}
	g.sources = make(map[string]*Source)
	g.destinations = make(map[destinationKey]*Destination)
	g.nodes = make(map[uuid.UUID]*ProcessingNode)
	g.nodeOrder = nil
	g.connections = make(map[uuid.UUID]*Connection)
	g.connectionOrder = nil
	g.logger.Info("routing graph stopped")
}

// --------------------------------------------------------------------------------
// Internals. Every helper below requires g.mu to be held.

func (g *Graph) validateEndpoints(from, to Endpoint) error {
	if from.Kind == EndpointDevice && to.Kind == EndpointDevice && from.DeviceUID == to.DeviceUID {
		return fmt.Errorf("%w: self-loop through device %s", ErrInvalidConnection, from.DeviceUID)
	}
	if from.Kind == EndpointNode && to.Kind == EndpointNode && from.NodeID == to.NodeID {
		return fmt.Errorf("%w: self-loop through node %s", ErrInvalidConnection, from.NodeID)
	}
	if from.Kind == EndpointNode {
		if _, ok := g.nodes[from.NodeID]; !ok {
			return fmt.Errorf("%w: %s", ErrProcessingNodeNotFound, from.NodeID)
		}
	}
	if to.Kind == EndpointNode {
		if _, ok := g.nodes[to.NodeID]; !ok {
			return fmt.Errorf("%w: %s", ErrProcessingNodeNotFound, to.NodeID)
		}
	}
	return nil
}

// resolveDeviceLocked queries the platform for a device's native id and
// format, caching the format for canonical derivation. Errors are mapped
// into the graph's taxonomy.
func (g *Graph) resolveDeviceLocked(deviceUID string, direction endpoint.Direction) (endpoint.NativeID, error) {
	nativeID, err := g.api.ResolveNativeID(deviceUID)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, deviceUID, err)
	}
	deviceFormat, err := g.api.ResolveFormat(deviceUID, direction)
	if err != nil {
		if errors.Is(err, endpoint.ErrDeviceNotFound) {
			return 0, fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, deviceUID, err)
		}
		return 0, fmt.Errorf("%w: %s (%s): %v", ErrDeviceFormatUnavailable, deviceUID, direction, err)
	}
	if err := deviceFormat.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %s (%s): %v", ErrDeviceFormatUnavailable, deviceUID, direction, err)
	}
	g.deviceFormats[deviceKey{uid: deviceUID, direction: direction}] = deviceFormat
	return nativeID, nil
}

// deriveCanonicalLocked computes the canonical format over every device
// participating in a live connection, plus the devices of any pending
// endpoints passed in.
func (g *Graph) deriveCanonicalLocked(pending ...Endpoint) format.StreamFormat {
	var formats []format.StreamFormat
	appendDevice := func(e Endpoint, direction endpoint.Direction) {
		if e.Kind != EndpointDevice {
			return
		}
		if f, ok := g.deviceFormats[deviceKey{uid: e.DeviceUID, direction: direction}]; ok {
			formats = append(formats, f)
		}
	}
	for _, conn := range g.connections {
		appendDevice(conn.From, endpoint.DirectionCapture)
		appendDevice(conn.To, endpoint.DirectionRender)
	}
	for _, e := range pending {
		appendDevice(e, endpoint.DirectionCapture)
		appendDevice(e, endpoint.DirectionRender)
	}
	return format.Canonical(formats...)
}

func (g *Graph) deviceConnectedLocked(deviceUID string) bool {
	for _, conn := range g.connections {
		if conn.From.Kind == EndpointDevice && conn.From.DeviceUID == deviceUID {
			return true
		}
		if conn.To.Kind == EndpointDevice && conn.To.DeviceUID == deviceUID {
			return true
		}
	}
	return false
}

// sourceForLocked returns the shared Source for a device endpoint,
// creating (but not starting) it on first use.
func (g *Graph) sourceForLocked(e Endpoint) (src *Source, created bool, err error) {
	if src, ok := g.sources[e.DeviceUID]; ok {
		return src, false, nil
	}
	captureFormat := g.deviceFormats[deviceKey{uid: e.DeviceUID, direction: endpoint.DirectionCapture}]
	ep, err := g.api.NewCaptureEndpoint(e.DeviceUID, e.NativeID, captureFormat)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, e.DeviceUID, err)
	}
	src = NewSource(e.DeviceUID, e.NativeID, ep, captureFormat, g.canonical, g.cfg.ResampleQuality, g.logger)
	g.sources[e.DeviceUID] = src
	return src, true, nil
}

// destinationForLocked returns the Destination for a device endpoint's
// (uid, channel) key, creating (but not starting) it on first use.
func (g *Graph) destinationForLocked(e Endpoint) (dst *Destination, created bool, err error) {
	key := destinationKey{uid: e.DeviceUID, channel: e.Channel}
	if dst, ok := g.destinations[key]; ok {
		return dst, false, nil
	}
	renderFormat := g.deviceFormats[deviceKey{uid: e.DeviceUID, direction: endpoint.DirectionRender}]
	ep, err := g.api.NewRenderEndpoint(e.DeviceUID, e.NativeID, renderFormat)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, e.DeviceUID, err)
	}
	dst = NewDestination(e.DeviceUID, e.NativeID, ep, renderFormat, g.canonical, g.cfg.ResampleQuality, g.logger)
	g.destinations[key] = dst
	return dst, true, nil
}

// reconfigureForCanonicalLocked rebuilds every endpoint whose internal
// formats no longer match the current canonical format or its device's
// cached native format. Replacement instances adopt every route by
// identity; failures are logged per endpoint and the swap continues, so
// audio that can keep flowing does.
func (g *Graph) reconfigureForCanonicalLocked() {
	for uid, src := range g.sources {
		captureFormat := g.deviceFormats[deviceKey{uid: uid, direction: endpoint.DirectionCapture}]
		if src.CaptureFormat().Equal(captureFormat) && src.canonical.Equal(g.canonical) {
			continue
		}
		g.swapSourceLocked(uid, src, captureFormat)
	}
	for key, dst := range g.destinations {
		renderFormat := g.deviceFormats[deviceKey{uid: key.uid, direction: endpoint.DirectionRender}]
		if dst.RenderFormat().Equal(renderFormat) && dst.canonical.Equal(g.canonical) {
			continue
		}
		g.swapDestinationLocked(key, dst, renderFormat)
	}
	for _, node := range g.nodes {
		if err := node.ReinitializeChain(g.canonical); err != nil {
			g.logger.Error("failed to reinitialize processing node chain",
				"node", node.ID(),
				"err", err,
			)
		}
	}
}

// swapSourceLocked replaces one Source with an instance built for the new
// formats, transferring every route. The old instance keeps running if the
// replacement cannot be constructed.
func (g *Graph) swapSourceLocked(uid string, old *Source, captureFormat format.StreamFormat) {
	ep, err := g.api.NewCaptureEndpoint(uid, old.NativeID(), captureFormat)
	if err != nil {
		g.logger.Error("hot-reconfiguration failed for source, keeping old instance",
			"device", uid,
			"err", err,
		)
		return
	}

	replacement := NewSource(uid, old.NativeID(), ep, captureFormat, g.canonical, g.cfg.ResampleQuality, g.logger)
	for _, binding := range old.Routes() {
		if err := replacement.AddRoute(binding.ConnectionID, binding.Ring, binding.ChannelOffset, binding.OnDelivered); err != nil {
			g.logger.Error("failed to transfer route to replacement source",
				"device", uid,
				"connection", binding.ConnectionID,
				"err", err,
			)
		}
	}

	old.Stop()
	g.sources[uid] = replacement
	if err := replacement.Start(); err != nil {
		g.logger.Error("replacement source failed to start",
			"device", uid,
			"err", err,
		)
	}
}

// swapDestinationLocked is the render-side counterpart of
// swapSourceLocked.
func (g *Graph) swapDestinationLocked(key destinationKey, old *Destination, renderFormat format.StreamFormat) {
	ep, err := g.api.NewRenderEndpoint(key.uid, old.NativeID(), renderFormat)
	if err != nil {
		g.logger.Error("hot-reconfiguration failed for destination, keeping old instance",
			"device", key.uid,
			"channel", key.channel,
			"err", err,
		)
		return
	}

	replacement := NewDestination(key.uid, old.NativeID(), ep, renderFormat, g.canonical, g.cfg.ResampleQuality, g.logger)
	for _, binding := range old.Routes() {
		if err := replacement.AddRoute(binding.ConnectionID, binding.Ring, binding.ChannelOffset, binding.Effects); err != nil {
			g.logger.Error("failed to transfer route to replacement destination",
				"device", key.uid,
				"connection", binding.ConnectionID,
				"err", err,
			)
		}
	}

	old.Stop()
	g.destinations[key] = replacement
	if err := replacement.Start(); err != nil {
		g.logger.Error("replacement destination failed to start",
			"device", key.uid,
			"err", err,
		)
	}
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
