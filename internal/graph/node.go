package graph

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/ring"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

type nodeInputRoute struct {
	connectionID uuid.UUID
	ring         *ring.Buffer
}

type nodeOutputRoute struct {
	connectionID uuid.UUID
	ring         *ring.Buffer
	onDelivered  func(frameCount int)
}

// ProcessingNode hosts an effect chain as an addressable mid-graph node.
// It behaves as a destination for its input routes (producers write into
// them) and as a source for its output routes (consumed downstream).
//
// ProcessInput runs on whichever realtime thread delivered the input,
// invoked synchronously through the producing route's completion hook, so
// a chain of nodes forms a processing pipeline without extra threads. All
// node rings carry the canonical format.
type ProcessingNode struct {
	logger *slog.Logger
	id     uuid.UUID

	mu           sync.Mutex
	streamFormat format.StreamFormat
	chain        *effects.Chain
	inputs       map[uuid.UUID]*nodeInputRoute
	outputs      map[uuid.UUID]*nodeOutputRoute
	outputList   []*nodeOutputRoute
	work         frame.PCMFrame
}

// NewProcessingNode builds a node whose chain is instantiated from
// descriptors at the given (canonical) format.
func NewProcessingNode(
	id uuid.UUID,
	descriptors []effects.Descriptor,
	streamFormat format.StreamFormat,
	logger *slog.Logger,
) (*ProcessingNode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chain, err := effects.NewChain(descriptors, streamFormat)
	if err != nil {
		return nil, err
	}
	return &ProcessingNode{
		logger:       logger.With("processing node", id),
		id:           id,
		streamFormat: streamFormat,
		chain:        chain,
		inputs:       make(map[uuid.UUID]*nodeInputRoute),
		outputs:      make(map[uuid.UUID]*nodeOutputRoute),
		work:         frame.Silence(dispatchScratchFrames),
	}, nil
}

// ID returns the node's graph-wide id.
func (n *ProcessingNode) ID() uuid.UUID { return n.id }

// AddInputRoute registers a connection that feeds this node.
func (n *ProcessingNode) AddInputRoute(connectionID uuid.UUID, rb *ring.Buffer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs[connectionID] = &nodeInputRoute{connectionID: connectionID, ring: rb}
	n.logger.Debug("input route added", "connection", connectionID)
}

// AddOutputRoute registers a connection this node publishes to.
// onDelivered may be nil; when set it is fired synchronously after each
// write, which is how downstream nodes are woken.
func (n *ProcessingNode) AddOutputRoute(connectionID uuid.UUID, rb *ring.Buffer, onDelivered func(frameCount int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outputs[connectionID] = &nodeOutputRoute{
		connectionID: connectionID,
		ring:         rb,
		onDelivered:  onDelivered,
	}
	n.rebuildOutputList()
	n.logger.Debug("output route added", "connection", connectionID)
}

// RemoveInputRoute unregisters an input connection.
func (n *ProcessingNode) RemoveInputRoute(connectionID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inputs, connectionID)
	n.logger.Debug("input route removed", "connection", connectionID)
}

// RemoveOutputRoute unregisters an output connection.
func (n *ProcessingNode) RemoveOutputRoute(connectionID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.outputs, connectionID)
	n.rebuildOutputList()
	n.logger.Debug("output route removed", "connection", connectionID)
}

// HasNoConnections reports whether the node terminates no routes at all
// and is therefore safe to remove from the graph.
func (n *ProcessingNode) HasNoConnections() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inputs) == 0 && len(n.outputs) == 0
}

// InputCount and OutputCount report route counts for graph snapshots.
func (n *ProcessingNode) InputCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inputs)
}

func (n *ProcessingNode) OutputCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outputs)
}

// ProcessInput drains frameCount frames from the named input route, runs
// the chain once, then writes the processed frames to every current output
// route and fires each route's completion hook. Runs on a realtime thread;
// an unknown route degrades to doing nothing rather than erroring.
func (n *ProcessingNode) ProcessInput(connectionID uuid.UUID, frameCount int) {
	n.mu.Lock()
	in, ok := n.inputs[connectionID]
	outs := n.outputList
	chain := n.chain
	work := n.work
	n.mu.Unlock()

	if !ok || frameCount <= 0 {
		return
	}
	if frameCount > len(work) {
		frameCount = len(work)
	}

	in.ring.Read(work, frameCount)
	chain.Process(work, frameCount)

	for _, out := range outs {
		out.ring.Write(work[:frameCount], frameCount)
		if out.onDelivered != nil {
			out.onDelivered(frameCount)
		}
	}
}

// SetEffects hot-swaps the node's chain from new descriptors.
func (n *ProcessingNode) SetEffects(descriptors []effects.Descriptor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	chain, err := effects.NewChain(descriptors, n.streamFormat)
	if err != nil {
		return err
	}
	n.chain = chain
	n.logger.Debug("effects swapped", "effects", len(descriptors))
	return nil
}

// ReinitializeChain rebuilds the chain and working buffers for a new
// canonical format, preserving every route binding. Called by the graph
// during hot-reconfiguration.
func (n *ProcessingNode) ReinitializeChain(newFormat format.StreamFormat) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	chain, err := effects.NewChain(n.chain.Descriptors(), newFormat)
	if err != nil {
		return err
	}
	n.streamFormat = newFormat
	n.chain = chain
	n.work = frame.Silence(dispatchScratchFrames)
	n.logger.Debug("chain reinitialized", "format", newFormat.String())
	return nil
}

// Descriptors returns the node chain's current descriptors.
func (n *ProcessingNode) Descriptors() []effects.Descriptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Descriptors()
}

func (n *ProcessingNode) rebuildOutputList() {
	list := make([]*nodeOutputRoute, 0, len(n.outputs))
	for _, out := range n.outputs {
		list = append(list, out)
	}
	n.outputList = list
}
