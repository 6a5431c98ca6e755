package graph

import (
	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
)

// ConnectionInfo is the read-only view of one connection, for rendering a
// patchbay. FillLevel is a point-in-time meter of the connection's ring.
type ConnectionInfo struct {
	ID        uuid.UUID
	From      Endpoint
	To        Endpoint
	Effects   []effects.Descriptor
	FillLevel float64
}

// NodeInfo is the read-only view of one processing node.
type NodeInfo struct {
	ID          uuid.UUID
	Effects     []effects.Descriptor
	InputCount  int
	OutputCount int
}

// Snapshot is the complete read-only state a UI needs to draw the graph.
// Nothing else crosses the UI boundary.
type Snapshot struct {
	Canonical   format.StreamFormat
	Connections []ConnectionInfo
	Nodes       []NodeInfo
}
