package graph

import (
	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/effects"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/internal/ring"
)

// Connection is one established edge of the graph. It owns exactly one
// ring buffer for its lifetime; the Source/Destination/ProcessingNode
// route entries on both ends reference that ring but never own it.
//
// Lifecycle is Requested -> Established -> Torn-down with no intermediate
// states: CreateConnection either fully succeeds or registers nothing.
type Connection struct {
	ID      uuid.UUID
	From    Endpoint
	To      Endpoint
	Effects []effects.Descriptor

	ring *ring.Buffer
}

// FillLevel reports the connection ring's current fill in [0, 1].
func (c *Connection) FillLevel() float64 {
	return c.ring.FillLevel()
}
