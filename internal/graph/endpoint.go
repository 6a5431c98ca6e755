package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
)

// EndpointKind tags the closed variant of things a connection can
// terminate on. Graph logic switches exhaustively over the kind, covering
// every endpoint combination at compile time rather than through
// inheritance.
type EndpointKind int

const (
	// EndpointDevice is a hardware device identified by UID plus the
	// channel offset the connection maps to on that device.
	EndpointDevice EndpointKind = iota

	// EndpointNode is an in-graph processing node identified by uuid.
	EndpointNode
)

// Endpoint is one end of a Connection: a tagged variant of
// {Device(uid, nativeID, channel), Node(id)}.
//
// For a device endpoint Channel is the offset of the first hardware
// channel the connection maps to, letting sub-ranges of multi-channel
// devices route independently. NativeID is filled in by the graph when the
// device is resolved.
type Endpoint struct {
	Kind      EndpointKind
	DeviceUID string
	NativeID  endpoint.NativeID
	NodeID    uuid.UUID
	Channel   int
}

// DeviceEndpoint references a hardware device at the given channel offset.
func DeviceEndpoint(deviceUID string, channel int) Endpoint {
	return Endpoint{Kind: EndpointDevice, DeviceUID: deviceUID, Channel: channel}
}

// NodeEndpoint references a processing node.
func NodeEndpoint(id uuid.UUID) Endpoint {
	return Endpoint{Kind: EndpointNode, NodeID: id}
}

func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointDevice:
		return fmt.Sprintf("device(%s, ch %d)", e.DeviceUID, e.Channel)
	case EndpointNode:
		return fmt.Sprintf("node(%s)", e.NodeID)
	default:
		return "unknown endpoint"
	}
}
