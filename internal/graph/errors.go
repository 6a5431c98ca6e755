package graph

import "errors"

var (
	// ErrDeviceNotFound is returned when a device UID no longer resolves.
	// Recoverable: the device may reappear, and nothing was mutated.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceFormatUnavailable is returned when a device UID resolves but
	// its native format cannot be queried. Recoverable; the connection is
	// not created.
	ErrDeviceFormatUnavailable = errors.New("device format unavailable")

	// ErrProcessingNodeNotFound is returned for a stale processing node id.
	ErrProcessingNodeNotFound = errors.New("processing node not found")

	// ErrInvalidConnection is returned for endpoint direction mismatches
	// and device self-loops. Programmer error, rejected before any side
	// effect.
	ErrInvalidConnection = errors.New("invalid connection")

	// ErrHardwareStartFailed is returned when a platform endpoint fails to
	// start; the connection attempt is rolled back in full.
	ErrHardwareStartFailed = errors.New("hardware endpoint failed to start")

	// ErrConnectionNotFound is returned for a stale connection id.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNodeHasConnections is returned when removing a processing node
	// that still terminates live connections.
	ErrNodeHasConnections = errors.New("processing node still has connections")
)
