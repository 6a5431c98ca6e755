// Package device provides in-process implementations of the platform
// endpoint contracts: synthetic capture/render endpoints for tests and
// demos, plus a static registry standing in for OS device resolution.
package device

import (
	"fmt"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
)

type registration struct {
	id      endpoint.NativeID
	format  format.StreamFormat
	capture endpoint.CaptureEndpoint
	render  endpoint.RenderEndpoint
	// formatBroken simulates a device whose format query fails while the
	// UID still resolves.
	formatBroken bool
}

// StaticAPI implements endpoint.API over a fixed registry of endpoints
// registered by the caller. It is the in-process stand-in for a platform
// audio adapter: tests and the demo binary register synthetic devices
// under a UID and the routing graph resolves and opens them exactly as it
// would real hardware.
type StaticAPI struct {
	mu      sync.Mutex
	nextID  endpoint.NativeID
	entries map[string]*registration
}

// NewStaticAPI returns an empty registry.
func NewStaticAPI() *StaticAPI {
	return &StaticAPI{
		entries: make(map[string]*registration),
	}
}

// RegisterCapture adds a capture device under the given UID.
func (api *StaticAPI) RegisterCapture(deviceUID string, f format.StreamFormat, ep endpoint.CaptureEndpoint) endpoint.NativeID {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry := api.entryLocked(deviceUID)
	entry.format = f
	entry.capture = ep
	return entry.id
}

// RegisterRender adds a render device under the given UID.
func (api *StaticAPI) RegisterRender(deviceUID string, f format.StreamFormat, ep endpoint.RenderEndpoint) endpoint.NativeID {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry := api.entryLocked(deviceUID)
	entry.format = f
	entry.render = ep
	return entry.id
}

// SetFormat changes a registered device's reported native format,
// simulating the hardware-side half of a format-change notification.
func (api *StaticAPI) SetFormat(deviceUID string, f format.StreamFormat) error {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry, ok := api.entries[deviceUID]
	if !ok {
		return endpoint.ErrDeviceNotFound
	}
	entry.format = f
	return nil
}

// BreakFormat makes format resolution fail for a device whose UID still
// resolves, for exercising the DeviceFormatUnavailable path.
func (api *StaticAPI) BreakFormat(deviceUID string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if entry, ok := api.entries[deviceUID]; ok {
		entry.formatBroken = true
	}
}

// Remove unregisters a device, simulating hardware disappearing between
// resolve calls.
func (api *StaticAPI) Remove(deviceUID string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	delete(api.entries, deviceUID)
}

// ResolveFormat implements endpoint.Resolver.
func (api *StaticAPI) ResolveFormat(deviceUID string, direction endpoint.Direction) (format.StreamFormat, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry, ok := api.entries[deviceUID]
	if !ok {
		return format.StreamFormat{}, endpoint.ErrDeviceNotFound
	}
	if entry.formatBroken {
		return format.StreamFormat{}, endpoint.ErrFormatUnavailable
	}
	switch direction {
	case endpoint.DirectionCapture:
		if entry.capture == nil {
			return format.StreamFormat{}, endpoint.ErrFormatUnavailable
		}
	case endpoint.DirectionRender:
		if entry.render == nil {
			return format.StreamFormat{}, endpoint.ErrFormatUnavailable
		}
	}
	return entry.format, nil
}

// ResolveNativeID implements endpoint.Resolver.
func (api *StaticAPI) ResolveNativeID(deviceUID string) (endpoint.NativeID, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry, ok := api.entries[deviceUID]
	if !ok {
		return 0, endpoint.ErrDeviceNotFound
	}
	return entry.id, nil
}

// NewCaptureEndpoint implements endpoint.API. The registered endpoint is
// shared across reopens of the same UID, mirroring how a platform adapter
// reopens the one physical device.
func (api *StaticAPI) NewCaptureEndpoint(deviceUID string, _ endpoint.NativeID, _ format.StreamFormat) (endpoint.CaptureEndpoint, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry, ok := api.entries[deviceUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", endpoint.ErrDeviceNotFound, deviceUID)
	}
	if entry.capture == nil {
		return nil, fmt.Errorf("%w: no capture endpoint for %s", endpoint.ErrFormatUnavailable, deviceUID)
	}
	return entry.capture, nil
}

// NewRenderEndpoint implements endpoint.API.
func (api *StaticAPI) NewRenderEndpoint(deviceUID string, _ endpoint.NativeID, _ format.StreamFormat) (endpoint.RenderEndpoint, error) {
	api.mu.Lock()
	defer api.mu.Unlock()
	entry, ok := api.entries[deviceUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", endpoint.ErrDeviceNotFound, deviceUID)
	}
	if entry.render == nil {
		return nil, fmt.Errorf("%w: no render endpoint for %s", endpoint.ErrFormatUnavailable, deviceUID)
	}
	return entry.render, nil
}

// entryLocked returns the registration for a UID, creating it with a fresh
// native id on first use.
func (api *StaticAPI) entryLocked(deviceUID string) *registration {
	if entry, ok := api.entries[deviceUID]; ok {
		return entry
	}
	api.nextID++
	entry := &registration{id: api.nextID}
	api.entries[deviceUID] = entry
	return entry
}
