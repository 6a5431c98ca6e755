package device

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// ManualCaptureEndpoint is a capture endpoint driven entirely by the
// caller: Push stands in for the platform's realtime capture callback.
// Frames pushed while the endpoint is stopped are discarded, which is
// exactly the guarantee Stop makes for real hardware.
type ManualCaptureEndpoint struct {
	mu      sync.Mutex
	handler endpoint.FrameHandler
	started bool
}

func NewManualCaptureEndpoint() *ManualCaptureEndpoint {
	return &ManualCaptureEndpoint{}
}

func (ep *ManualCaptureEndpoint) SetFrameHandler(handler endpoint.FrameHandler) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.handler = handler
}

func (ep *ManualCaptureEndpoint) Start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.started = true
	return nil
}

func (ep *ManualCaptureEndpoint) Stop() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.started = false
	return nil
}

// Started reports whether the endpoint is currently running.
func (ep *ManualCaptureEndpoint) Started() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.started
}

// Push delivers one captured buffer to the handler, as the platform's
// realtime thread would.
func (ep *ManualCaptureEndpoint) Push(samples frame.PCMFrame, frameCount, channelCount int) {
	ep.mu.Lock()
	handler := ep.handler
	started := ep.started
	ep.mu.Unlock()
	if !started || handler == nil {
		return
	}
	handler(samples, frameCount, channelCount)
}

// ManualRenderEndpoint is the render counterpart: Pull stands in for the
// platform's realtime render callback.
type ManualRenderEndpoint struct {
	mu       sync.Mutex
	provider endpoint.FrameProvider
	started  bool
}

func NewManualRenderEndpoint() *ManualRenderEndpoint {
	return &ManualRenderEndpoint{}
}

func (ep *ManualRenderEndpoint) SetFrameProvider(provider endpoint.FrameProvider) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.provider = provider
}

func (ep *ManualRenderEndpoint) Start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.started = true
	return nil
}

func (ep *ManualRenderEndpoint) Stop() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.started = false
	return nil
}

// Started reports whether the endpoint is currently running.
func (ep *ManualRenderEndpoint) Started() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.started
}

// Pull asks the provider to fill buf, as the platform's realtime thread
// would, and returns the frames produced. A stopped endpoint produces
// nothing.
func (ep *ManualRenderEndpoint) Pull(buf endpoint.RenderBuffer, frameCapacity int) int {
	ep.mu.Lock()
	provider := ep.provider
	started := ep.started
	ep.mu.Unlock()
	if !started || provider == nil {
		return 0
	}
	return provider(buf, frameCapacity)
}
