package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// NullRenderEndpoint is a synthetic speaker that pulls audio from its
// provider at realtime intervals and discards it. It keeps a destination's
// rings draining at hardware pace when no audible output is wanted.
type NullRenderEndpoint struct {
	logger *slog.Logger
	uuid   uuid.UUID

	streamFormat format.StreamFormat
	blockFrames  int

	mu       sync.Mutex
	provider endpoint.FrameProvider
	stop     chan struct{}
	done     *sync.WaitGroup
}

func NewNullRenderEndpoint(streamFormat format.StreamFormat, blockFrames int) (*NullRenderEndpoint, error) {
	if err := streamFormat.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New()
	return &NullRenderEndpoint{
		logger:       slog.Default().With("null render endpoint uuid", id),
		uuid:         id,
		streamFormat: streamFormat,
		blockFrames:  blockFrames,
	}, nil
}

func (ep *NullRenderEndpoint) SetFrameProvider(provider endpoint.FrameProvider) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.provider = provider
}

// Start begins pulling from the provider. Idempotent.
func (ep *NullRenderEndpoint) Start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := &sync.WaitGroup{}
	done.Add(1)
	ep.stop = stop
	ep.done = done

	interval := time.Duration(float64(ep.blockFrames) / ep.streamFormat.SampleRate * float64(time.Second))
	pull := make(frame.PCMFrame, ep.blockFrames*ep.streamFormat.NumChannels)

	go func() {
		defer done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ep.mu.Lock()
				provider := ep.provider
				ep.mu.Unlock()
				if provider == nil {
					continue
				}
				provider(endpoint.RenderBuffer{Interleaved: pull}, ep.blockFrames)
			}
		}
	}()

	ep.logger.Debug("null render started", "blockFrames", ep.blockFrames, "interval", interval)
	return nil
}

// Stop halts pulling and waits for the pacing goroutine to exit.
// Idempotent.
func (ep *NullRenderEndpoint) Stop() error {
	ep.mu.Lock()
	stop, done := ep.stop, ep.done
	ep.stop, ep.done = nil, nil
	ep.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	done.Wait()
	ep.logger.Debug("null render stopped")
	return nil
}
