package device

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// ToneCaptureEndpoint is a synthetic microphone producing a continuous
// sine tone on every channel. Start spawns a pacing goroutine that pushes
// fixed-size blocks at realtime intervals; Stop is synchronous, returning
// only once the goroutine has exited and no further callback can fire.
type ToneCaptureEndpoint struct {
	logger *slog.Logger
	uuid   uuid.UUID

	streamFormat format.StreamFormat
	frequency    float64
	amplitude    float64
	blockFrames  int

	mu      sync.Mutex
	handler endpoint.FrameHandler
	stop    chan struct{}
	done    *sync.WaitGroup
	phase   float64
}

// NewToneCaptureEndpoint creates a tone generator for the given format.
// blockFrames determines the size of each delivered buffer (typically 512
// or 1024).
func NewToneCaptureEndpoint(streamFormat format.StreamFormat, frequency, amplitude float64, blockFrames int) *ToneCaptureEndpoint {
	id := uuid.New()
	return &ToneCaptureEndpoint{
		logger: slog.Default().With(
			"tone capture endpoint uuid", id,
			"frequency", frequency,
		),
		uuid:         id,
		streamFormat: streamFormat,
		frequency:    frequency,
		amplitude:    amplitude,
		blockFrames:  blockFrames,
	}
}

func (ep *ToneCaptureEndpoint) SetFrameHandler(handler endpoint.FrameHandler) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.handler = handler
}

// Start begins tone delivery. Idempotent.
func (ep *ToneCaptureEndpoint) Start() error {
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
	channels := ep.streamFormat.NumChannels
	block := make(frame.PCMFrame, ep.blockFrames*channels)
	step := 2 * math.Pi * ep.frequency / ep.streamFormat.SampleRate

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
				handler := ep.handler
				phase := ep.phase
				ep.mu.Unlock()

				for f := 0; f < ep.blockFrames; f++ {
					v := float32(ep.amplitude * math.Sin(phase))
					phase += step
					for ch := 0; ch < channels; ch++ {
						block[f*channels+ch] = v
					}
				}

				ep.mu.Lock()
				ep.phase = math.Mod(phase, 2*math.Pi)
				ep.mu.Unlock()

				if handler != nil {
					handler(block, ep.blockFrames, channels)
				}
			}
		}
	}()

	ep.logger.Debug("tone capture started", "blockFrames", ep.blockFrames, "interval", interval)
	return nil
}

// Stop halts delivery and waits for the pacing goroutine to exit.
// Idempotent.
func (ep *ToneCaptureEndpoint) Stop() error {
	ep.mu.Lock()
	stop, done := ep.stop, ep.done
	ep.stop, ep.done = nil, nil
	ep.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	done.Wait()
	ep.logger.Debug("tone capture stopped")
	return nil
}
