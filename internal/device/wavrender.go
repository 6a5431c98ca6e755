package device

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// WavRenderEndpoint is a synthetic render device that pulls audio from its
// provider at realtime intervals and records it to a 16-bit .WAV file.
// Useful for demos and for inspecting what a destination actually mixed.
type WavRenderEndpoint struct {
	logger *slog.Logger
	uuid   uuid.UUID

	streamFormat format.StreamFormat
	blockFrames  int

	fileHandle *os.File
	encoder    *wav.Encoder

	mu       sync.Mutex
	provider endpoint.FrameProvider
	stop     chan struct{}
	done     *sync.WaitGroup
	closed   bool
}

// NewWavRenderEndpoint creates the output file immediately; audio is
// appended while the endpoint runs and the header is finalised by Close.
func NewWavRenderEndpoint(audioFilePath string, streamFormat format.StreamFormat, blockFrames int) (*WavRenderEndpoint, error) {
	id := uuid.New()
	logger := slog.Default().With(
		"wav render endpoint uuid", id,
		"audioFile", audioFilePath,
	)

	if err := streamFormat.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error("could not create audio file", "err", err)
		return nil, err
	}

	encoder := wav.NewEncoder(f, int(streamFormat.SampleRate), 16, streamFormat.NumChannels, 1)

	return &WavRenderEndpoint{
		logger:       logger,
		uuid:         id,
		streamFormat: streamFormat,
		blockFrames:  blockFrames,
		fileHandle:   f,
		encoder:      encoder,
	}, nil
}

func (ep *WavRenderEndpoint) SetFrameProvider(provider endpoint.FrameProvider) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.provider = provider
}

// Start begins pulling from the provider. Idempotent.
func (ep *WavRenderEndpoint) Start() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.stop != nil || ep.closed {
		return nil
	}

	stop := make(chan struct{})
	done := &sync.WaitGroup{}
	done.Add(1)
	ep.stop = stop
	ep.done = done

	channels := ep.streamFormat.NumChannels
	interval := time.Duration(float64(ep.blockFrames) / ep.streamFormat.SampleRate * float64(time.Second))
	pull := make(frame.PCMFrame, ep.blockFrames*channels)
	ints := make([]int, ep.blockFrames*channels)

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

				buf := endpoint.RenderBuffer{Interleaved: pull}
				provider(buf, ep.blockFrames)
				ep.writeBlock(pull, ints)
			}
		}
	}()

	ep.logger.Debug("wav render started", "blockFrames", ep.blockFrames, "interval", interval)
	return nil
}

// Stop halts pulling and waits for the pacing goroutine to exit.
// Idempotent; the file stays open for further Start calls until Close.
func (ep *WavRenderEndpoint) Stop() error {
	ep.mu.Lock()
	stop, done := ep.stop, ep.done
	ep.stop, ep.done = nil, nil
	ep.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	done.Wait()
	ep.logger.Debug("wav render stopped")
	return nil
}

// Close stops the endpoint, finalises the .WAV header, and closes the
// file.
func (ep *WavRenderEndpoint) Close() error {
	if err := ep.Stop(); err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return nil
	}
	ep.closed = true

	if err := ep.encoder.Close(); err != nil {
		ep.logger.Error("error finalising wav encoder", "err", err)
		return err
	}
	if err := ep.fileHandle.Close(); err != nil {
		return err
	}
	ep.logger.Debug("wav render closed")
	return nil
}

func (ep *WavRenderEndpoint) writeBlock(pull frame.PCMFrame, ints []int) {
	const maxInt16 = float64(math.MaxInt16)
	for i, v := range pull {
		ints[i] = int(float64(v) * maxInt16)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return
	}
	err := ep.encoder.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: ep.streamFormat.NumChannels,
			SampleRate:  int(ep.streamFormat.SampleRate),
		},
		Data:           ints,
		SourceBitDepth: 16,
	})
	if err != nil {
		ep.logger.Error("error writing wav block", "err", err)
	}
}
