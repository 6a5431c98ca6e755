package device

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/endpoint"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// WavCaptureEndpoint is a synthetic capture device that plays a .WAV file
// in a loop, delivering blocks at realtime intervals as a microphone
// would. The whole file is decoded up front; the device's native format
// comes from the file header.
type WavCaptureEndpoint struct {
	logger *slog.Logger
	uuid   uuid.UUID

	streamFormat format.StreamFormat
	samples      frame.PCMFrame // interleaved, full file
	blockFrames  int

	mu      sync.Mutex
	handler endpoint.FrameHandler
	stop    chan struct{}
	done    *sync.WaitGroup
	cursor  int // frame offset into samples
}

// NewWavCaptureEndpoint decodes the .WAV file at audioFilePath and
// prepares it for looped delivery in blocks of blockFrames frames.
func NewWavCaptureEndpoint(audioFilePath string, blockFrames int) (*WavCaptureEndpoint, error) {
	id := uuid.New()
	logger := slog.Default().With(
		"wav capture endpoint uuid", id,
		"audioFile", audioFilePath,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error("could not open audio file", "err", err)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error("could not decode audio file", "err", decoder.Err())
		return nil, errors.New("error while decoding audio file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error("could not read PCM data from audio file", "err", err)
		return nil, err
	}

	const maxInt16 = float32(math.MaxInt16)
	samples := make(frame.PCMFrame, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / maxInt16
	}

	streamFormat := format.StreamFormat{
		SampleRate:  float64(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
		Interleaved: true,
	}
	if err := streamFormat.Validate(); err != nil {
		return nil, err
	}
	if len(samples) < blockFrames*streamFormat.NumChannels {
		return nil, errors.New("audio file shorter than one block")
	}

	logger.Debug("loaded audio file",
		"format", streamFormat.String(),
		"frames", len(samples)/streamFormat.NumChannels,
	)

	return &WavCaptureEndpoint{
		logger:       logger,
		uuid:         id,
		streamFormat: streamFormat,
		samples:      samples,
		blockFrames:  blockFrames,
	}, nil
}

// Format returns the format decoded from the file header.
func (ep *WavCaptureEndpoint) Format() format.StreamFormat {
	return ep.streamFormat
}

func (ep *WavCaptureEndpoint) SetFrameHandler(handler endpoint.FrameHandler) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.handler = handler
}

// Start begins looped playback delivery. Idempotent.
func (ep *WavCaptureEndpoint) Start() error {
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

	channels := ep.streamFormat.NumChannels
	totalFrames := len(ep.samples) / channels
	interval := time.Duration(float64(ep.blockFrames) / ep.streamFormat.SampleRate * float64(time.Second))
	block := make(frame.PCMFrame, ep.blockFrames*channels)

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
				cursor := ep.cursor
				ep.mu.Unlock()

				for f := 0; f < ep.blockFrames; f++ {
					src := ((cursor + f) % totalFrames) * channels
					copy(block[f*channels:(f+1)*channels], ep.samples[src:src+channels])
				}

				ep.mu.Lock()
				ep.cursor = (cursor + ep.blockFrames) % totalFrames
				ep.mu.Unlock()

				if handler != nil {
					handler(block, ep.blockFrames, channels)
				}
			}
		}
	}()

	ep.logger.Debug("wav capture started", "blockFrames", ep.blockFrames, "interval", interval)
	return nil
}

// Stop halts delivery and waits for the pacing goroutine to exit.
// Idempotent.
func (ep *WavCaptureEndpoint) Stop() error {
	ep.mu.Lock()
	stop, done := ep.stop, ep.done
	ep.stop, ep.done = nil, nil
	ep.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	done.Wait()
	ep.logger.Debug("wav capture stopped")
	return nil
}
