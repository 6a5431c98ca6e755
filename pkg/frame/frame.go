package frame

// PCMFrame is the currency of the engine: raw float32 PCM samples.
// Whether the samples are interleaved or belong to a single channel is
// determined by the StreamFormat travelling alongside the frame.
type PCMFrame []float32

// Silence returns a PCMFrame of n zero samples.
func Silence(n int) PCMFrame {
	return make(PCMFrame, n)
}

// Zero overwrites every sample in the frame with silence.
func (f PCMFrame) Zero() {
	for i := range f {
		f[i] = 0
	}
}
