package effects

import (
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/format"
	"github.com/Honorable-Knights-of-the-Roundtable/patchbay/pkg/frame"
)

// Effect is one processing unit. Process mutates the first frameCount
// frames of buf in place and must not allocate; it runs on realtime
// threads.
type Effect interface {
	Process(buf frame.PCMFrame, frameCount int)
}

// --------------------------------------------------------------------------------
// Gain

type gain struct {
	factor float32
}

func newGain(d Descriptor) Effect {
	return &gain{factor: float32(d.param("factor", 1.0))}
}

func (g *gain) Process(buf frame.PCMFrame, frameCount int) {
	for i := 0; i < frameCount; i++ {
		buf[i] *= g.factor
	}
}

// --------------------------------------------------------------------------------
// Soft clip

// softclip squashes the signal through tanh, trading headroom for the hard
// clamp the mixer would otherwise apply.
type softclip struct {
	drive float32
}

func newSoftClip(d Descriptor) Effect {
	return &softclip{drive: float32(d.param("drive", 1.0))}
}

func (s *softclip) Process(buf frame.PCMFrame, frameCount int) {
	for i := 0; i < frameCount; i++ {
		buf[i] = float32(math.Tanh(float64(s.drive * buf[i])))
	}
}

// --------------------------------------------------------------------------------
// Low pass

// lowpass is a one-pole filter. The coefficient depends on the stream's
// sample rate, which is why chains must be reinitialised when the
// canonical format changes.
type lowpass struct {
	alpha float32
	prev  float32
}

func newLowPass(d Descriptor, fmt format.StreamFormat) Effect {
	cutoff := d.param("cutoff", 1000)
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / fmt.SampleRate
	return &lowpass{alpha: float32(dt / (rc + dt))}
}

func (l *lowpass) Process(buf frame.PCMFrame, frameCount int) {
	for i := 0; i < frameCount; i++ {
		l.prev += l.alpha * (buf[i] - l.prev)
		buf[i] = l.prev
	}
}

// --------------------------------------------------------------------------------
// Delay

// delay mixes the signal with a feedback echo. The delay line is sized from
// the stream's sample rate at construction time.
type delay struct {
	line     frame.PCMFrame
	pos      int
	feedback float32
	mix      float32
}

func newDelay(d Descriptor, fmt format.StreamFormat) Effect {
	seconds := d.param("seconds", 0.25)
	samples := int(seconds * fmt.SampleRate)
	if samples < 1 {
		samples = 1
	}
	return &delay{
		line:     frame.Silence(samples),
		feedback: float32(d.param("feedback", 0.3)),
		mix:      float32(d.param("mix", 0.5)),
	}
}

func (e *delay) Process(buf frame.PCMFrame, frameCount int) {
	for i := 0; i < frameCount; i++ {
		dry := buf[i]
		wet := e.line[e.pos]
		e.line[e.pos] = dry + wet*e.feedback
		e.pos++
		if e.pos == len(e.line) {
			e.pos = 0
		}
		buf[i] = dry + wet*e.mix
	}
}
