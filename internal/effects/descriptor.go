package effects

// Kind names a built-in processing unit.
type Kind string

const (
	KindGain     Kind = "gain"
	KindSoftClip Kind = "softclip"
	KindLowPass  Kind = "lowpass"
	KindDelay    Kind = "delay"
)

// Descriptor is the opaque, serialisable description of one processing
// unit in a chain. The engine stores descriptors on connections and nodes
// and instantiates concrete units from them, so a chain can be rebuilt for
// a new stream format without the caller resupplying anything.
type Descriptor struct {
	Kind   Kind
	Params map[string]float64
}

// param returns the named parameter or fallback when absent.
func (d Descriptor) param(name string, fallback float64) float64 {
	if v, ok := d.Params[name]; ok {
		return v
	}
	return fallback
}

// CopyDescriptors returns a deep copy, so callers can hold a snapshot that
// later SetEffects calls cannot mutate.
func CopyDescriptors(descriptors []Descriptor) []Descriptor {
	if descriptors == nil {
		return nil
	}
	out := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = Descriptor{Kind: d.Kind}
		if d.Params != nil {
			out[i].Params = make(map[string]float64, len(d.Params))
			for k, v := range d.Params {
				out[i].Params[k] = v
			}
		}
	}
	return out
}
