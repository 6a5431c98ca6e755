package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  StreamFormat
		wantErr error
	}{
		{"valid", StreamFormat{SampleRate: 48000, NumChannels: 2, Interleaved: true}, nil},
		{"zero rate", StreamFormat{NumChannels: 1}, ErrInvalidSampleRate},
		{"negative rate", StreamFormat{SampleRate: -1, NumChannels: 1}, ErrInvalidSampleRate},
		{"zero channels", StreamFormat{SampleRate: 44100}, ErrInvalidChannelCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestEqualIsExact(t *testing.T) {
	base := StreamFormat{SampleRate: 48000, NumChannels: 2, Interleaved: true}
	assert.True(t, base.Equal(base))
	assert.False(t, base.Equal(StreamFormat{SampleRate: 44100, NumChannels: 2, Interleaved: true}))
	assert.False(t, base.Equal(StreamFormat{SampleRate: 48000, NumChannels: 1, Interleaved: true}))
	assert.False(t, base.Equal(StreamFormat{SampleRate: 48000, NumChannels: 2, Interleaved: false}))
}

func TestLayoutDerivation(t *testing.T) {
	f := StreamFormat{SampleRate: 48000, NumChannels: 2, Interleaved: true}
	assert.Equal(t, 2, f.SamplesPerFrame())
	assert.Equal(t, 8, f.BytesPerFrame())
}

func TestCanonical(t *testing.T) {
	got := Canonical(
		StreamFormat{SampleRate: 44100, NumChannels: 2, Interleaved: true},
		StreamFormat{SampleRate: 96000, NumChannels: 8, Interleaved: false},
		StreamFormat{SampleRate: 48000, NumChannels: 1, Interleaved: true},
	)
	assert.Equal(t, 96000.0, got.SampleRate)
	assert.Equal(t, 1, got.NumChannels)
	assert.True(t, got.Interleaved)
}

func TestCanonicalNoDevices(t *testing.T) {
	got := Canonical()
	assert.Equal(t, float64(DefaultSampleRate), got.SampleRate)
	assert.Equal(t, 1, got.NumChannels)
}
