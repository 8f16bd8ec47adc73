// Package audio holds the waveform value type produced by the generation
// engines and the PCM/WAV plumbing used to hand audio to ffmpeg.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Waveform is one generated mono audio clip. Samples are float32 in [-1, 1].
// It is consumed immediately by the output materializer and not retained.
type Waveform struct {
	Samples      []float32
	SamplingRate int
}

// Duration returns the clip length in seconds.
func (w Waveform) Duration() float64 {
	if w.SamplingRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SamplingRate)
}

// PCM16LE converts the waveform to little-endian 16-bit PCM bytes,
// clamping out-of-range samples.
func (w Waveform) PCM16LE() []byte {
	out := make([]byte, 2*len(w.Samples))
	for i, s := range w.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// FromPCM16LE decodes little-endian 16-bit PCM bytes into a waveform.
func FromPCM16LE(pcm []byte, samplingRate int) (Waveform, error) {
	if len(pcm)%2 != 0 {
		return Waveform{}, fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}
	if samplingRate <= 0 {
		return Waveform{}, fmt.Errorf("invalid sampling rate %d", samplingRate)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return Waveform{Samples: samples, SamplingRate: samplingRate}, nil
}
