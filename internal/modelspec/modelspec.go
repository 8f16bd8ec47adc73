// Package modelspec describes the pretrained model variants the service can
// front and derives per-request sequence geometry from a target duration.
package modelspec

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Variant is a named pretrained model configuration.
type Variant struct {
	Name         string
	SamplingRate int
	// LatentsPerSec is the rate of the model's audio latent sequence.
	LatentsPerSec float64
	// ClipFPS / SyncFPS are the cadences the two conditioning frame streams
	// must be sampled at.
	ClipFPS int
	SyncFPS int
	// ClipSize / SyncSize are the square frame edge lengths in pixels.
	ClipSize int
	SyncSize int
}

var variants = map[string]Variant{
	"small_16k": {
		Name:          "small_16k",
		SamplingRate:  16000,
		LatentsPerSec: 31.25,
		ClipFPS:       8,
		SyncFPS:       25,
		ClipSize:      384,
		SyncSize:      224,
	},
	"small_44k": {
		Name:          "small_44k",
		SamplingRate:  44100,
		LatentsPerSec: 43.07,
		ClipFPS:       8,
		SyncFPS:       25,
		ClipSize:      384,
		SyncSize:      224,
	},
	"medium_44k": {
		Name:          "medium_44k",
		SamplingRate:  44100,
		LatentsPerSec: 43.07,
		ClipFPS:       8,
		SyncFPS:       25,
		ClipSize:      384,
		SyncSize:      224,
	},
	"large_44k": {
		Name:          "large_44k",
		SamplingRate:  44100,
		LatentsPerSec: 43.07,
		ClipFPS:       8,
		SyncFPS:       25,
		ClipSize:      384,
		SyncSize:      224,
	},
	"large_44k_v2": {
		Name:          "large_44k_v2",
		SamplingRate:  44100,
		LatentsPerSec: 43.07,
		ClipFPS:       8,
		SyncFPS:       25,
		ClipSize:      384,
		SyncSize:      224,
	},
}

// DefaultVariant matches the demo deployment.
const DefaultVariant = "large_44k_v2"

// Lookup resolves a variant by name.
func Lookup(name string) (Variant, error) {
	v, ok := variants[strings.TrimSpace(name)]
	if !ok {
		return Variant{}, fmt.Errorf("unknown model variant %q (expected one of %s)", name, strings.Join(VariantNames(), "|"))
	}
	return v, nil
}

// VariantNames lists the known variants in stable order.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SequenceSpec is the per-request sequence geometry the generator needs.
// It is computed from the resolved duration right before the engine call and
// threaded through it; nothing process-wide is mutated.
type SequenceSpec struct {
	DurationSec  float64 `json:"duration_sec"`
	SamplingRate int     `json:"sampling_rate"`
	LatentSeqLen int     `json:"latent_seq_len"`
	ClipSeqLen   int     `json:"clip_seq_len"`
	SyncSeqLen   int     `json:"sync_seq_len"`
}

// SequenceFor derives the sequence lengths for duration seconds of audio.
func (v Variant) SequenceFor(duration float64) (SequenceSpec, error) {
	if duration <= 0 {
		return SequenceSpec{}, fmt.Errorf("duration must be positive, got %v", duration)
	}
	return SequenceSpec{
		DurationSec:  duration,
		SamplingRate: v.SamplingRate,
		LatentSeqLen: int(math.Round(duration * v.LatentsPerSec)),
		ClipSeqLen:   int(math.Round(duration * float64(v.ClipFPS))),
		SyncSeqLen:   int(math.Round(duration * float64(v.SyncFPS))),
	}, nil
}

// SampleCount is the number of waveform samples duration seconds span.
func (s SequenceSpec) SampleCount() int {
	return int(math.Round(s.DurationSec * float64(s.SamplingRate)))
}
