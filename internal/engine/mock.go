package engine

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/watam/modaudio/internal/audio"
)

// MockEngine synthesizes a deterministic waveform from the request seed and
// parameters. It stands in for the real model in dev setups and tests: equal
// requests produce bit-identical output, and a different seed produces a
// different waveform.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Generate(ctx context.Context, req Request) (audio.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return audio.Waveform{}, err
	}

	rng := rand.New(rand.NewSource(mockSource(req)))
	n := req.Sequence.SampleCount()
	samples := make([]float32, n)

	// A quiet tone with seeded noise: recognizably audio-shaped, cheap to
	// produce, and fully determined by the request.
	freq := 110 + float64(rng.Intn(8))*55
	for i := range samples {
		t := float64(i) / float64(req.Sequence.SamplingRate)
		tone := 0.1 * math.Sin(2*math.Pi*freq*t)
		noise := 0.02 * (rng.Float64()*2 - 1)
		samples[i] = float32(tone + noise)
	}

	return audio.Waveform{Samples: samples, SamplingRate: req.Sequence.SamplingRate}, nil
}

// mockSource folds the seed and the conditioning parameters into one PRNG
// source so any parameter change moves the output.
func mockSource(req Request) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.Prompt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(req.NegativePrompt))
	mix := int64(h.Sum64()) ^ (int64(req.Steps) << 32) ^ int64(math.Float64bits(req.GuidanceStrength))
	if req.HasFrames() {
		mix ^= 0x5bd1e995
	}
	return req.Seed ^ mix
}
