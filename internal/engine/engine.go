// Package engine abstracts the inference backend that runs the pretrained
// video/text-to-audio model. The service never touches model internals; it
// threads conditioning, sampler parameters and sequence geometry through one
// call and gets a waveform back.
package engine

import (
	"context"

	"github.com/watam/modaudio/internal/audio"
	"github.com/watam/modaudio/internal/media"
	"github.com/watam/modaudio/internal/modelspec"
)

// Sampler parameters fixed by the deployment: flow matching integrated with
// an euler scheme from sigma 0.
const (
	MinSigma          = 0.0
	IntegrationScheme = "euler"
)

// Request carries everything one generation call needs. Frames are optional:
// both nil means pure text-to-audio. Seed is always resolved (never -1) by
// the time a request reaches an engine, so a fixed seed reproduces bit-exact
// output on any deterministic backend.
type Request struct {
	Prompt           string
	NegativePrompt   string
	Seed             int64
	Steps            int
	GuidanceStrength float64
	Sequence         modelspec.SequenceSpec
	ClipFrames       *media.FrameBlock
	SyncFrames       *media.FrameBlock
}

// HasFrames reports whether the request carries video conditioning.
func (r Request) HasFrames() bool {
	return r.ClipFrames != nil || r.SyncFrames != nil
}

// Engine produces one waveform per request. Implementations do not retry:
// a generation failure propagates to the caller unmodified.
type Engine interface {
	Generate(ctx context.Context, req Request) (audio.Waveform, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}
