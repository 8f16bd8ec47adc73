// Package pipeline runs the four-stage generation flow shared by both
// operations: normalize the input, derive the sequence spec, call the
// inference engine, and materialize the artifact on disk.
package pipeline

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watam/modaudio/internal/audio"
	"github.com/watam/modaudio/internal/engine"
	"github.com/watam/modaudio/internal/jobs"
	"github.com/watam/modaudio/internal/media"
	"github.com/watam/modaudio/internal/modelspec"
	"github.com/watam/modaudio/internal/observability"
)

// Request is one immutable generation request after API-level validation.
type Request struct {
	Kind             jobs.Kind
	Prompt           string
	NegativePrompt   string
	Seed             int64 // -1 means draw from system entropy
	Steps            int
	GuidanceStrength float64
	DurationSec      float64
	VideoPath        string // required iff Kind == KindVideo
}

// Validate enforces the parameter constraints of the two operations.
func (r Request) Validate() error {
	switch r.Kind {
	case jobs.KindVideo:
		if strings.TrimSpace(r.VideoPath) == "" {
			return fmt.Errorf("video path is required")
		}
	case jobs.KindText:
		if strings.TrimSpace(r.VideoPath) != "" {
			return fmt.Errorf("text-to-audio request must not carry a video")
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	if r.Seed < -1 {
		return fmt.Errorf("seed must be -1 or >= 0, got %d", r.Seed)
	}
	if r.Steps < 1 {
		return fmt.Errorf("num_steps must be >= 1, got %d", r.Steps)
	}
	if r.GuidanceStrength < 1 {
		return fmt.Errorf("cfg_strength must be >= 1, got %v", r.GuidanceStrength)
	}
	if r.DurationSec < 1 {
		return fmt.Errorf("duration must be >= 1 second, got %v", r.DurationSec)
	}
	return nil
}

// Pipeline executes generation requests one at a time. The engine holds a
// single set of model weights, so runs are serialized on a mutex; nothing
// else in the pipeline is shared mutable state — the sequence spec is a
// per-request value.
type Pipeline struct {
	variant   modelspec.Variant
	engine    engine.Engine
	media     media.Toolkit
	store     jobs.Store
	hub       *jobs.Hub
	metrics   *observability.Metrics
	outputDir string

	mu sync.Mutex

	// Overridable in tests.
	now      func() time.Time
	randSeed func() (int64, error)
}

func New(variant modelspec.Variant, eng engine.Engine, toolkit media.Toolkit, store jobs.Store, hub *jobs.Hub, metrics *observability.Metrics, outputDir string) *Pipeline {
	return &Pipeline{
		variant:   variant,
		engine:    eng,
		media:     toolkit,
		store:     store,
		hub:       hub,
		metrics:   metrics,
		outputDir: outputDir,
		now:       time.Now,
		randSeed:  entropySeed,
	}
}

// OutputDir exposes the artifact directory for the file-serving route.
func (p *Pipeline) OutputDir() string { return p.outputDir }

// Run executes one request end to end and returns the finished job record.
// Failures abort the whole request; the failed job record is still persisted.
func (p *Pipeline) Run(ctx context.Context, req Request) (jobs.Job, error) {
	if err := req.Validate(); err != nil {
		return jobs.Job{}, err
	}

	job := jobs.Job{
		ID:                   uuid.NewString(),
		Kind:                 req.Kind,
		Prompt:               req.Prompt,
		NegativePrompt:       req.NegativePrompt,
		RequestedSeed:        req.Seed,
		Steps:                req.Steps,
		GuidanceStrength:     req.GuidanceStrength,
		RequestedDurationSec: req.DurationSec,
		ResolvedDurationSec:  req.DurationSec,
		Status:               jobs.StatusQueued,
		CreatedAt:            p.now().UTC(),
	}
	if err := p.store.Save(ctx, job); err != nil {
		return jobs.Job{}, err
	}
	p.hub.Publish(job.ID, jobs.StatusQueued, "")

	// One in-flight generation at a time.
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.ActiveGenerations.Inc()
	started := p.now()
	job, err := p.run(ctx, req, job)
	p.metrics.ActiveGenerations.Dec()

	if err != nil {
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		job.CompletedAt = p.now().UTC()
		_ = p.store.Save(ctx, job)
		p.hub.Publish(job.ID, jobs.StatusFailed, job.Error)
		p.hub.CloseJob(job.ID)
		p.metrics.GenerationsTotal.WithLabelValues(string(req.Kind), "failed").Inc()
		return job, err
	}

	job.Status = jobs.StatusDone
	job.CompletedAt = p.now().UTC()
	if err := p.store.Save(ctx, job); err != nil {
		return job, err
	}
	p.hub.Publish(job.ID, jobs.StatusDone, job.ArtifactPath)
	p.hub.CloseJob(job.ID)
	p.metrics.GenerationsTotal.WithLabelValues(string(req.Kind), "done").Inc()
	p.metrics.ObserveGeneration(string(req.Kind), p.now().Sub(started))
	return job, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, job jobs.Job) (jobs.Job, error) {
	// Stage 1: input normalization.
	seed := req.Seed
	if seed < 0 {
		var err error
		seed, err = p.randSeed()
		if err != nil {
			return job, fmt.Errorf("draw random seed: %w", err)
		}
	}
	job.Seed = seed

	var info *media.VideoInfo
	duration := req.DurationSec
	if req.Kind == jobs.KindVideo {
		p.setStatus(ctx, &job, jobs.StatusDecoding, "")
		var err error
		info, err = p.media.LoadVideo(ctx, req.VideoPath, req.DurationSec,
			media.FrameSpec{FPS: p.variant.ClipFPS, Size: p.variant.ClipSize},
			media.FrameSpec{FPS: p.variant.SyncFPS, Size: p.variant.SyncSize},
		)
		if err != nil {
			return job, err
		}
		duration = info.DurationSec
		if duration < req.DurationSec {
			log.Printf("job %s: source video is %.2fs, clipping requested %.2fs", job.ID, duration, req.DurationSec)
		}
	}
	job.ResolvedDurationSec = duration

	// Stage 2: per-request sequence spec, always from the resolved duration.
	seq, err := p.variant.SequenceFor(duration)
	if err != nil {
		return job, err
	}

	// Stage 3: generation.
	p.setStatus(ctx, &job, jobs.StatusGenerating, "")
	genReq := engine.Request{
		Prompt:           req.Prompt,
		NegativePrompt:   req.NegativePrompt,
		Seed:             seed,
		Steps:            req.Steps,
		GuidanceStrength: req.GuidanceStrength,
		Sequence:         seq,
	}
	if info != nil {
		genReq.ClipFrames = &info.ClipFrames
		genReq.SyncFrames = &info.SyncFrames
	}
	genStart := p.now()
	wave, err := p.engine.Generate(ctx, genReq)
	if err != nil {
		p.metrics.EngineErrors.WithLabelValues(p.engine.Name()).Inc()
		return job, err
	}
	log.Printf("job %s: generated %.2fs of audio in %.2fs", job.ID, wave.Duration(), p.now().Sub(genStart).Seconds())

	// Stage 4: materialization.
	p.setStatus(ctx, &job, jobs.StatusWriting, "")
	artifact, err := p.materialize(ctx, req, info, wave, duration)
	if err != nil {
		return job, err
	}
	job.ArtifactPath = artifact
	return job, nil
}

func (p *Pipeline) materialize(ctx context.Context, req Request, info *media.VideoInfo, wave audio.Waveform, duration float64) (string, error) {
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	wav, err := audio.EncodeWAV(wave)
	if err != nil {
		return "", err
	}

	// Second-resolution timestamps; same-second collisions are a known
	// limitation inherited from the original tool.
	stamp := p.now().Format("20060102_150405")
	var outPath string
	switch req.Kind {
	case jobs.KindVideo:
		outPath = filepath.Join(p.outputDir, stamp+".mp4")
		if err := p.media.MuxVideo(ctx, info.SourcePath, wav, duration, outPath); err != nil {
			return "", err
		}
		p.countArtifact(outPath, "mp4")
	case jobs.KindText:
		outPath = filepath.Join(p.outputDir, stamp+".flac")
		if err := p.media.EncodeFLAC(ctx, wav, outPath); err != nil {
			return "", err
		}
		p.countArtifact(outPath, "flac")
	}
	return outPath, nil
}

func (p *Pipeline) countArtifact(path, format string) {
	if st, err := os.Stat(path); err == nil {
		p.metrics.ArtifactBytes.WithLabelValues(format).Add(float64(st.Size()))
	}
}

func (p *Pipeline) setStatus(ctx context.Context, job *jobs.Job, status jobs.Status, msg string) {
	job.Status = status
	_ = p.store.Save(ctx, *job)
	p.hub.Publish(job.ID, status, msg)
}

// entropySeed draws a non-negative seed from system entropy.
func entropySeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:]) &^ (1 << 63)), nil
}
