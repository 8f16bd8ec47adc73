// Package jobs persists generation job records and fans out per-job progress
// events to subscribers.
package jobs

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindText  Kind = "text"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusDecoding   Status = "decoding"
	StatusGenerating Status = "generating"
	StatusWriting    Status = "writing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("job not found")

// Job records one generation request end to end. RequestedSeed keeps the
// caller's value (-1 for random); Seed is the resolved value actually used,
// so any run can be reproduced from its record.
type Job struct {
	ID                   string    `json:"id"`
	Kind                 Kind      `json:"kind"`
	Prompt               string    `json:"prompt"`
	NegativePrompt       string    `json:"negative_prompt"`
	RequestedSeed        int64     `json:"requested_seed"`
	Seed                 int64     `json:"seed"`
	Steps                int       `json:"num_steps"`
	GuidanceStrength     float64   `json:"cfg_strength"`
	RequestedDurationSec float64   `json:"requested_duration_sec"`
	ResolvedDurationSec  float64   `json:"resolved_duration_sec"`
	Status               Status    `json:"status"`
	ArtifactPath         string    `json:"artifact_path,omitempty"`
	Error                string    `json:"error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	CompletedAt          time.Time `json:"completed_at,omitempty"`
}

// Store persists job records. Save upserts by ID.
type Store interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, limit int) ([]Job, error)
	Close() error
}
