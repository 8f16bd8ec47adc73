package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/watam/modaudio/internal/audio"
	"github.com/watam/modaudio/internal/media"
)

// WorkerConfig describes the local python sidecar that holds the model
// weights for the lifetime of the process.
type WorkerConfig struct {
	Python  string
	Script  string
	Variant string
	Device  string // "", "cuda", "mps" or "cpu"; empty lets the worker pick
}

// WorkerEngine drives a persistent python worker over newline-delimited JSON
// on stdin/stdout. Requests are single-flight: the worker owns one set of
// model weights, so calls are serialized on a mutex.
type WorkerEngine struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
}

type workerRequest struct {
	ID               string  `json:"id"`
	Op               string  `json:"op"`
	Prompt           string  `json:"prompt,omitempty"`
	NegativePrompt   string  `json:"negative_prompt,omitempty"`
	Seed             int64   `json:"seed,omitempty"`
	Steps            int     `json:"num_steps,omitempty"`
	GuidanceStrength float64 `json:"cfg_strength,omitempty"`
	MinSigma         float64 `json:"min_sigma"`
	Scheme           string  `json:"scheme,omitempty"`
	DurationSec      float64 `json:"duration_sec,omitempty"`
	SamplingRate     int     `json:"sampling_rate,omitempty"`
	LatentSeqLen     int     `json:"latent_seq_len,omitempty"`
	ClipSeqLen       int     `json:"clip_seq_len,omitempty"`
	SyncSeqLen       int     `json:"sync_seq_len,omitempty"`
	ClipFramesPath   string  `json:"clip_frames_path,omitempty"`
	ClipSize         int     `json:"clip_size,omitempty"`
	ClipCount        int     `json:"clip_count,omitempty"`
	SyncFramesPath   string  `json:"sync_frames_path,omitempty"`
	SyncSize         int     `json:"sync_size,omitempty"`
	SyncCount        int     `json:"sync_count,omitempty"`
}

type workerResponse struct {
	ID           string `json:"id"`
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	PCM16Base64  string `json:"pcm16_base64"`
	SamplingRate int    `json:"sampling_rate"`
}

// StartWorkerEngine spawns the sidecar and pings it so import or weight
// loading errors surface at startup instead of on the first request.
func StartWorkerEngine(cfg WorkerConfig) (*WorkerEngine, error) {
	script := strings.TrimSpace(cfg.Script)
	if script == "" {
		return nil, fmt.Errorf("worker script path is required")
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("worker script not found: %s", script)
	}
	python := strings.TrimSpace(cfg.Python)
	if python == "" {
		python = "python3"
	}

	args := []string{"-u", script, "--variant", cfg.Variant}
	if d := strings.TrimSpace(cfg.Device); d != "" {
		args = append(args, "--device", d)
	}
	cmd := exec.Command(python, args...)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	e := &WorkerEngine{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	// Weight loading can take a while on first start.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if _, err := e.roundTrip(ctx, workerRequest{Op: "ping"}); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("model worker failed to start: %w", err)
	}
	return e, nil
}

func (e *WorkerEngine) Name() string { return "worker" }

func (e *WorkerEngine) Generate(ctx context.Context, req Request) (audio.Waveform, error) {
	line := workerRequest{
		Op:               "generate",
		Prompt:           req.Prompt,
		NegativePrompt:   req.NegativePrompt,
		Seed:             req.Seed,
		Steps:            req.Steps,
		GuidanceStrength: req.GuidanceStrength,
		MinSigma:         MinSigma,
		Scheme:           IntegrationScheme,
		DurationSec:      req.Sequence.DurationSec,
		SamplingRate:     req.Sequence.SamplingRate,
		LatentSeqLen:     req.Sequence.LatentSeqLen,
		ClipSeqLen:       req.Sequence.ClipSeqLen,
		SyncSeqLen:       req.Sequence.SyncSeqLen,
	}

	// Frame payloads go through temp files rather than the JSON stream;
	// raw RGB24 at 25fps is far too large for a reasonable stdin line.
	cleanup, err := stageFrames(&line, req)
	if err != nil {
		return audio.Waveform{}, err
	}
	defer cleanup()

	resp, err := e.roundTrip(ctx, line)
	if err != nil {
		return audio.Waveform{}, err
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCM16Base64)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode worker pcm payload: %w", err)
	}
	rate := resp.SamplingRate
	if rate <= 0 {
		rate = req.Sequence.SamplingRate
	}
	return audio.FromPCM16LE(pcm, rate)
}

func (e *WorkerEngine) roundTrip(ctx context.Context, line workerRequest) (workerResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return workerResponse{}, fmt.Errorf("model worker closed")
	}
	if err := ctx.Err(); err != nil {
		return workerResponse{}, err
	}

	line.ID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	b, err := json.Marshal(line)
	if err != nil {
		return workerResponse{}, err
	}
	b = append(b, '\n')
	if _, err := e.stdin.Write(b); err != nil {
		return workerResponse{}, err
	}

	// Exactly one response per request; the mutex keeps the stream in order.
	var resp workerResponse
	if err := e.dec.Decode(&resp); err != nil {
		return workerResponse{}, fmt.Errorf("model worker read: %w", err)
	}
	if resp.ID != line.ID {
		return workerResponse{}, fmt.Errorf("model worker out-of-sync (got %q, expected %q)", resp.ID, line.ID)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown worker error"
		}
		return workerResponse{}, fmt.Errorf("model worker: %s", msg)
	}
	return resp, nil
}

func (e *WorkerEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stdin := e.stdin
	cmd := e.cmd
	e.stdin = nil
	e.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		done := make(chan struct{})
		go func() {
			_, _ = cmd.Process.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = cmd.Process.Kill()
		}
	}
	return nil
}

// stageFrames writes the conditioning frame blocks to temp files referenced
// from the request line and returns a cleanup func removing them.
func stageFrames(line *workerRequest, req Request) (func(), error) {
	var paths []string
	cleanup := func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}

	write := func(prefix string, fb *media.FrameBlock) (string, error) {
		f, err := os.CreateTemp("", prefix+"-*.rgb24")
		if err != nil {
			return "", err
		}
		_, werr := f.Write(fb.Data)
		cerr := f.Close()
		if werr != nil {
			_ = os.Remove(f.Name())
			return "", werr
		}
		if cerr != nil {
			_ = os.Remove(f.Name())
			return "", cerr
		}
		return f.Name(), nil
	}

	if req.ClipFrames != nil {
		p, err := write("clip", req.ClipFrames)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stage clip frames: %w", err)
		}
		paths = append(paths, p)
		line.ClipFramesPath = filepath.Clean(p)
		line.ClipSize = req.ClipFrames.Size
		line.ClipCount = req.ClipFrames.Count
	}
	if req.SyncFrames != nil {
		p, err := write("sync", req.SyncFrames)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stage sync frames: %w", err)
		}
		paths = append(paths, p)
		line.SyncFramesPath = filepath.Clean(p)
		line.SyncSize = req.SyncFrames.Size
		line.SyncCount = req.SyncFrames.Count
	}
	return cleanup, nil
}
