package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner abstracts process execution so argument construction can be
// tested without ffmpeg installed.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// FFmpegToolkit implements Toolkit by shelling out to ffmpeg and ffprobe.
type FFmpegToolkit struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

func NewFFmpegToolkit(ffmpegPath, ffprobePath string) *FFmpegToolkit {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegToolkit{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      execRunner{},
	}
}

func (t *FFmpegToolkit) LoadVideo(ctx context.Context, path string, duration float64, clip, sync FrameSpec) (*VideoInfo, error) {
	sourceDur, err := t.probeDuration(ctx, path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	// Resolve against the source: a short video clips the request.
	resolved := duration
	if sourceDur < resolved {
		resolved = sourceDur
	}
	if resolved <= 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("source has non-positive duration %v", sourceDur)}
	}

	clipFrames, err := t.extractFrames(ctx, path, resolved, clip)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	syncFrames, err := t.extractFrames(ctx, path, resolved, sync)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	return &VideoInfo{
		SourcePath:  path,
		DurationSec: resolved,
		ClipFrames:  clipFrames,
		SyncFrames:  syncFrames,
	}, nil
}

func (t *FFmpegToolkit) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := t.runner.Run(ctx, t.ffprobePath, probeDurationArgs(path), nil)
	if err != nil {
		return 0, err
	}
	return parseProbeDuration(string(out))
}

func (t *FFmpegToolkit) extractFrames(ctx context.Context, path string, duration float64, spec FrameSpec) (FrameBlock, error) {
	raw, err := t.runner.Run(ctx, t.ffmpegPath, extractFramesArgs(path, duration, spec), nil)
	if err != nil {
		return FrameBlock{}, err
	}
	frameBytes := spec.Size * spec.Size * 3
	if frameBytes <= 0 {
		return FrameBlock{}, fmt.Errorf("invalid frame spec %+v", spec)
	}
	if len(raw)%frameBytes != 0 {
		return FrameBlock{}, fmt.Errorf("raw frame stream length %d not a multiple of frame size %d", len(raw), frameBytes)
	}
	count := len(raw) / frameBytes
	if count == 0 {
		return FrameBlock{}, fmt.Errorf("no frames decoded")
	}
	return FrameBlock{Size: spec.Size, FPS: spec.FPS, Count: count, Data: raw}, nil
}

func (t *FFmpegToolkit) MuxVideo(ctx context.Context, sourcePath string, wavData []byte, duration float64, outPath string) error {
	_, err := t.runner.Run(ctx, t.ffmpegPath, muxVideoArgs(sourcePath, duration, outPath), wavData)
	if err != nil {
		return fmt.Errorf("mux %s: %w", outPath, err)
	}
	return nil
}

func (t *FFmpegToolkit) EncodeFLAC(ctx context.Context, wavData []byte, outPath string) error {
	_, err := t.runner.Run(ctx, t.ffmpegPath, encodeFLACArgs(outPath), wavData)
	if err != nil {
		return fmt.Errorf("encode %s: %w", outPath, err)
	}
	return nil
}

func probeDurationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

func parseProbeDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ffprobe reported non-positive duration %v", d)
	}
	return d, nil
}

// extractFramesArgs decodes path into raw RGB24 frames on stdout, resampled
// to the spec cadence and center-cropped to a square, matching how the model
// expects its conditioning streams.
func extractFramesArgs(path string, duration float64, spec FrameSpec) []string {
	size := strconv.Itoa(spec.Size)
	filter := fmt.Sprintf(
		"fps=%d,scale=%s:%s:force_original_aspect_ratio=increase,crop=%s:%s",
		spec.FPS, size, size, size, size,
	)
	return []string{
		"-v", "error",
		"-i", path,
		"-t", formatSeconds(duration),
		"-vf", filter,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

// muxVideoArgs copies the source video stream and attaches the WAV stream on
// stdin as an AAC audio track.
func muxVideoArgs(sourcePath string, duration float64, outPath string) []string {
	return []string{
		"-y",
		"-v", "error",
		"-i", sourcePath,
		"-f", "wav",
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-t", formatSeconds(duration),
		outPath,
	}
}

func encodeFLACArgs(outPath string) []string {
	return []string{
		"-y",
		"-v", "error",
		"-f", "wav",
		"-i", "pipe:0",
		"-c:a", "flac",
		outPath,
	}
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}
