// Package media wraps the external ffmpeg/ffprobe collaborators: probing
// source videos, extracting aligned conditioning frame streams, muxing
// generated audio back onto the source, and writing lossless audio files.
package media

import (
	"context"
	"fmt"
)

// FrameSpec tells the decoder how one conditioning stream must be sampled.
type FrameSpec struct {
	FPS  int
	Size int // square edge length in pixels
}

// FrameBlock is a contiguous run of raw RGB24 frames sampled at a fixed
// cadence. Data holds Count frames of Size*Size*3 bytes each.
type FrameBlock struct {
	Size  int
	FPS   int
	Count int
	Data  []byte
}

// VideoInfo is the decoded representation of one input video, scoped to a
// single request.
type VideoInfo struct {
	SourcePath  string
	DurationSec float64
	ClipFrames  FrameBlock
	SyncFrames  FrameBlock
}

// DecodeError reports a failed decode of an input video. Decode failures
// must surface to the caller, never collapse into an empty result.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Toolkit is the media surface the pipeline depends on. The real
// implementation shells out to ffmpeg/ffprobe; tests substitute fakes.
type Toolkit interface {
	// LoadVideo probes path and extracts the clip and sync conditioning
	// streams. The returned VideoInfo duration is min(duration, source
	// length): a short source clips the request, never pads it.
	LoadVideo(ctx context.Context, path string, duration float64, clip, sync FrameSpec) (*VideoInfo, error)

	// MuxVideo writes outPath as the source video's frames with wavData
	// (a WAV stream) as the new audio track.
	MuxVideo(ctx context.Context, sourcePath string, wavData []byte, duration float64, outPath string) error

	// EncodeFLAC writes wavData to outPath as a lossless FLAC file.
	EncodeFLAC(ctx context.Context, wavData []byte, outPath string) error
}
