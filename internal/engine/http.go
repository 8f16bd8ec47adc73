package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/watam/modaudio/internal/audio"
	"github.com/watam/modaudio/internal/media"
)

// HTTPEngine talks to a remote inference service exposing the model behind a
// single generate endpoint. Conditioning frames travel base64-encoded in the
// request body.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string) (*HTTPEngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("engine http url is required")
	}
	// No request timeout: a generation run legitimately takes minutes and
	// the pipeline has no cancellation semantics beyond ctx.
	return &HTTPEngine{baseURL: baseURL, client: &http.Client{}}, nil
}

func (e *HTTPEngine) Name() string { return "http" }

type httpFrameBlock struct {
	Size      int    `json:"size"`
	FPS       int    `json:"fps"`
	Count     int    `json:"count"`
	RGBBase64 string `json:"rgb_base64"`
}

type httpGenerateRequest struct {
	Prompt           string          `json:"prompt"`
	NegativePrompt   string          `json:"negative_prompt"`
	Seed             int64           `json:"seed"`
	Steps            int             `json:"num_steps"`
	GuidanceStrength float64         `json:"cfg_strength"`
	MinSigma         float64         `json:"min_sigma"`
	Scheme           string          `json:"scheme"`
	DurationSec      float64         `json:"duration_sec"`
	SamplingRate     int             `json:"sampling_rate"`
	LatentSeqLen     int             `json:"latent_seq_len"`
	ClipSeqLen       int             `json:"clip_seq_len"`
	SyncSeqLen       int             `json:"sync_seq_len"`
	ClipFrames       *httpFrameBlock `json:"clip_frames,omitempty"`
	SyncFrames       *httpFrameBlock `json:"sync_frames,omitempty"`
}

type httpGenerateResponse struct {
	PCM16Base64  string `json:"pcm16_base64"`
	SamplingRate int    `json:"sampling_rate"`
	Error        string `json:"error"`
}

func (e *HTTPEngine) Generate(ctx context.Context, req Request) (audio.Waveform, error) {
	body := httpGenerateRequest{
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
		ClipFrames:       encodeFrameBlock(req.ClipFrames),
		SyncFrames:       encodeFrameBlock(req.SyncFrames),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return audio.Waveform{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return audio.Waveform{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 512<<20))
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("engine response read: %w", err)
	}

	var out httpGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return audio.Waveform{}, fmt.Errorf("engine response decode (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return audio.Waveform{}, fmt.Errorf("engine HTTP %d: %s", resp.StatusCode, msg)
	}

	pcm, err := base64.StdEncoding.DecodeString(out.PCM16Base64)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode engine pcm payload: %w", err)
	}
	rate := out.SamplingRate
	if rate <= 0 {
		rate = req.Sequence.SamplingRate
	}
	return audio.FromPCM16LE(pcm, rate)
}

func encodeFrameBlock(fb *media.FrameBlock) *httpFrameBlock {
	if fb == nil {
		return nil
	}
	return &httpFrameBlock{
		Size:      fb.Size,
		FPS:       fb.FPS,
		Count:     fb.Count,
		RGBBase64: base64.StdEncoding.EncodeToString(fb.Data),
	}
}
