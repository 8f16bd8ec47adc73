package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/watam/modaudio/internal/audio"
	"github.com/watam/modaudio/internal/media"
)

func TestHTTPEngineGenerate(t *testing.T) {
	want := audio.Waveform{Samples: []float32{0, 0.25, -0.25}, SamplingRate: 16000}

	var got httpGenerateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := httpGenerateResponse{
			PCM16Base64:  base64.StdEncoding.EncodeToString(want.PCM16LE()),
			SamplingRate: want.SamplingRate,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	e, err := NewHTTPEngine(ts.URL)
	if err != nil {
		t.Fatalf("NewHTTPEngine error = %v", err)
	}

	req := mockRequest(42)
	req.ClipFrames = &media.FrameBlock{Size: 2, FPS: 8, Count: 1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}

	wave, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate error = %v", err)
	}
	if wave.SamplingRate != want.SamplingRate || len(wave.Samples) != len(want.Samples) {
		t.Fatalf("waveform = %d samples @ %d", len(wave.Samples), wave.SamplingRate)
	}

	if got.Seed != 42 || got.Steps != 25 || got.GuidanceStrength != 4.5 {
		t.Fatalf("backend saw %+v", got)
	}
	if got.Scheme != IntegrationScheme || got.MinSigma != MinSigma {
		t.Fatalf("sampler params not threaded: %+v", got)
	}
	if got.LatentSeqLen != req.Sequence.LatentSeqLen || got.SyncSeqLen != req.Sequence.SyncSeqLen {
		t.Fatalf("sequence spec not threaded: %+v", got)
	}
	if got.ClipFrames == nil || got.ClipFrames.RGBBase64 == "" {
		t.Fatalf("clip frames not encoded")
	}
	if got.SyncFrames != nil {
		t.Fatalf("unexpected sync frames in request")
	}
}

func TestHTTPEngineSurfacesBackendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(httpGenerateResponse{Error: "CUDA out of memory"})
	}))
	defer ts.Close()

	e, err := NewHTTPEngine(ts.URL)
	if err != nil {
		t.Fatalf("NewHTTPEngine error = %v", err)
	}
	_, err = e.Generate(context.Background(), mockRequest(1))
	if err == nil {
		t.Fatalf("Generate should surface backend error")
	}
}

func TestNewHTTPEngineRequiresURL(t *testing.T) {
	if _, err := NewHTTPEngine("  "); err == nil {
		t.Fatalf("empty url should fail")
	}
}
