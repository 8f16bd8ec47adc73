package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watam/modaudio/internal/config"
	"github.com/watam/modaudio/internal/jobs"
	"github.com/watam/modaudio/internal/media"
	"github.com/watam/modaudio/internal/observability"
	"github.com/watam/modaudio/internal/pipeline"
	"github.com/watam/modaudio/internal/protocol"
)

// fakeRunner satisfies Runner without running a real pipeline.
type fakeRunner struct {
	outputDir string
	lastReq   pipeline.Request
	job       jobs.Job
	err       error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (jobs.Job, error) {
	f.lastReq = req
	if f.err != nil {
		return jobs.Job{}, f.err
	}
	return f.job, nil
}

func (f *fakeRunner) OutputDir() string { return f.outputDir }

var metricsSeq int

func newTestServer(t *testing.T, runner *fakeRunner) (*httptest.Server, jobs.Store, *jobs.Hub) {
	t.Helper()
	if runner.outputDir == "" {
		runner.outputDir = t.TempDir()
	}
	metricsSeq++
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq))
	store := jobs.NewInMemoryStore()
	hub := jobs.NewHub()
	srv := New(config.Config{ModelVariant: "large_44k_v2"}, runner, store, hub, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store, hub
}

func TestTextToAudioAppliesDefaults(t *testing.T) {
	runner := &fakeRunner{job: jobs.Job{ID: "j1", Kind: jobs.KindText, Status: jobs.StatusDone}}
	ts, _, _ := newTestServer(t, runner)

	body := `{"prompt":"rain on a window"}`
	res, err := http.Post(ts.URL+"/v1/generate/text-to-audio", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	req := runner.lastReq
	if req.Kind != jobs.KindText || req.Prompt != "rain on a window" {
		t.Fatalf("runner saw %+v", req)
	}
	if req.Seed != -1 || req.Steps != 25 || req.GuidanceStrength != 4.5 || req.DurationSec != 8 {
		t.Fatalf("defaults not applied: %+v", req)
	}

	var job jobs.Job
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.ID != "j1" {
		t.Fatalf("job id = %q", job.ID)
	}
}

func TestTextToAudioRejectsBadParameters(t *testing.T) {
	runner := &fakeRunner{}
	ts, _, _ := newTestServer(t, runner)

	body := `{"prompt":"x","num_steps":0}`
	res, err := http.Post(ts.URL+"/v1/generate/text-to-audio", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestVideoToAudioRequiresUpload(t *testing.T) {
	runner := &fakeRunner{}
	ts, _, _ := newTestServer(t, runner)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("prompt", "footsteps")
	_ = mw.Close()

	res, err := http.Post(ts.URL+"/v1/generate/video-to-audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestVideoToAudioStagesUpload(t *testing.T) {
	runner := &fakeRunner{job: jobs.Job{ID: "j2", Kind: jobs.KindVideo, Status: jobs.StatusDone}}
	ts, _, _ := newTestServer(t, runner)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("prompt", "waves crashing")
	_ = mw.WriteField("seed", "42")
	_ = mw.WriteField("duration", "6.5")
	fw, err := mw.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatalf("CreateFormFile error = %v", err)
	}
	_, _ = fw.Write([]byte("not really an mp4"))
	_ = mw.Close()

	res, err := http.Post(ts.URL+"/v1/generate/video-to-audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	req := runner.lastReq
	if req.Kind != jobs.KindVideo {
		t.Fatalf("kind = %s", req.Kind)
	}
	if req.VideoPath == "" {
		t.Fatalf("video was not staged to a path")
	}
	if req.Seed != 42 || req.DurationSec != 6.5 {
		t.Fatalf("form fields not parsed: %+v", req)
	}
	// The staged upload is removed once the request finishes. The handler's
	// cleanup runs just after the response is written, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(req.VideoPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("staged upload %s was not cleaned up", req.VideoPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDecodeFailureMapsTo422(t *testing.T) {
	runner := &fakeRunner{err: &media.DecodeError{Path: "clip.mp4", Err: fmt.Errorf("moov atom not found")}}
	ts, _, _ := newTestServer(t, runner)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("video", "clip.mp4")
	_, _ = fw.Write([]byte("junk"))
	_ = mw.Close()

	res, err := http.Post(ts.URL+"/v1/generate/video-to-audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetJob(t *testing.T) {
	runner := &fakeRunner{}
	ts, store, _ := newTestServer(t, runner)

	_ = store.Save(context.Background(), jobs.Job{ID: "job-1", Kind: jobs.KindText, Status: jobs.StatusDone})

	res, err := http.Get(ts.URL + "/v1/jobs/job-1")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	missing, err := http.Get(ts.URL + "/v1/jobs/nope")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestListJobs(t *testing.T) {
	runner := &fakeRunner{}
	ts, store, _ := newTestServer(t, runner)

	for i := 0; i < 3; i++ {
		_ = store.Save(context.Background(), jobs.Job{ID: fmt.Sprintf("job-%d", i)})
	}

	res, err := http.Get(ts.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(out.Jobs))
	}

	bad, err := http.Get(ts.URL + "/v1/jobs?limit=zero")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestJobEventsReplaysTerminalStatus(t *testing.T) {
	runner := &fakeRunner{}
	ts, store, _ := newTestServer(t, runner)

	_ = store.Save(context.Background(), jobs.Job{ID: "job-1", Status: jobs.StatusDone, CreatedAt: time.Now().UTC()})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/job-1/events"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	defer res.Body.Close()

	var ev protocol.JobEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != protocol.TypeJobEvent || ev.JobID != "job-1" || ev.Status != string(jobs.StatusDone) {
		t.Fatalf("event = %+v", ev)
	}

	// Server closes after replaying a terminal status.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection close after terminal event")
	}
}

func TestHealthAndReady(t *testing.T) {
	runner := &fakeRunner{}
	ts, _, _ := newTestServer(t, runner)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}

func TestOutputsServesArtifacts(t *testing.T) {
	runner := &fakeRunner{outputDir: t.TempDir()}
	ts, _, _ := newTestServer(t, runner)

	artifact := filepath.Join(runner.outputDir, "20250101_120000.flac")
	if err := os.WriteFile(artifact, []byte("fLaC"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	res, err := http.Get(ts.URL + "/outputs/20250101_120000.flac")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}
