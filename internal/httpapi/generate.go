package httpapi

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/watam/modaudio/internal/jobs"
	"github.com/watam/modaudio/internal/media"
	"github.com/watam/modaudio/internal/pipeline"
	"github.com/watam/modaudio/internal/protocol"
)

// Demo defaults, applied when a field is omitted.
const (
	defaultSeed     = int64(-1)
	defaultSteps    = 25
	defaultGuidance = 4.5
	defaultDuration = 8.0
)

// multipartMemoryBytes bounds in-memory multipart parsing; larger uploads
// spill to temp files.
const multipartMemoryBytes = 32 << 20

type generateParams struct {
	Prompt           string   `json:"prompt"`
	NegativePrompt   string   `json:"negative_prompt"`
	Seed             *int64   `json:"seed"`
	Steps            *int     `json:"num_steps"`
	GuidanceStrength *float64 `json:"cfg_strength"`
	DurationSec      *float64 `json:"duration"`
}

func (p generateParams) toRequest(kind jobs.Kind) pipeline.Request {
	req := pipeline.Request{
		Kind:             kind,
		Prompt:           p.Prompt,
		NegativePrompt:   p.NegativePrompt,
		Seed:             defaultSeed,
		Steps:            defaultSteps,
		GuidanceStrength: defaultGuidance,
		DurationSec:      defaultDuration,
	}
	if p.Seed != nil {
		req.Seed = *p.Seed
	}
	if p.Steps != nil {
		req.Steps = *p.Steps
	}
	if p.GuidanceStrength != nil {
		req.GuidanceStrength = *p.GuidanceStrength
	}
	if p.DurationSec != nil {
		req.DurationSec = *p.DurationSec
	}
	return req
}

func (s *Server) handleTextToAudio(w http.ResponseWriter, r *http.Request) {
	var params generateParams
	if err := decodeJSON(r, &params); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req := params.toRequest(jobs.KindText)
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.runAndRespond(w, r, req)
}

func (s *Server) handleVideoToAudio(w http.ResponseWriter, r *http.Request) {
	limitMB := s.cfg.MaxUploadMB
	if limitMB <= 0 {
		limitMB = 512
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(limitMB)<<20)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
		return
	}

	params, err := formParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	videoPath, cleanup, err := stageUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_video", err.Error())
		return
	}
	defer cleanup()

	req := params.toRequest(jobs.KindVideo)
	req.VideoPath = videoPath
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.runAndRespond(w, r, req)
}

// runAndRespond executes the pipeline synchronously; the demo contract is
// blocking request handling, the job record is the response either way.
func (s *Server) runAndRespond(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	job, err := s.runner.Run(r.Context(), req)
	if err != nil {
		var decodeErr *media.DecodeError
		if errors.As(err, &decodeErr) {
			respondError(w, http.StatusUnprocessableEntity, "decode_failed", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "generation_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// formParams reads the generation fields out of a multipart form, applying
// the same defaults as the JSON path.
func formParams(r *http.Request) (generateParams, error) {
	params := generateParams{
		Prompt:         r.FormValue("prompt"),
		NegativePrompt: r.FormValue("negative_prompt"),
	}
	if v := strings.TrimSpace(r.FormValue("seed")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return params, errors.New("seed must be an integer")
		}
		params.Seed = &n
	}
	if v := strings.TrimSpace(r.FormValue("num_steps")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, errors.New("num_steps must be an integer")
		}
		params.Steps = &n
	}
	if v := strings.TrimSpace(r.FormValue("cfg_strength")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errors.New("cfg_strength must be a number")
		}
		params.GuidanceStrength = &f
	}
	if v := strings.TrimSpace(r.FormValue("duration")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, errors.New("duration must be a number")
		}
		params.DurationSec = &f
	}
	return params, nil
}

// stageUpload spools the uploaded video to a temp file for the decoder and
// returns a cleanup func removing it.
func stageUpload(r *http.Request) (string, func(), error) {
	file, header, err := r.FormFile("video")
	if err != nil {
		return "", nil, errors.New("multipart field \"video\" is required")
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job_not_found", "no job with id "+id)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// handleJobEvents streams job progress events over a websocket until the job
// reaches a terminal status or the client disconnects.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job_not_found", "no job with id "+id)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Re-read after subscribing: the job may have finished between the
	// first lookup and the subscription, in which case no further events
	// will arrive.
	if fresh, err := s.store.Get(r.Context(), id); err == nil {
		job = fresh
	} else if !errors.Is(err, jobs.ErrNotFound) {
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "store_error",
			Detail: err.Error(),
		})
		return
	}

	// Replay the current status first so late subscribers see where the
	// job stands.
	if err := conn.WriteJSON(protocol.JobEvent{
		Type:   protocol.TypeJobEvent,
		JobID:  job.ID,
		Status: string(job.Status),
		TSMs:   job.CreatedAt.UnixMilli(),
	}); err != nil {
		return
	}
	if job.Status == jobs.StatusDone || job.Status == jobs.StatusFailed {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := protocol.JobEvent{
				Type:    protocol.TypeJobEvent,
				JobID:   ev.JobID,
				Status:  string(ev.Status),
				Message: ev.Message,
				TSMs:    ev.TSMs,
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("job events ws write failed: %v", err)
				return
			}
			if ev.Status == jobs.StatusDone || ev.Status == jobs.StatusFailed {
				return
			}
		}
	}
}
