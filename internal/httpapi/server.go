// Package httpapi exposes the generation pipeline over HTTP: the two
// generate operations, job lookup, a websocket progress stream, and the
// artifact directory.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/watam/modaudio/internal/config"
	"github.com/watam/modaudio/internal/jobs"
	"github.com/watam/modaudio/internal/observability"
	"github.com/watam/modaudio/internal/pipeline"
)

// Runner is the pipeline surface the API depends on.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (jobs.Job, error)
	OutputDir() string
}

type Server struct {
	cfg      config.Config
	runner   Runner
	store    jobs.Store
	hub      *jobs.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, runner Runner, store jobs.Store, hub *jobs.Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/generate/video-to-audio", s.handleVideoToAudio)
	r.Post("/v1/generate/text-to-audio", s.handleTextToAudio)
	r.Get("/v1/jobs", s.handleListJobs)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	r.Get("/v1/jobs/{id}/events", s.handleJobEvents)

	// Serve produced artifacts so returned paths are directly fetchable.
	fileServer := http.StripPrefix("/outputs/", http.FileServer(http.Dir(s.runner.OutputDir())))
	r.Get("/outputs/*", fileServer.ServeHTTP)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"variant": s.cfg.ModelVariant,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
