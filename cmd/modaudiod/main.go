package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/watam/modaudio/internal/config"
	"github.com/watam/modaudio/internal/engine"
	"github.com/watam/modaudio/internal/httpapi"
	"github.com/watam/modaudio/internal/jobs"
	"github.com/watam/modaudio/internal/media"
	"github.com/watam/modaudio/internal/modelspec"
	"github.com/watam/modaudio/internal/observability"
	"github.com/watam/modaudio/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	variant, err := modelspec.Lookup(cfg.ModelVariant)
	if err != nil {
		log.Fatalf("model variant error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := jobs.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("job store init failed: %v", err)
	}
	defer store.Close()

	eng := selectEngine(cfg, variant)
	if c, ok := eng.(interface{ Close() error }); ok {
		defer c.Close()
	}

	toolkit := media.NewFFmpegToolkit(cfg.FFmpegPath, cfg.FFprobePath)
	hub := jobs.NewHub()
	pipe := pipeline.New(variant, eng, toolkit, store, hub, metrics, cfg.OutputDir)

	api := httpapi.New(cfg, pipe, store, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s (variant %s, engine %s)", cfg.BindAddr, variant.Name, eng.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// selectEngine resolves the inference backend once at startup. "auto" takes
// the local worker when its script exists, then a configured remote service,
// and falls back to the mock backend.
func selectEngine(cfg config.Config, variant modelspec.Variant) engine.Engine {
	mode := strings.ToLower(strings.TrimSpace(cfg.EngineProvider))
	if mode == "" {
		mode = "auto"
	}

	tryWorker := func(fatal bool) engine.Engine {
		e, err := engine.StartWorkerEngine(engine.WorkerConfig{
			Python:  cfg.EngineWorkerPython,
			Script:  cfg.EngineWorkerScript,
			Variant: variant.Name,
			Device:  cfg.EngineWorkerDevice,
		})
		if err != nil {
			if fatal {
				log.Fatalf("worker engine init failed: %v", err)
			}
			log.Printf("worker engine unavailable: %v", err)
			return nil
		}
		log.Printf("engine: local model worker (%s)", cfg.EngineWorkerScript)
		return e
	}

	tryHTTP := func(fatal bool) engine.Engine {
		if strings.TrimSpace(cfg.EngineHTTPURL) == "" {
			if fatal {
				log.Fatalf("ENGINE_PROVIDER=http but ENGINE_HTTP_URL is not set")
			}
			return nil
		}
		e, err := engine.NewHTTPEngine(cfg.EngineHTTPURL)
		if err != nil {
			if fatal {
				log.Fatalf("http engine init failed: %v", err)
			}
			log.Printf("http engine unavailable: %v", err)
			return nil
		}
		log.Printf("engine: remote inference service at %s", cfg.EngineHTTPURL)
		return e
	}

	switch mode {
	case "worker":
		return tryWorker(true)
	case "http":
		return tryHTTP(true)
	case "mock":
		log.Printf("engine: mock")
		return engine.NewMockEngine()
	case "auto":
		if e := tryWorker(false); e != nil {
			return e
		}
		if e := tryHTTP(false); e != nil {
			return e
		}
		log.Printf("engine: mock (no worker script and no remote url)")
		return engine.NewMockEngine()
	default:
		log.Fatalf("invalid ENGINE_PROVIDER: %q (expected auto|worker|http|mock)", cfg.EngineProvider)
		return nil
	}
}
