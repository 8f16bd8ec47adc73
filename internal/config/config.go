package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the generation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	OutputDir    string
	ModelVariant string
	MaxUploadMB  int

	EngineProvider string // auto|worker|http|mock

	EngineWorkerPython string
	EngineWorkerScript string
	EngineWorkerDevice string

	EngineHTTPURL string

	FFmpegPath  string
	FFprobePath string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "modaudio"),
		AllowAnyOrigin:   false,
		// Matches the demo layout so existing tooling finds the artifacts.
		OutputDir:          envOrDefault("APP_OUTPUT_DIR", "output/gradio"),
		ModelVariant:       envOrDefault("MODEL_VARIANT", "large_44k_v2"),
		EngineProvider:     envOrDefault("ENGINE_PROVIDER", "auto"),
		EngineWorkerPython: envOrDefault("ENGINE_WORKER_PYTHON", "python3"),
		EngineWorkerScript: envOrDefault("ENGINE_WORKER_SCRIPT", "scripts/mmaudio_worker.py"),
		// Empty lets the worker pick cuda/mps/cpu itself.
		EngineWorkerDevice: strings.TrimSpace(os.Getenv("ENGINE_WORKER_DEVICE")),
		EngineHTTPURL:      strings.TrimSpace(os.Getenv("ENGINE_HTTP_URL")),
		FFmpegPath:         envOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        envOrDefault("FFPROBE_PATH", "ffprobe"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:    15 * time.Second,
		MaxUploadMB:        512,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadMB, err = intFromEnv("APP_MAX_UPLOAD_MB", cfg.MaxUploadMB)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EngineProvider)) {
	case "auto", "worker", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid ENGINE_PROVIDER: %q (expected auto|worker|http|mock)", cfg.EngineProvider)
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return Config{}, fmt.Errorf("APP_OUTPUT_DIR must not be empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.MaxUploadMB <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_UPLOAD_MB must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
