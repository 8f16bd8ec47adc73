package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists job records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generation_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			prompt TEXT NOT NULL,
			negative_prompt TEXT NOT NULL,
			requested_seed BIGINT NOT NULL,
			seed BIGINT NOT NULL,
			num_steps INT NOT NULL,
			cfg_strength DOUBLE PRECISION NOT NULL,
			requested_duration_sec DOUBLE PRECISION NOT NULL,
			resolved_duration_sec DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			artifact_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_jobs_created ON generation_jobs (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	var completedAt *time.Time
	if !job.CompletedAt.IsZero() {
		completedAt = &job.CompletedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO generation_jobs
			(id, kind, prompt, negative_prompt, requested_seed, seed, num_steps,
			 cfg_strength, requested_duration_sec, resolved_duration_sec, status,
			 artifact_path, error, created_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO UPDATE SET
			seed = EXCLUDED.seed,
			resolved_duration_sec = EXCLUDED.resolved_duration_sec,
			status = EXCLUDED.status,
			artifact_path = EXCLUDED.artifact_path,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		job.ID, string(job.Kind), job.Prompt, job.NegativePrompt,
		job.RequestedSeed, job.Seed, job.Steps,
		job.GuidanceStrength, job.RequestedDurationSec, job.ResolvedDurationSec,
		string(job.Status), job.ArtifactPath, job.Error, job.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, prompt, negative_prompt, requested_seed, seed, num_steps,
			cfg_strength, requested_duration_sec, resolved_duration_sec, status,
			artifact_path, error, created_at, completed_at
		 FROM generation_jobs WHERE id=$1`, id)

	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, prompt, negative_prompt, requested_seed, seed, num_steps,
			cfg_strength, requested_duration_sec, resolved_duration_sec, status,
			artifact_path, error, created_at, completed_at
		 FROM generation_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job         Job
		kind        string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(&job.ID, &kind, &job.Prompt, &job.NegativePrompt,
		&job.RequestedSeed, &job.Seed, &job.Steps,
		&job.GuidanceStrength, &job.RequestedDurationSec, &job.ResolvedDurationSec,
		&status, &job.ArtifactPath, &job.Error, &job.CreatedAt, &completedAt)
	if err != nil {
		return Job{}, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	if completedAt != nil {
		job.CompletedAt = *completedAt
	}
	return job, nil
}
