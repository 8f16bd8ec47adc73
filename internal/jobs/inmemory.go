package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process job store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Job
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Job)}
}

func (s *InMemoryStore) Save(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.records[job.ID] = job
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.records[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.records))
	for _, job := range s.records {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
