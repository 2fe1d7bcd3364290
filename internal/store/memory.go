package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemoryResultStore implements ResultStore for testing and --no-store runs.
type InMemoryResultStore struct {
	mu        sync.RWMutex
	runs      map[string]RunRecord
	densities map[string][]DensityRecord
	sweeps    map[string]SweepRecord
}

// NewInMemoryResultStore creates an empty store.
func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{
		runs:      make(map[string]RunRecord),
		densities: make(map[string][]DensityRecord),
		sweeps:    make(map[string]SweepRecord),
	}
}

// SaveRun stores a copy of rec.
func (s *InMemoryResultStore) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !rec.Kind.Valid() {
		return "", fmt.Errorf("invalid run kind: %q", rec.Kind)
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if _, exists := s.runs[rec.ID]; exists {
		return "", fmt.Errorf("run %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.densities[rec.ID] = slices.Clone(rec.Densities)
	rec.Densities = nil
	s.runs[rec.ID] = rec
	return rec.ID, nil
}

// GetRun returns the run without densities.
func (s *InMemoryResultStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return &rec, nil
}

// ListRuns returns matching runs, newest first.
func (s *InMemoryResultStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RunRecord
	for _, rec := range s.runs {
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Densities returns a copy of the stored trajectory.
func (s *InMemoryResultStore) Densities(ctx context.Context, runID string) ([]DensityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return slices.Clone(s.densities[runID]), nil
}

// SaveSweep stores a copy of rec.
func (s *InMemoryResultStore) SaveSweep(ctx context.Context, rec SweepRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if _, exists := s.sweeps[rec.ID]; exists {
		return "", fmt.Errorf("sweep %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Cells = slices.Clone(rec.Cells)
	rec.RowValues = slices.Clone(rec.RowValues)
	rec.ColValues = slices.Clone(rec.ColValues)
	s.sweeps[rec.ID] = rec
	return rec.ID, nil
}

// GetSweep returns the sweep with its cells.
func (s *InMemoryResultStore) GetSweep(ctx context.Context, id string) (*SweepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sweeps[id]
	if !ok {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	rec.Cells = slices.Clone(rec.Cells)
	return &rec, nil
}

// ListSweeps returns sweeps newest first, without cells.
func (s *InMemoryResultStore) ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SweepRecord, 0, len(s.sweeps))
	for _, rec := range s.sweeps {
		rec.Cells = nil
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemoryResultStore) Close() error {
	return nil
}
