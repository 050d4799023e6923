package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/report"
)

// MemoryStore keeps reports in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*report.Report
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*report.Report)}
}

func (m *MemoryStore) SaveReport(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reports[r.RunID]; exists {
		return errors.ValidationError("run already stored: " + r.RunID)
	}
	m.reports[r.RunID] = clone(r)
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]RunSummary, 0, len(m.reports))
	for _, r := range m.reports {
		runs = append(runs, summarize(r))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].Timestamp.After(runs[j].Timestamp)
		}
		return runs[i].RunID > runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) GetReport(_ context.Context, runID string) (*report.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[runID]
	if !ok {
		return nil, errors.NotFoundError("run " + runID)
	}
	return clone(r), nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(r *report.Report) *report.Report {
	c := *r
	c.Categories = slices.Clone(r.Categories)
	c.Scores = slices.Clone(r.Scores)
	c.BackendSummaries = slices.Clone(r.BackendSummaries)
	return &c
}
