// Package store keeps the history of evaluation runs.
package store

import (
	"context"
	"time"

	"github.com/docfold/docbench/internal/config"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
	"github.com/docfold/docbench/internal/report"
)

// Store persists reports.
type Store interface {
	// SaveReport records a finished run. Saving a run ID twice fails.
	SaveReport(ctx context.Context, r *report.Report) error

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// GetReport rebuilds the report of runID.
	GetReport(ctx context.Context, runID string) (*report.Report, error)

	Close() error
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	DatasetPath string    `json:"dataset_path"`
	Categories  []string  `json:"categories"`
	Timestamp   time.Time `json:"timestamp"`
	ScoreCount  int       `json:"score_count"`
	Backends    []string  `json:"backends"`
}

func summarize(r *report.Report) RunSummary {
	backends := make([]string, len(r.BackendSummaries))
	for i, s := range r.BackendSummaries {
		backends[i] = s.BackendName
	}
	return RunSummary{
		RunID:       r.RunID,
		DatasetPath: r.DatasetPath,
		Categories:  r.Categories,
		Timestamp:   r.Timestamp,
		ScoreCount:  len(r.Scores),
		Backends:    backends,
	}
}

// Open returns the store configured by cfg. An empty driver yields an
// in-memory store that lives as long as the process.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, log)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, log)
	default:
		return nil, errors.ValidationError("unknown store driver: " + cfg.Driver)
	}
}
