package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
	"github.com/docfold/docbench/internal/report"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		dataset_path TEXT NOT NULL,
		categories   TEXT,
		created_at   TEXT NOT NULL,
		score_count  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		run_id              TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position            INTEGER NOT NULL,
		document_id         TEXT NOT NULL,
		category            TEXT NOT NULL,
		backend_name        TEXT NOT NULL,
		cer                 DOUBLE PRECISION,
		wer                 DOUBLE PRECISION,
		table_f1            DOUBLE PRECISION,
		heading_f1          DOUBLE PRECISION,
		reading_order_score DOUBLE PRECISION,
		processing_time_ms  BIGINT NOT NULL,
		error_kind          TEXT,
		error_message       TEXT,
		missing_fields      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at)`,
}

// SQLStore keeps run history in sqlite or postgres through database/sql.
type SQLStore struct {
	db      *sql.DB
	driver  string
	pool    *pgxpool.Pool
	log     *logger.Logger
	timeout time.Duration
}

// OpenSQLite opens (or creates) a sqlite database. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, dsn string, log *logger.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError("open sqlite", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, DriverSQLite, nil, log)
}

// OpenPostgres connects through a pgx pool exposed as *sql.DB.
func OpenPostgres(ctx context.Context, dsn string, log *logger.Logger) (*SQLStore, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.StorageError("parse postgres dsn", err)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docbench"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, errors.StorageError("connect postgres", err)
	}

	return newSQLStore(ctx, stdlib.OpenDBFromPool(pool), DriverPostgres, pool, log)
}

func newSQLStore(ctx context.Context, db *sql.DB, driver string, pool *pgxpool.Pool, log *logger.Logger) (*SQLStore, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &SQLStore{db: db, driver: driver, pool: pool, log: log, timeout: 30 * time.Second}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Debug("run history ready", "driver", driver)
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return errors.StorageError("enable foreign keys", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.StorageError("migrate", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveReport(ctx context.Context, r *report.Report) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var categories sql.NullString
	if r.Categories != nil {
		data, err := json.Marshal(r.Categories)
		if err != nil {
			return err
		}
		categories = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("begin", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM runs WHERE run_id = ?`), r.RunID).Scan(&exists)
	if err != nil {
		return errors.StorageError("check run", err)
	}
	if exists > 0 {
		return errors.ValidationError("run already stored: " + r.RunID)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO runs (run_id, dataset_path, categories, created_at, score_count) VALUES (?, ?, ?, ?, ?)`),
		r.RunID, r.DatasetPath, categories, r.Timestamp.UTC().Format(time.RFC3339), len(r.Scores))
	if err != nil {
		return errors.StorageError("insert run", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO scores (
		run_id, position, document_id, category, backend_name,
		cer, wer, table_f1, heading_f1, reading_order_score,
		processing_time_ms, error_kind, error_message, missing_fields
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return errors.StorageError("prepare scores", err)
	}
	defer stmt.Close()

	for i, sc := range r.Scores {
		var kind, msg sql.NullString
		if sc.Error != nil {
			kind = sql.NullString{String: sc.Error.Kind, Valid: true}
			msg = sql.NullString{String: sc.Error.Message, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			r.RunID, i, sc.DocumentID, sc.Category, sc.BackendName,
			nullFloat(sc.CER), nullFloat(sc.WER), nullFloat(sc.TableF1), nullFloat(sc.HeadingF1), nullFloat(sc.ReadingOrderScore),
			sc.ProcessingTimeMS, kind, msg, sc.MissingFields)
		if err != nil {
			return errors.StorageError(fmt.Sprintf("insert score %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("commit", err)
	}
	s.log.WithRun(r.RunID).Debug("run saved", "scores", len(r.Scores))
	return nil
}

func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, dataset_path, categories, created_at, score_count FROM runs ORDER BY created_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("list runs", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var run RunSummary
		var categories sql.NullString
		var created string
		if err := rows.Scan(&run.RunID, &run.DatasetPath, &categories, &created, &run.ScoreCount); err != nil {
			return nil, errors.StorageError("scan run", err)
		}
		if run.Categories, err = decodeCategories(categories); err != nil {
			return nil, err
		}
		if run.Timestamp, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, errors.StorageError("parse created_at", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list runs", err)
	}

	for i := range runs {
		if runs[i].Backends, err = s.backends(ctx, runs[i].RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// backends returns the distinct backends of a run in first-appearance order.
func (s *SQLStore) backends(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT backend_name, MIN(position) AS first_pos FROM scores WHERE run_id = ? GROUP BY backend_name ORDER BY first_pos`),
		runID)
	if err != nil {
		return nil, errors.StorageError("list backends", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		var first int
		if err := rows.Scan(&name, &first); err != nil {
			return nil, errors.StorageError("scan backend", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetReport reloads the stored scores and rebuilds summaries from them.
func (s *SQLStore) GetReport(ctx context.Context, runID string) (*report.Report, error) {
	var meta report.Metadata
	var categories sql.NullString
	var created string

	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT run_id, dataset_path, categories, created_at FROM runs WHERE run_id = ?`), runID).
		Scan(&meta.RunID, &meta.DatasetPath, &categories, &created)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("run " + runID)
	}
	if err != nil {
		return nil, errors.StorageError("get run", err)
	}
	if meta.Categories, err = decodeCategories(categories); err != nil {
		return nil, err
	}
	if meta.Timestamp, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, errors.StorageError("parse created_at", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		document_id, category, backend_name,
		cer, wer, table_f1, heading_f1, reading_order_score,
		processing_time_ms, error_kind, error_message, missing_fields
		FROM scores WHERE run_id = ? ORDER BY position`), runID)
	if err != nil {
		return nil, errors.StorageError("get scores", err)
	}
	defer rows.Close()

	scores := []evaluation.DocumentScore{}
	for rows.Next() {
		var sc evaluation.DocumentScore
		var cer, wer, table, heading, order sql.NullFloat64
		var kind, msg sql.NullString
		if err := rows.Scan(&sc.DocumentID, &sc.Category, &sc.BackendName,
			&cer, &wer, &table, &heading, &order,
			&sc.ProcessingTimeMS, &kind, &msg, &sc.MissingFields); err != nil {
			return nil, errors.StorageError("scan score", err)
		}
		sc.CER, sc.WER = floatPtr(cer), floatPtr(wer)
		sc.TableF1, sc.HeadingF1, sc.ReadingOrderScore = floatPtr(table), floatPtr(heading), floatPtr(order)
		if kind.Valid {
			sc.Error = &evaluation.ScoreError{Kind: kind.String, Message: msg.String}
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("get scores", err)
	}

	return report.Build(scores, meta), nil
}

// Close releases the database handle and, for postgres, the pool.
func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func decodeCategories(v sql.NullString) ([]string, error) {
	if !v.Valid {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, errors.StorageError("decode categories", err)
	}
	return out, nil
}
