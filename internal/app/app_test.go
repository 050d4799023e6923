package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docbench/internal/bus"
	"github.com/docfold/docbench/internal/config"
	apperrors "github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/textdiff"
)

func writeDoc(t *testing.T, root, category, id, text, truth string) {
	t.Helper()
	dir := filepath.Join(root, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".txt"), []byte(text), 0o644))

	gt, err := json.Marshal(map[string]any{
		"document_id":  id,
		"category":     category,
		"ground_truth": map[string]any{"full_text": truth},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".ground_truth.json"), gt, 0o644))
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Type = "memory"
	cfg.Bus.Type = "memory"
	cfg.Store = config.StoreConfig{}
	cfg.Engines.Remote = nil

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeDoc(t, root, "letters", "l1", "hello world", "hello world")
	writeDoc(t, root, "letters", "l2", "hello wrld", "hello world")
	writeDoc(t, root, "forms", "f1", "name date", "name date")
	return root
}

func TestEvaluate(t *testing.T) {
	a := newTestApp(t)
	root := testDataset(t)

	done := make(chan bus.Event, 1)
	require.NoError(t, a.Bus.Subscribe(context.Background(), bus.TopicRunCompleted, func(_ context.Context, e bus.Event) error {
		done <- e
		return nil
	}))

	rep, err := a.Evaluate(context.Background(), Request{DatasetPath: root, Engines: []string{"plaintext"}})
	require.NoError(t, err)
	require.Len(t, rep.Scores, 3)

	byID := make(map[string]float64)
	for _, s := range rep.Scores {
		require.Nil(t, s.Error, "score %s", s.DocumentID)
		require.NotNil(t, s.CER)
		byID[s.DocumentID] = *s.CER
	}
	assert.Zero(t, byID["l1"])
	assert.Zero(t, byID["f1"])
	assert.InDelta(t, 1.0/11, byID["l2"], 1e-9)

	sum, ok := rep.Summary("plaintext")
	require.True(t, ok)
	assert.Equal(t, 3, sum.ScoredCount)

	saved, err := a.Store.GetReport(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, saved.RunID)

	select {
	case e := <-done:
		assert.Equal(t, rep.RunID, e.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("run completed event not delivered")
	}
}

func TestEvaluate_CategoryFilter(t *testing.T) {
	a := newTestApp(t)

	rep, err := a.Evaluate(context.Background(), Request{
		DatasetPath: testDataset(t),
		Engines:     []string{"plaintext"},
		Categories:  []string{"forms"},
	})
	require.NoError(t, err)
	require.Len(t, rep.Scores, 1)
	assert.Equal(t, "f1", rep.Scores[0].DocumentID)
	assert.Equal(t, []string{"forms"}, rep.Categories)
}

func TestEvaluate_Errors(t *testing.T) {
	a := newTestApp(t)
	root := testDataset(t)

	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"missing dataset", Request{DatasetPath: filepath.Join(root, "nope"), Engines: []string{"plaintext"}}, apperrors.CodeNotFound},
		{"no records", Request{DatasetPath: root, Engines: []string{"plaintext"}, Categories: []string{"receipts"}}, apperrors.CodeValidation},
		{"unknown engine", Request{DatasetPath: root, Engines: []string{"marker"}}, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Evaluate(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestResolveEngines(t *testing.T) {
	a := newTestApp(t)

	got, err := a.ResolveEngines([]string{"plaintext", "plaintext"})
	require.NoError(t, err)
	assert.Equal(t, []string{"plaintext"}, got)

	all, err := a.ResolveEngines(nil)
	require.NoError(t, err)
	assert.Contains(t, all, "plaintext")
}

func TestConvert(t *testing.T) {
	a := newTestApp(t)
	path := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nbody"), 0o644))

	out, err := a.Convert(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", out.EngineName)
	assert.Equal(t, "# Title\n\nbody", out.Content)
}

func TestNew_BadCache(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisURL = "not-a-url"

	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	a := newTestApp(t)
	root := testDataset(t)

	d, err := a.Diff(context.Background(), root, "l2", "plaintext", textdiff.Options{Context: textdiff.DefaultContext})
	require.NoError(t, err)
	assert.Equal(t, "plaintext", d.Engine)
	assert.InDelta(t, 1.0/11, d.CER, 1e-9)
	assert.InDelta(t, 0.5, d.WER, 1e-9)
	assert.Equal(t, 1, d.Diff.Deleted)
	assert.Equal(t, 1, d.Diff.Inserted)
	assert.Contains(t, d.Diff.Text, "--- l2 (ground truth)")
	assert.Contains(t, d.Diff.Text, "+hello wrld")

	same, err := a.Diff(context.Background(), root, "l1", "plaintext", textdiff.Options{})
	require.NoError(t, err)
	assert.True(t, same.Diff.Identical())

	_, err = a.Diff(context.Background(), root, "missing", "plaintext", textdiff.Options{})
	assert.True(t, apperrors.IsNotFound(err))
}
