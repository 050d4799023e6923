package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreFilter_Defaults(t *testing.T) {
	root := t.TempDir()
	f, err := NewIgnoreFilter(root)
	require.NoError(t, err)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"invoices/a.pdf", false, false},
		{"invoices/a.ground_truth.json", false, false},
		{".git", true, true},
		{".git/HEAD", false, true},
		{"invoices/.a.pdf.swp", false, true},
		{"report.json", false, true},
		{"out/summary.xlsx", false, true},
		{".", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldIgnore(tt.path, tt.isDir))
		})
	}
}

func TestIgnoreFilter_Files(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# comment\nscratch/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFile), []byte("*.png\n!keep.png\n"), 0o644))

	f, err := NewIgnoreFilter(root)
	require.NoError(t, err)

	assert.True(t, f.ShouldIgnore(filepath.Join(root, "scratch"), true))
	assert.True(t, f.ShouldIgnore(filepath.Join(root, "forms", "scan.png"), false))
	assert.False(t, f.ShouldIgnore(filepath.Join(root, "forms", "keep.png"), false))
	assert.False(t, f.ShouldIgnore(filepath.Join(root, "forms", "scan.pdf"), false))
}

type changeRecorder struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{notify: make(chan struct{}, 16)}
}

func (r *changeRecorder) onChange(_ context.Context, paths []string) {
	r.mu.Lock()
	r.batches = append(r.batches, paths)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *changeRecorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

func startWatcher(t *testing.T, root string, rec *changeRecorder) {
	t.Helper()
	w, err := New(Config{Root: root, Debounce: 50 * time.Millisecond}, rec.onChange, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// Give fsnotify time to register the tree.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	rec := newChangeRecorder()
	startWatcher(t, root, rec)

	a := filepath.Join(root, "a.ground_truth.json")
	b := filepath.Join(root, "a.txt")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(a, []byte("{}"), 0o644))
		require.NoError(t, os.WriteFile(b, []byte("text"), 0o644))
	}

	batch := rec.wait(t)
	assert.Equal(t, []string{a, b}, batch)
}

func TestWatcher_IgnoresAndNewDirs(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	rec := newChangeRecorder()
	startWatcher(t, root, rec)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.tmp"), []byte("x"), 0o644))

	sub := filepath.Join(root, "forms")
	require.NoError(t, os.Mkdir(sub, 0o755))
	batch := rec.wait(t)
	assert.Equal(t, []string{sub}, batch)

	doc := filepath.Join(sub, "f1.txt")
	require.NoError(t, os.WriteFile(doc, []byte("name"), 0o644))
	batch = rec.wait(t)
	assert.Contains(t, batch, doc)
	assert.NotContains(t, batch, filepath.Join(root, "notes.tmp"))
}
