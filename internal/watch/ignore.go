package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFile holds dataset-specific ignore patterns in .gitignore syntax.
const IgnoreFile = ".docbenchignore"

var defaultPatterns = []string{
	".git",
	".DS_Store",
	"*.tmp",
	"*.swp",
	"*~",
	"*.xlsx",
	"report*.json",
}

// IgnoreFilter decides which paths under a dataset root are not watched.
type IgnoreFilter struct {
	root     string
	patterns []gitignore.Pattern
}

// NewIgnoreFilter loads the default patterns, then root/.gitignore and
// root/.docbenchignore when present.
func NewIgnoreFilter(root string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{root: root}
	for _, p := range defaultPatterns {
		f.patterns = append(f.patterns, gitignore.ParsePattern(p, nil))
	}

	for _, name := range []string{".gitignore", IgnoreFile} {
		if err := f.loadFile(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *IgnoreFilter) loadFile(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f.patterns = append(f.patterns, gitignore.ParsePattern(line, nil))
	}
	return scanner.Err()
}

// ShouldIgnore reports whether path, absolute or relative to the root,
// matches an ignore pattern. Later patterns override earlier ones.
func (f *IgnoreFilter) ShouldIgnore(path string, isDir bool) bool {
	rel := path
	if filepath.IsAbs(path) {
		var err error
		if rel, err = filepath.Rel(f.root, path); err != nil {
			return false
		}
	}
	if rel == "." {
		return false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	ignored := false
	for _, p := range f.patterns {
		switch p.Match(parts, isDir) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}
