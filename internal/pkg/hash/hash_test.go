package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSHA256(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{
			[]byte("hello"),
			"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
		{
			[]byte(""),
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := SHA256(tt.input); got != tt.want {
				t.Errorf("SHA256(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSHA256Short(t *testing.T) {
	full := SHA256String("hello")

	tests := []struct {
		n    int
		want string
	}{
		{8, full[:8]},
		{32, full[:32]},
		{64, full},
		{100, full},
	}

	for _, tt := range tests {
		if got := SHA256Short([]byte("hello"), tt.n); got != tt.want {
			t.Errorf("SHA256Short(hello, %d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if want := SHA256String("hello"); got != want {
		t.Errorf("File() = %s, want %s", got, want)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("File() on a missing path should fail")
	}
}

func TestExtractionKey(t *testing.T) {
	content := SHA256String("document bytes")

	a := ExtractionKey("tesseract", content)
	b := ExtractionKey("tesseract", content)
	c := ExtractionKey("pdftotext", content)

	if a != b {
		t.Errorf("ExtractionKey not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("different engines must not share a key")
	}
	if !strings.HasPrefix(a, "tesseract:") {
		t.Errorf("key %s should be prefixed with the engine name", a)
	}
}
