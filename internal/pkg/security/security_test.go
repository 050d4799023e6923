package security

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errType string
	}{
		{"valid simple", "invoices", false, ""},
		{"valid nested", "benchmarks/2024/forms", false, ""},
		{"valid with dots", "set.v2", false, ""},
		{"valid hidden", ".cache", false, ""},
		{"valid current dir", "./invoices", false, ""},
		{"dots are not traversal", "src/.../file.txt", false, ""},

		{"empty", "", true, "empty"},
		{"null byte", "file\x00.txt", true, "null byte"},
		{"traversal simple", "../secrets", true, "traversal"},
		{"traversal nested", "a/../../../etc", true, "traversal"},
		{"traversal backslash", `a\..\..\etc`, true, "traversal"},
		{"absolute unix", "/etc/passwd", true, "absolute"},
		{"absolute windows", `C:\Windows\System32`, true, "absolute"},
		{"reserved con", "con.txt", true, "reserved"},
		{"reserved nested", "folder/prn.doc", true, "reserved"},
		{"reserved lpt1", "lpt1", true, "reserved"},
		{"too long", strings.Repeat("a", 2000), true, "length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.errType) {
				t.Errorf("ValidatePath(%q) error = %v, should contain %q", tt.path, err, tt.errType)
			}
		})
	}
}

func TestResolveUnder(t *testing.T) {
	root := t.TempDir()

	got, err := ResolveUnder(root, "forms/2024")
	if err != nil {
		t.Fatalf("ResolveUnder() error = %v", err)
	}
	if want := filepath.Join(root, "forms", "2024"); got != want {
		t.Errorf("ResolveUnder() = %q, want %q", got, want)
	}

	for _, rel := range []string{"../x", "/etc", ""} {
		if _, err := ResolveUnder(root, rel); err == nil {
			t.Errorf("ResolveUnder(%q) should fail", rel)
		}
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"simple", "hello world", "hello world"},
		{"newline", "line1\nline2", "line1\\nline2"},
		{"carriage return", "line1\rline2", "line1\\rline2"},
		{"tab", "col1\tcol2", "col1\\tcol2"},
		{"control chars", "hello\x00\x01\x02world", "helloworld"},
		{"long string", strings.Repeat("a", 300), strings.Repeat("a", 200) + "..."},
		{"unicode", "hello 世界", "hello 世界"},
		{"log injection", "ds\nERROR: fake error", "ds\\nERROR: fake error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.expected {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskSensitiveHeaders(t *testing.T) {
	headers := http.Header{
		"Content-Type":  []string{"application/json"},
		"Authorization": []string{"Bearer secret123"},
		"X-Api-Key":     []string{"key123"},
		"X-Request-Id":  []string{"req-456"},
		"Cookie":        []string{"session=abc"},
		"X-Custom-Auth": []string{"should-be-masked"},
	}

	masked := MaskSensitiveHeaders(headers)

	if masked.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type should not be masked")
	}
	if masked.Get("X-Request-Id") != "req-456" {
		t.Errorf("X-Request-Id should not be masked")
	}
	for _, key := range []string{"Authorization", "X-Api-Key", "Cookie", "X-Custom-Auth"} {
		if masked.Get(key) != "[REDACTED]" {
			t.Errorf("%s should be masked, got %q", key, masked.Get(key))
		}
	}
	if headers.Get("Authorization") != "Bearer secret123" {
		t.Errorf("original headers should not be modified")
	}

	if MaskSensitiveHeaders(nil) != nil {
		t.Error("MaskSensitiveHeaders(nil) should return nil")
	}
}

func BenchmarkValidatePath(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidatePath("benchmarks/2024/forms/invoices")
	}
}
