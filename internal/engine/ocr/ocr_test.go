package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type call struct {
	name string
	args []string
}

// stubRunner answers commands by binary name and records every call.
type stubRunner struct {
	calls   []call
	respond func(name string, args []string) ([]byte, []byte, error)
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, call{name: name, args: args})
	return s.respond(name, args)
}

func foundAll(string) (string, error) { return "/usr/bin/x", nil }

func TestPDFText_Extract(t *testing.T) {
	r := &stubRunner{respond: func(name string, args []string) ([]byte, []byte, error) {
		return []byte("Invoice 123   \n\n\n\nTotal\fPage two\n\f"), nil, nil
	}}
	e := NewPDFText(Config{}, nil, WithRunner(r), WithLookPath(foundAll))

	out, err := e.Extract(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Pages != 2 {
		t.Errorf("Pages = %d, want 2", out.Pages)
	}
	if want := "Invoice 123\n\nTotal\fPage two"; out.Content != want {
		t.Errorf("Content = %q, want %q", out.Content, want)
	}
	if r.calls[0].name != "pdftotext" || r.calls[0].args[len(r.calls[0].args)-1] != "-" {
		t.Errorf("unexpected invocation %+v", r.calls[0])
	}
}

func TestPDFText_Failure(t *testing.T) {
	r := &stubRunner{respond: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("Syntax Error"), errors.New("exit status 1")
	}}
	e := NewPDFText(Config{}, nil, WithRunner(r))

	_, err := e.Extract(context.Background(), "doc.pdf")
	if err == nil || !strings.Contains(err.Error(), "Syntax Error") {
		t.Errorf("Extract() error = %v, want stderr in message", err)
	}
}

func TestTesseract_Image(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tHello\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\tworld\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"

	r := &stubRunner{respond: func(name string, args []string) ([]byte, []byte, error) {
		if args[len(args)-1] == "tsv" {
			return []byte(tsv), nil, nil
		}
		return []byte("Hello world\n"), nil, nil
	}}
	e := NewTesseract(Config{TSVConfidence: true, TesseractLang: "deu"}, nil, WithRunner(r), WithLookPath(foundAll))

	out, err := e.Extract(context.Background(), "scan.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Content != "Hello world" {
		t.Errorf("Content = %q, want %q", out.Content, "Hello world")
	}
	if out.Confidence == nil || *out.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", out.Confidence)
	}
	if got := r.calls[0].args; got[3] != "deu" {
		t.Errorf("tesseract args = %v, want language deu", got)
	}
}

func TestTesseract_PDF(t *testing.T) {
	r := &stubRunner{}
	r.respond = func(name string, args []string) ([]byte, []byte, error) {
		switch name {
		case "pdftoppm":
			prefix := args[len(args)-1]
			for _, p := range []string{"-1.png", "-2.png"} {
				if err := os.WriteFile(prefix+p, []byte("png"), 0o644); err != nil {
					return nil, nil, err
				}
			}
			return nil, nil, nil
		default:
			return []byte("text of " + filepath.Base(args[0])), nil, nil
		}
	}
	e := NewTesseract(Config{DPI: 150}, nil, WithRunner(r), WithLookPath(foundAll))

	out, err := e.Extract(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Pages != 2 {
		t.Errorf("Pages = %d, want 2", out.Pages)
	}
	if want := "text of page-1.png\n\ntext of page-2.png"; out.Content != want {
		t.Errorf("Content = %q, want %q", out.Content, want)
	}
	if r.calls[0].args[1] != "150" {
		t.Errorf("pdftoppm args = %v, want DPI 150", r.calls[0].args)
	}
}

func TestTesseract_PDFWithoutPdftoppm(t *testing.T) {
	lookPath := func(bin string) (string, error) {
		if bin == "pdftoppm" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + bin, nil
	}
	e := NewTesseract(Config{}, nil, WithRunner(&stubRunner{}), WithLookPath(lookPath))

	if !e.Available() {
		t.Error("Available() = false, want true (tesseract present)")
	}
	if _, err := e.Extract(context.Background(), "doc.pdf"); err == nil {
		t.Error("Extract() on a PDF without pdftoppm should fail")
	}
}

func TestAvailable(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("not found") }
	if NewPDFText(Config{}, nil, WithLookPath(missing)).Available() {
		t.Error("PDFText.Available() = true with no binary")
	}
	if !NewPDFText(Config{}, nil, WithLookPath(foundAll)).Available() {
		t.Error("PDFText.Available() = false with binary present")
	}
}

func TestNormalizeText(t *testing.T) {
	in := "  a  \r\nb\t\n\n\n\nc\n\n"
	if got, want := normalizeText(in), "a\nb\n\nc"; got != want {
		t.Errorf("normalizeText() = %q, want %q", got, want)
	}
}
