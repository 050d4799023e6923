package grpcengine

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/docfold/docbench/internal/engine"
	apperrors "github.com/docfold/docbench/internal/pkg/errors"
)

// echoEngine returns the uploaded file's content upper-cased.
type echoEngine struct {
	delay time.Duration
}

func (e *echoEngine) Name() string         { return "echo" }
func (e *echoEngine) Extensions() []string { return []string{"txt"} }
func (e *echoEngine) Available() bool      { return true }

func (e *echoEngine) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &engine.Outcome{
		Content:  strings.ToUpper(string(data)),
		Format:   engine.FormatText,
		Pages:    1,
		Headings: []string{"Intro"},
		Tables:   [][][]string{{{"a", "b"}}},
	}, nil
}

func startServer(t *testing.T, e engine.Engine) *bufconn.Listener {
	t.Helper()
	reg := engine.NewRegistry()
	reg.Register(e)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(ServerConfig{}, nil, reg)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener, cfg Config) *Engine {
	t.Helper()
	cfg.Address = "passthrough:///bufnet"
	c, err := Dial(cfg, WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestExtract_RoundTrip(t *testing.T) {
	lis := startServer(t, &echoEngine{})
	c := dial(t, lis, Config{Name: "remote-echo"})

	out, err := c.Extract(context.Background(), writeDoc(t, "hello"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Content != "HELLO" {
		t.Errorf("Content = %q, want HELLO", out.Content)
	}
	if out.EngineName != "echo" {
		t.Errorf("EngineName = %q, want echo (server side)", out.EngineName)
	}
	if out.Pages != 1 || len(out.Headings) != 1 || out.Tables[0][0][1] != "b" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestExtract_UnknownBackend(t *testing.T) {
	lis := startServer(t, &echoEngine{})
	c := dial(t, lis, Config{Name: "remote", Backend: "missing"})

	_, err := c.Extract(context.Background(), writeDoc(t, "x"))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Errorf("Extract() error = %v, want NOT_FOUND", err)
	}
}

func TestExtract_Timeout(t *testing.T) {
	lis := startServer(t, &echoEngine{delay: time.Second})
	c := dial(t, lis, Config{Name: "remote", Timeout: 50 * time.Millisecond})

	_, err := c.Extract(context.Background(), writeDoc(t, "x"))
	if !apperrors.IsTimeout(err) {
		t.Errorf("Extract() error = %v, want timeout", err)
	}
}

func TestListEngines(t *testing.T) {
	lis := startServer(t, &echoEngine{})
	c := dial(t, lis, Config{Name: "remote"})

	infos, err := c.ListEngines(context.Background())
	if err != nil {
		t.Fatalf("ListEngines() error = %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "echo" || !infos[0].Available {
		t.Errorf("ListEngines() = %+v", infos)
	}
}

func TestDial_RequiresAddress(t *testing.T) {
	if _, err := Dial(Config{Name: "x"}); err == nil {
		t.Error("Dial() without address should fail")
	}
}
