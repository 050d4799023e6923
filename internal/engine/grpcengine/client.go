package grpcengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/errors"
)

// Config describes a remote gRPC extractor.
type Config struct {
	// Name is the engine name used locally.
	Name string

	// Address is the server target, e.g. "localhost:50051".
	Address string

	// Backend is forwarded as the server-side engine hint. Empty lets the
	// server choose.
	Backend string

	Timeout    time.Duration
	Extensions []string
}

// Option configures a client Engine.
type Option func(*options)

type options struct {
	dialOpts []grpc.DialOption
}

// WithDialOptions appends dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// Engine is an engine.Engine backed by a docbench.v1.Extractor server.
type Engine struct {
	cfg  Config
	conn *grpc.ClientConn
}

// Dial creates the client. The connection is established lazily on first use.
func Dial(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("grpc engine %s: address is required", cfg.Name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{"pdf", "png", "jpg", "jpeg", "tif", "tiff", "txt", "md", "html"}
	}

	o := options{dialOpts: []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64*1024*1024),
			grpc.MaxCallSendMsgSize(64*1024*1024),
		),
	}}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := grpc.NewClient(cfg.Address, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Address, err)
	}
	return &Engine{cfg: cfg, conn: conn}, nil
}

// Close closes the client connection.
func (e *Engine) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Engine) Name() string         { return e.cfg.Name }
func (e *Engine) Extensions() []string { return e.cfg.Extensions }
func (e *Engine) Available() bool      { return e.conn != nil }

// Extract uploads the document and decodes the returned outcome.
func (e *Engine) Extract(ctx context.Context, path string) (*engine.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	req, err := toStruct(extractRequest{
		Filename:      filepath.Base(path),
		Backend:       e.cfg.Backend,
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, extractMethod, req, resp); err != nil {
		return nil, fromStatus(err)
	}

	var out engine.Outcome
	if err := fromStruct(resp, &out); err != nil {
		return nil, err
	}
	if out.EngineName == "" {
		out.EngineName = e.cfg.Name
	}
	return &out, nil
}

// ListEngines asks the server which engines it can run.
func (e *Engine) ListEngines(ctx context.Context) ([]engine.Info, error) {
	resp := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, listEnginesMethod, &structpb.Struct{}, resp); err != nil {
		return nil, fromStatus(err)
	}
	var list listResponse
	if err := fromStruct(resp, &list); err != nil {
		return nil, err
	}
	return list.Engines, nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return errors.Wrap(errors.CodeTimeout, st.Message(), err)
	case codes.NotFound:
		return errors.Wrap(errors.CodeNotFound, st.Message(), err)
	case codes.Unavailable:
		return errors.Wrap(errors.CodeUnavailable, st.Message(), err)
	default:
		return err
	}
}
