package grpcengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docfold/docbench/internal/engine"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// Backends is what the server exposes. *engine.Registry satisfies it.
type Backends interface {
	Extract(ctx context.Context, path, backend string) (*engine.Outcome, error)
	List() []engine.Info
}

// ServerConfig holds the gRPC listener settings.
type ServerConfig struct {
	// Addr is the TCP address to listen on (e.g., ":50051").
	Addr string

	// MaxRecvMsgSize bounds uploaded documents (default: 64MB).
	MaxRecvMsgSize int
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":50051",
		MaxRecvMsgSize: 64 * 1024 * 1024,
	}
}

// Server serves docbench.v1.Extractor backed by a set of engines.
type Server struct {
	cfg        ServerConfig
	log        *logger.Logger
	backends   Backends
	grpcServer *grpc.Server
}

// NewServer creates a server. Call Start or Serve to accept connections.
func NewServer(cfg ServerConfig, log *logger.Logger, backends Backends) *Server {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxRecvMsgSize == 0 {
		cfg.MaxRecvMsgSize = def.MaxRecvMsgSize
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{cfg: cfg, log: log, backends: backends}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              10 * time.Second,
			Timeout:           3 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(s.logInterceptor),
	)
	RegisterExtractorServer(s.grpcServer, s)
	return s
}

// Start listens on the configured TCP address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("gRPC extractor listening", "addr", lis.Addr().String())

	go func() {
		if err := s.Serve(lis); err != nil {
			s.log.Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.log.Info("stopping gRPC extractor")
	s.grpcServer.GracefulStop()
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("grpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

// Extract writes the uploaded document to a temporary file and runs the
// selected backend on it.
func (s *Server) Extract(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req extractRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.Filename == "" {
		return nil, status.Error(codes.InvalidArgument, "filename is required")
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "content_base64: %v", err)
	}

	path, cleanup, err := s.spool(req.Filename, content)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "spool document: %v", err)
	}
	defer cleanup()

	out, err := s.backends.Extract(ctx, path, req.Backend)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, status.FromContextError(ctxErr).Err()
		}
		return nil, toStatus(err)
	}

	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode outcome: %v", err)
	}
	return resp, nil
}

// ListEngines reports the registered engines.
func (s *Server) ListEngines(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := toStruct(listResponse{Engines: s.backends.List()})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode engines: %v", err)
	}
	return resp, nil
}

// spool keeps the original extension so engine selection still works.
func (s *Server) spool(filename string, content []byte) (string, func(), error) {
	dir, err := os.MkdirTemp("", "docbench-grpc-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("failed to remove temp dir", "path", dir, "error", err)
		}
	}

	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func toStatus(err error) error {
	switch {
	case errors.IsTimeout(err):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.HasCode(err, errors.CodeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.HasCode(err, errors.CodeUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
