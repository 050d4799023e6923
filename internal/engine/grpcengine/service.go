// Package grpcengine exposes extraction over gRPC and adapts a remote
// extraction service back into an engine.
//
// Messages are google.protobuf.Struct values so that no generated stubs
// are required. Service: docbench.v1.Extractor.
package grpcengine

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docfold/docbench/internal/engine"
)

const (
	serviceName       = "docbench.v1.Extractor"
	extractMethod     = "/" + serviceName + "/Extract"
	listEnginesMethod = "/" + serviceName + "/ListEngines"
)

// ExtractorServer is the server side of docbench.v1.Extractor.
type ExtractorServer interface {
	Extract(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEngines(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: unaryHandler(extractMethod, ExtractorServer.Extract)},
		{MethodName: "ListEngines", Handler: unaryHandler(listEnginesMethod, ExtractorServer.ListEngines)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docbench/v1/extractor.proto",
}

type unaryFunc func(ExtractorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ExtractorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ExtractorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterExtractorServer registers srv on s.
func RegisterExtractorServer(s grpc.ServiceRegistrar, srv ExtractorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	return nil
}

type extractRequest struct {
	Filename      string `json:"filename"`
	Backend       string `json:"backend,omitempty"`
	ContentBase64 string `json:"content_base64"`
}

type listResponse struct {
	Engines []engine.Info `json:"engines"`
}
