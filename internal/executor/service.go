package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region service
// Service hosts executors created by a local Loader and exposes them over
// the remote executor protocol. Handles are checked out under a mutex and
// each handle serializes its own forward passes.
type Service struct {
	loader Loader
	log    *slog.Logger

	mu      sync.Mutex
	handles map[string]*hostedExecutor
}

type hostedExecutor struct {
	mu   sync.Mutex
	exec Executor
}

// NewService returns a Service backed by loader. The model path sent by
// clients is logged but the loader decides what is loaded.
func NewService(loader Loader, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{loader: loader, log: log, handles: make(map[string]*hostedExecutor)}
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

// Open reports the number of live handles.
func (s *Service) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// CloseAll releases every live handle, e.g. at shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*hostedExecutor)
	s.mu.Unlock()

	for id, h := range handles {
		h.mu.Lock()
		if err := h.exec.Close(); err != nil {
			s.log.Warn("close executor", "handle", id, "error", err)
		}
		h.mu.Unlock()
	}
}

// #endregion service

// #region rpc-handlers
func (s *Service) load(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	exec, err := s.loader.Load(ctx)
	if err != nil {
		s.log.Error("load model", "model", req.GetValue(), "error", err)
		return nil, status.Errorf(codes.FailedPrecondition, "load %s: %v", req.GetValue(), err)
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.handles[id] = &hostedExecutor{exec: exec}
	s.mu.Unlock()

	s.log.Info("model loaded", "model", req.GetValue(), "handle", id)
	return wrapperspb.String(id), nil
}

func (s *Service) infer(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	id := req.GetFields()[fieldHandle].GetStringValue()
	h, ok := s.lookup(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown handle %q", id)
	}

	raw := req.GetFields()[fieldInput].GetListValue().GetValues()
	input := make([]float32, len(raw))
	for i, v := range raw {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "input %d is not a number", i)
		}
		input[i] = float32(n.NumberValue)
	}

	h.mu.Lock()
	scores, err := h.exec.Infer(ctx, input)
	h.mu.Unlock()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	values := make([]*structpb.Value, len(scores))
	for i, v := range scores {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *Service) close(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id := req.GetValue()
	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown handle %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.exec.Close(); err != nil {
		return nil, status.Errorf(codes.Internal, "close: %v", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) lookup(id string) (*hostedExecutor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// #endregion rpc-handlers

// #region service-desc
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: loadHandler},
		{MethodName: "Infer", Handler: inferHandler},
		{MethodName: "Close", Handler: closeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func loadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodLoad}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).load(ctx, req.(*wrapperspb.StringValue))
	})
}

func inferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInfer}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).infer(ctx, req.(*structpb.Struct))
	})
}

func closeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).close(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodClose}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).close(ctx, req.(*wrapperspb.StringValue))
	})
}

// #endregion service-desc
