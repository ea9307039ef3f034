package executor

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region rpc-names
// The remote executor protocol uses protobuf well-known types only, so any
// runtime can host it without shared generated code:
//
//	Load(StringValue model_path) -> StringValue handle
//	Infer(Struct{handle: string, input: [number]}) -> ListValue scores
//	Close(StringValue handle) -> Empty
const (
	serviceName = "modelexec.v1.ModelExecutor"
	methodLoad  = "/" + serviceName + "/Load"
	methodInfer = "/" + serviceName + "/Infer"
	methodClose = "/" + serviceName + "/Close"
	fieldHandle = "handle"
	fieldInput  = "input"

	closeTimeout = 5 * time.Second
)

// #endregion rpc-names

// #region remote-loader
// RemoteLoader loads models on an external executor service over gRPC. Every
// Load opens its own client connection, so workers share nothing.
type RemoteLoader struct {
	Addr      string
	ModelPath string
	DialOpts  []grpc.DialOption
}

// Load dials the service and asks it to load ModelPath.
func (l RemoteLoader) Load(ctx context.Context) (Executor, error) {
	opts := l.DialOpts
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(l.Addr, opts...)
	if err != nil {
		return nil, &ModelLoadError{Path: l.ModelPath, Err: fmt.Errorf("grpc dial %s: %w", l.Addr, err)}
	}

	handle := new(wrapperspb.StringValue)
	if err := conn.Invoke(ctx, methodLoad, wrapperspb.String(l.ModelPath), handle); err != nil {
		conn.Close()
		return nil, &ModelLoadError{Path: l.ModelPath, Err: fmt.Errorf("load rpc: %w", err)}
	}

	return &Remote{conn: conn, handle: handle.GetValue()}, nil
}

// #endregion remote-loader

// #region remote-executor
// Remote is a model handle held by an external executor service.
type Remote struct {
	conn   *grpc.ClientConn
	handle string
}

// Infer sends input to the service and returns its scores.
func (r *Remote) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if r.conn == nil {
		return nil, &InferenceError{Err: fmt.Errorf("executor closed")}
	}

	values := make([]*structpb.Value, len(input))
	for i, v := range input {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldHandle: structpb.NewStringValue(r.handle),
		fieldInput:  structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}

	resp := new(structpb.ListValue)
	if err := r.conn.Invoke(ctx, methodInfer, req, resp); err != nil {
		return nil, &InferenceError{Err: fmt.Errorf("infer rpc: %w", err)}
	}

	scores := make([]float32, len(resp.GetValues()))
	for i, v := range resp.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, &InferenceError{Err: fmt.Errorf("score %d is not a number", i)}
		}
		scores[i] = float32(n.NumberValue)
	}
	return scores, nil
}

// Close releases the remote handle and the client connection. The handle is
// released even if the caller's context is already gone.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	rpcErr := conn.Invoke(ctx, methodClose, wrapperspb.String(r.handle), new(emptypb.Empty))
	if err := conn.Close(); err != nil && rpcErr == nil {
		return fmt.Errorf("close grpc conn: %w", err)
	}
	if rpcErr != nil {
		return fmt.Errorf("close rpc: %w", rpcErr)
	}
	return nil
}

// #endregion remote-executor
