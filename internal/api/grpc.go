package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"cryptobot/internal/backtest"
	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
	"cryptobot/internal/marketdata"
)

// BacktesterServiceName is the fully qualified gRPC service name.
const BacktesterServiceName = "backtest.v1.Backtester"

// Full method names, as used by clients.
const (
	RunMethod    = "/" + BacktesterServiceName + "/Run"
	StreamMethod = "/" + BacktesterServiceName + "/Stream"
)

// BacktesterServer is the gRPC contract. Requests and responses are
// google.protobuf.Struct messages with the same JSON shape as the HTTP API.
type BacktesterServer interface {
	// Run executes one backtest and returns the completed run.
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Stream executes one backtest, sending a trade event per closed trade
	// and then a result event.
	Stream(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// BacktesterServiceDesc describes the service for grpc.Server.RegisterService
// and for client-side streams.
var BacktesterServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktesterServiceName,
	HandlerType: (*BacktesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "backtest/v1/backtester.proto",
}

// RegisterBacktesterServer registers srv on gs.
func RegisterBacktesterServer(gs grpc.ServiceRegistrar, srv BacktesterServer) {
	gs.RegisterService(&BacktesterServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktesterServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktesterServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BacktesterServer).Stream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ---------------------------------------------------------------------------
// Service implementation
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ BacktesterServer = (*BacktesterService)(nil)

// BacktesterService implements BacktesterServer on top of the engine.
type BacktesterService struct {
	engine *engine.Engine
	hub    *Hub
	log    *slog.Logger
}

// NewBacktesterService creates the gRPC service. hub may be nil.
func NewBacktesterService(eng *engine.Engine, hub *Hub) *BacktesterService {
	return &BacktesterService{
		engine: eng,
		hub:    hub,
		log:    slog.Default().With("component", "grpc"),
	}
}

// Run decodes the request struct, runs it and encodes the run.
func (s *BacktesterService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req engine.Request
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	run, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	s.publish(run)
	return ToStruct(run)
}

// Stream sends {"type":"trade"} events as trades close and a final
// {"type":"result"} event. Failures end the stream with a status error.
func (s *BacktesterService) Stream(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req engine.Request
	if err := FromStruct(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	var sendErr error
	observer := backtest.WithTradeObserver(func(t domain.Trade) {
		if sendErr != nil {
			return
		}
		msg, err := ToStruct(Event{Type: EventTrade, Trade: &t})
		if err == nil {
			err = stream.Send(msg)
		}
		if err != nil {
			sendErr = err
			cancel()
		}
	})

	run, err := s.engine.Run(ctx, req, observer)
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return grpcError(err)
	}
	s.publish(run)

	msg, err := ToStruct(Event{Type: EventResult, Run: run})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}

func (s *BacktesterService) publish(run *domain.BacktestRun) {
	if s.hub != nil {
		s.hub.PublishRun(run)
	}
}

// grpcError maps engine errors onto status codes the same way statusFor
// maps them onto HTTP statuses.
func grpcError(err error) error {
	var dsErr *marketdata.DataSourceError
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &dsErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

// ToStruct converts v to a Struct through its JSON encoding.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("converting %T to struct: %w", v, err)
	}
	return out, nil
}

// FromStruct decodes s into v through its JSON encoding.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding struct into %T: %w", v, err)
	}
	return nil
}
