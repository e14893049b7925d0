// Package grpc exposes the turn orchestrator as groundedrag.v1.TurnService.
//
// Payloads are google.protobuf.Struct documents so clients in any language
// can call the service without generated stubs.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/groundedrag/commbus"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/runtime"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "groundedrag.v1.TurnService"

// Full method names.
const (
	MethodAsk       = "/" + ServiceName + "/Ask"
	MethodAskStream = "/" + ServiceName + "/AskStream"
	MethodHealth    = "/" + ServiceName + "/Health"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// TurnRunner runs turns. *runtime.Orchestrator implements it.
type TurnRunner interface {
	NewState(req runtime.TurnRequest) *envelope.ConversationState
	Run(ctx context.Context, req runtime.TurnRequest) (*runtime.TurnResult, error)
	RunWithStream(ctx context.Context, state *envelope.ConversationState) <-chan runtime.StageOutput
}

// TurnServiceServer is the server API of groundedrag.v1.TurnService.
type TurnServiceServer interface {
	Ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AskStream(req *structpb.Struct, stream grpc.ServerStream) error
	Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TurnServiceDesc describes groundedrag.v1.TurnService for grpc.Server.RegisterService.
var TurnServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TurnServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ask", Handler: unaryHandler(MethodAsk, TurnServiceServer.Ask)},
		{MethodName: "Health", Handler: unaryHandler(MethodHealth, TurnServiceServer.Health)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "AskStream", Handler: askStreamHandler, ServerStreams: true},
	},
	Metadata: "groundedrag/v1/turn.proto",
}

type unaryMethod func(TurnServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(TurnServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(TurnServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func askStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TurnServiceServer).AskStream(in, stream)
}

// =============================================================================
// TURN SERVER
// =============================================================================

// TurnServer implements TurnServiceServer on top of a TurnRunner.
type TurnServer struct {
	logger Logger
	runner TurnRunner
	bus    commbus.CommBus
}

// NewTurnServer creates the service. bus answers Health queries and may be nil.
func NewTurnServer(runner TurnRunner, bus commbus.CommBus, logger Logger) *TurnServer {
	return &TurnServer{logger: logger, runner: runner, bus: bus}
}

// Ask runs one turn and returns the answer document.
func (s *TurnServer) Ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args, err := parseAskRequest(req)
	if err != nil {
		return nil, err
	}

	result, err := s.runner.Run(ctx, runtime.TurnRequest{Question: args.question, MaxIterations: args.maxIterations})
	if err != nil {
		return nil, turnError(err)
	}

	s.logger.Info("grpc_turn_completed",
		"turn_id", result.TurnID,
		"terminal_reason", string(result.TerminalReason),
	)
	return stateToStruct(result.State)
}

// AskStream runs one turn and sends one document per executed stage as it
// finishes, followed by the answer document with stage "end".
func (s *TurnServer) AskStream(req *structpb.Struct, stream grpc.ServerStream) error {
	args, err := parseAskRequest(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(stream.Context())
	state := s.runner.NewState(runtime.TurnRequest{Question: args.question, MaxIterations: args.maxIterations})
	outputs := s.runner.RunWithStream(ctx, state)
	defer func() {
		cancel()
		for range outputs {
		}
	}()

	for out := range outputs {
		var msg *structpb.Struct
		if out.Stage == envelope.NodeEnd {
			if out.Error != nil {
				return turnError(out.Error)
			}
			msg, err = stateToStruct(out.State)
		} else {
			msg, err = stageToStruct(out)
		}
		if err != nil {
			return Internal("encode stage", err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

// Health reports the service, or one component through the bus.
func (s *TurnServer) Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	component, err := parseHealthRequest(req)
	if err != nil {
		return nil, err
	}

	resp := &commbus.HealthCheckResponse{Component: "turn_service", Status: commbus.HealthStatusHealthy}
	if component != "" {
		if s.bus == nil {
			return nil, Unavailable(component, errors.New("no health bus"))
		}
		result, err := s.bus.QuerySync(ctx, &commbus.HealthCheckRequest{Component: component})
		if err != nil {
			return nil, Unavailable(component, err)
		}
		typed, ok := result.(*commbus.HealthCheckResponse)
		if !ok {
			return nil, Internal("health check", fmt.Errorf("unexpected response %T", result))
		}
		resp = typed
	}
	return toStruct(resp)
}

func turnError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return Internal("turn", err)
}

// =============================================================================
// PAYLOADS
// =============================================================================

type turnPayload struct {
	Stage           string                     `json:"stage"`
	TurnID          string                     `json:"turn_id"`
	Answer          string                     `json:"answer"`
	Sources         []string                   `json:"sources"`
	Intent          envelope.Intent            `json:"intent"`
	TerminalReason  envelope.TerminalReason    `json:"terminal_reason"`
	Iterations      int                        `json:"iterations"`
	ProviderFailure envelope.ProviderFailure   `json:"provider_failure"`
	Trace           []envelope.TraceRecord     `json:"trace"`
	History         []envelope.IterationRecord `json:"iteration_history"`
}

type stagePayload struct {
	Stage       envelope.NodeID `json:"stage"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Iteration   int             `json:"iteration"`
	K           int             `json:"k"`
	Passages    int             `json:"passages"`
	ToolHandled bool            `json:"tool_handled"`
}

func stateToStruct(state *envelope.ConversationState) (*structpb.Struct, error) {
	return toStruct(turnPayload{
		Stage:           string(envelope.NodeEnd),
		TurnID:          state.TurnID,
		Answer:          state.Answer,
		Sources:         state.CitedSources,
		Intent:          state.Intent,
		TerminalReason:  state.TerminalReason,
		Iterations:      state.IterationCount,
		ProviderFailure: state.ProviderFailure,
		Trace:           state.RetrievalTrace,
		History:         state.History,
	})
}

func stageToStruct(out runtime.StageOutput) (*structpb.Struct, error) {
	p := stagePayload{
		Stage:       out.Stage,
		Status:      "success",
		Iteration:   out.State.IterationCount,
		K:           out.State.K,
		Passages:    len(out.State.Passages),
		ToolHandled: out.State.ToolHandled,
	}
	if out.Error != nil {
		p.Status = "error"
		p.Error = out.Error.Error()
	}
	return toStruct(p)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// GRACEFUL SERVER
// =============================================================================

// GracefulServer owns the grpc.Server that hosts TurnService and the
// standard health service.
type GracefulServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     Logger
	address    string

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer registers turnServer. Without opts, ServerOptions with a
// two minute per-call timeout is used.
func NewGracefulServer(turnServer *TurnServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(turnServer.logger, 2*time.Minute)
	}

	grpcServer := grpc.NewServer(opts...)
	grpcServer.RegisterService(&TurnServiceDesc, turnServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GracefulServer{
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     turnServer.logger,
		address:    address,
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting calls and waits for running turns.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout stops gracefully, forcing a hard stop after timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
		<-done
	}
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
