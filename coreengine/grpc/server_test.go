package grpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/groundedrag/commbus"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/runtime"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/testutil"
)

const question = "¿Cual es el PAPA minimo para la doble titulacion?"

func groundedModel() *testutil.MockLLMProvider {
	return testutil.NewMockLLMProvider().
		WithResponse(testutil.PromptIntent, `{"intent": "lookup"}`).
		WithResponse(testutil.PromptKSelector, `{"k_value": 4}`).
		WithResponse(testutil.PromptAnswer, `{
			"answer": "Se exige un PAPA minimo de 3.5.",
			"insufficient_evidence": false,
			"claims": [{"claim": "PAPA minimo de 3.5", "support_doc_ids": [1]}]
		}`).
		WithResponse(testutil.PromptGrounding, `{"is_grounded": true, "citation_compliance": true, "reason": "ok"}`)
}

type testService struct {
	client *Client
	conn   *grpc.ClientConn
	bus    *commbus.InMemoryCommBus
	stop   func()
}

// startService serves a real orchestrator over an in-memory listener.
func startService(t *testing.T, mock *testutil.MockLLMProvider) *testService {
	t.Helper()
	logger := testutil.NewMockLogger()
	bus := commbus.NewInMemoryCommBus(time.Second, nil)

	store := testutil.NewStaticVectorStore(
		testutil.NewPassage("acuerdo008.txt", "La doble titulacion exige un PAPA minimo de 3.5."),
		testutil.NewPassage("calendario.txt", "Las solicitudes se radican antes de la semana 4."),
	)
	stages, err := runtime.NewStages(runtime.Dependencies{
		Models:    runtime.SingleModel(mock),
		Prompts:   prompts.MustNewRegistry(),
		Retriever: retrieval.NewRetriever(store, logger),
		Profiles:  testutil.NewMemoryProfileStore(envelope.DefaultProfile()),
		Logger:    logger,
	})
	require.NoError(t, err)
	orch, err := runtime.NewOrchestrator("grpc-test", stages, bus, logger)
	require.NoError(t, err)

	server := NewGracefulServer(NewTurnServer(orch, bus, logger), "bufnet")
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, lis) }()

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	svc := &testService{client: client, conn: client.conn, bus: bus}
	svc.stop = func() {
		_ = client.Close()
		cancel()
		<-served
	}
	return svc
}

func stringsOf(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

func intPtr(n int) *int { return &n }

// =============================================================================
// ASK
// =============================================================================

func TestAsk_Grounded(t *testing.T) {
	svc := startService(t, groundedModel())
	defer svc.stop()

	resp, err := svc.client.Ask(context.Background(), question, intPtr(1))
	require.NoError(t, err)

	fields := resp.GetFields()
	assert.Equal(t, "end", fields["stage"].GetStringValue())
	assert.Equal(t, "completed", fields["terminal_reason"].GetStringValue())
	assert.Equal(t, "lookup", fields["intent"].GetStringValue())
	assert.Contains(t, fields["answer"].GetStringValue(), "Se exige un PAPA minimo de 3.5.")
	assert.Equal(t, []string{"acuerdo008.txt"}, stringsOf(fields["sources"]))
	assert.NotEmpty(t, fields["turn_id"].GetStringValue())
	assert.Len(t, fields["iteration_history"].GetListValue().GetValues(), 1)
}

func TestAsk_ToolShortCircuit(t *testing.T) {
	mock := testutil.NewMockLLMProvider()
	svc := startService(t, mock)
	defer svc.stop()

	resp, err := svc.client.Ask(context.Background(), "Quiero calcular promedio entre 3.5, 4.0 y 4.5", nil)
	require.NoError(t, err)

	assert.Equal(t, "tool_handled", resp.GetFields()["terminal_reason"].GetStringValue())
	assert.Equal(t, "El promedio es 4.00.", resp.GetFields()["answer"].GetStringValue())
	assert.Zero(t, mock.GetCallCount())
}

func TestAsk_InvalidRequests(t *testing.T) {
	svc := startService(t, groundedModel())
	defer svc.stop()

	tests := []struct {
		name string
		req  *structpb.Struct
		code codes.Code
	}{
		{
			name: "question not a string",
			req:  &structpb.Struct{Fields: map[string]*structpb.Value{"question": structpb.NewNumberValue(3)}},
			code: codes.InvalidArgument,
		},
		{
			name: "question too long",
			req:  askRequest(strings.Repeat("á", MaxQuestionRunes+1), nil),
			code: codes.ResourceExhausted,
		},
		{
			name: "fractional iterations",
			req: &structpb.Struct{Fields: map[string]*structpb.Value{
				"question":       structpb.NewStringValue(question),
				"max_iterations": structpb.NewNumberValue(1.5),
			}},
			code: codes.InvalidArgument,
		},
		{
			name: "iterations as text",
			req: &structpb.Struct{Fields: map[string]*structpb.Value{
				"max_iterations": structpb.NewStringValue("2"),
			}},
			code: codes.InvalidArgument,
		},
		{
			name: "negative iterations",
			req:  askRequest(question, intPtr(-1)),
			code: codes.OutOfRange,
		},
		{
			name: "too many iterations",
			req:  askRequest(question, intPtr(MaxIterationsLimit+1)),
			code: codes.OutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := new(structpb.Struct)
			err := svc.conn.Invoke(context.Background(), MethodAsk, tt.req, out)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestAsk_MaxQuestionLengthAccepted(t *testing.T) {
	args, err := parseAskRequest(askRequest(strings.Repeat("á", MaxQuestionRunes), intPtr(0)))
	require.NoError(t, err)
	assert.Equal(t, 0, *args.maxIterations)

	_, err = parseAskRequest(nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAsk_ClientDeadline(t *testing.T) {
	svc := startService(t, groundedModel().WithDelay(2*time.Second))
	defer svc.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := svc.client.Ask(ctx, question, nil)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

// =============================================================================
// ASK STREAM
// =============================================================================

func TestAskStream(t *testing.T) {
	svc := startService(t, groundedModel())
	defer svc.stop()

	var stages []string
	var last *structpb.Struct
	err := svc.client.AskStream(context.Background(), question, intPtr(1), func(msg *structpb.Struct) error {
		stages = append(stages, msg.GetFields()["stage"].GetStringValue())
		last = msg
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"profile_load", "profile_update", "tools_pre", "intent_classify",
		"adaptive_size", "retrieve", "tools_post", "generate", "evaluate", "end",
	}, stages)
	require.NotNil(t, last)
	assert.Equal(t, "completed", last.GetFields()["terminal_reason"].GetStringValue())
	assert.Equal(t, []string{"acuerdo008.txt"}, stringsOf(last.GetFields()["sources"]))
}

func TestAskStream_SendsStagesAsTheyFinish(t *testing.T) {
	svc := startService(t, groundedModel().WithDelay(300*time.Millisecond))
	defer svc.stop()

	start := time.Now()
	var firstAt, endAt time.Duration
	err := svc.client.AskStream(context.Background(), question, intPtr(1), func(msg *structpb.Struct) error {
		if firstAt == 0 {
			firstAt = time.Since(start)
		}
		if msg.GetFields()["stage"].GetStringValue() == "end" {
			endAt = time.Since(start)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Less(t, firstAt, endAt-500*time.Millisecond, "profile_load arrives before the model calls finish")
}

func TestAskStream_CallbackErrorStops(t *testing.T) {
	svc := startService(t, groundedModel())
	defer svc.stop()

	stop := errors.New("enough")
	calls := 0
	err := svc.client.AskStream(context.Background(), question, intPtr(1), func(msg *structpb.Struct) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestStageToStruct(t *testing.T) {
	state := envelope.NewConversationState(question, 2)
	state.K = 6
	state.IterationCount = 1

	msg, err := stageToStruct(runtime.StageOutput{Stage: envelope.NodeGenerate, State: state, Error: errors.New("modelo caido")})
	require.NoError(t, err)

	fields := msg.GetFields()
	assert.Equal(t, "generate", fields["stage"].GetStringValue())
	assert.Equal(t, "error", fields["status"].GetStringValue())
	assert.Equal(t, "modelo caido", fields["error"].GetStringValue())
	assert.Equal(t, float64(6), fields["k"].GetNumberValue())
	assert.Equal(t, float64(1), fields["iteration"].GetNumberValue())
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	svc := startService(t, groundedModel())
	defer svc.stop()

	require.NoError(t, svc.bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		req := msg.(*commbus.HealthCheckRequest)
		if req.Component != "vector_store" {
			return nil, errors.New("unknown component")
		}
		return &commbus.HealthCheckResponse{
			Component: req.Component,
			Status:    commbus.HealthStatusHealthy,
			Details:   map[string]string{"backend": "static"},
		}, nil
	}))

	t.Run("service", func(t *testing.T) {
		resp, err := svc.client.Health(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "turn_service", resp.GetFields()["component"].GetStringValue())
		assert.Equal(t, "healthy", resp.GetFields()["status"].GetStringValue())
	})

	t.Run("component", func(t *testing.T) {
		resp, err := svc.client.Health(context.Background(), "vector_store")
		require.NoError(t, err)
		assert.Equal(t, "vector_store", resp.GetFields()["component"].GetStringValue())
		assert.Equal(t, "static", resp.GetFields()["details"].GetStructValue().GetFields()["backend"].GetStringValue())
	})

	t.Run("unknown component", func(t *testing.T) {
		_, err := svc.client.Health(context.Background(), "cache")
		assert.Equal(t, codes.Unavailable, status.Code(err))
	})

	t.Run("name too long", func(t *testing.T) {
		_, err := svc.client.Health(context.Background(), strings.Repeat("x", maxComponentNameLen+1))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("standard health service", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(svc.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	})
}

func TestHealth_NoBus(t *testing.T) {
	server := NewTurnServer(nil, nil, testutil.NewMockLogger())
	_, err := server.Health(context.Background(), &structpb.Struct{Fields: map[string]*structpb.Value{
		"component": structpb.NewStringValue("profile"),
	}})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestGracefulServer_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	svc := startService(t, groundedModel())
	_, err := svc.client.Ask(context.Background(), question, intPtr(0))
	require.NoError(t, err)
	svc.stop()
}

func TestGracefulServer_StopIsIdempotent(t *testing.T) {
	logger := testutil.NewMockLogger()
	server := NewGracefulServer(NewTurnServer(nil, nil, logger), "127.0.0.1:0")
	assert.Equal(t, "127.0.0.1:0", server.Address())

	server.GracefulStop()
	server.GracefulStop()
	server.ShutdownWithTimeout(time.Second)
	assert.True(t, logger.HasLog("info", "grpc_graceful_stop_completed"))
}

func TestTurnError(t *testing.T) {
	assert.Equal(t, codes.Canceled, status.Code(turnError(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(turnError(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(turnError(errors.New("graph invalid"))))
}
