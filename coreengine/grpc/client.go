package grpc

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote TurnService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target. Without opts the connection is plaintext and
// traced with OpenTelemetry.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ask runs one remote turn. A nil maxIterations uses the server default.
func (c *Client) Ask(ctx context.Context, question string, maxIterations *int) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodAsk, askRequest(question, maxIterations), out); err != nil {
		return nil, err
	}
	return out, nil
}

// AskStream runs one remote turn and calls fn for every stage document and
// for the final answer document.
func (c *Client) AskStream(ctx context.Context, question string, maxIterations *int, fn func(*structpb.Struct) error) error {
	stream, err := c.conn.NewStream(ctx, &TurnServiceDesc.Streams[0], MethodAskStream)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(askRequest(question, maxIterations)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// Health queries the service, or one component when component is not empty.
func (c *Client) Health(ctx context.Context, component string) (*structpb.Struct, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if component != "" {
		in.Fields["component"] = structpb.NewStringValue(component)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodHealth, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func askRequest(question string, maxIterations *int) *structpb.Struct {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"question": structpb.NewStringValue(question),
	}}
	if maxIterations != nil {
		req.Fields["max_iterations"] = structpb.NewNumberValue(float64(*maxIterations))
	}
	return req
}
