package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func peerContext(addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(context.Background(), &peer.Peer{Addr: tcp})
}

func TestPeerLimiter_Allow(t *testing.T) {
	l, err := NewPeerLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2})
	require.NoError(t, err)
	now := time.Now()

	ok, _ := l.Allow("10.0.0.1", now)
	assert.True(t, ok)
	ok, _ = l.Allow("10.0.0.1", now)
	assert.True(t, ok)

	ok, retryAfter := l.Allow("10.0.0.1", now)
	assert.False(t, ok)
	assert.InDelta(t, time.Second, retryAfter, float64(10*time.Millisecond))

	ok, _ = l.Allow("10.0.0.2", now)
	assert.True(t, ok, "limits are per client")

	ok, _ = l.Allow("10.0.0.1", now.Add(time.Second))
	assert.True(t, ok, "a token refills after one second")
}

func TestPeerLimiter_Disabled(t *testing.T) {
	l, err := NewPeerLimiter(RateLimitConfig{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("10.0.0.1", time.Now())
		require.True(t, ok)
	}
}

func TestPeerKey(t *testing.T) {
	assert.Equal(t, "10.0.0.7", peerKey(peerContext("10.0.0.7:5555")))
	assert.Equal(t, "unknown", peerKey(context.Background()))
}

func TestRateLimitInterceptor(t *testing.T) {
	l, err := NewPeerLimiter(RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})
	require.NoError(t, err)
	interceptor := RateLimitInterceptor(l)
	ctx := peerContext("10.0.0.9:1000")

	_, err = interceptor(ctx, "req", askInfo, okHandler)
	require.NoError(t, err)

	_, err = interceptor(ctx, "req", askInfo, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Contains(t, err.Error(), "retry after")

	_, err = interceptor(ctx, "req", &grpc.UnaryServerInfo{FullMethod: MethodHealth}, okHandler)
	assert.NoError(t, err, "health calls are not limited")
}

func TestStreamRateLimitInterceptor(t *testing.T) {
	l, err := NewPeerLimiter(RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})
	require.NoError(t, err)
	interceptor := StreamRateLimitInterceptor(l)
	stream := &mockServerStream{ctx: peerContext("10.0.0.3:1000")}
	handler := func(srv any, ss grpc.ServerStream) error { return nil }

	require.NoError(t, interceptor(nil, stream, streamInfo, handler))
	err = interceptor(nil, stream, streamInfo, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRateLimitOptions(t *testing.T) {
	l, err := NewPeerLimiter(DefaultRateLimitConfig())
	require.NoError(t, err)
	assert.Len(t, RateLimitOptions(l), 2)
}
