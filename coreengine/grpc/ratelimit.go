package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RateLimitConfig bounds how many turns one client may start.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// MaxPeers caps how many clients are tracked; the least recently
	// seen client is forgotten first.
	MaxPeers int
}

// DefaultRateLimitConfig allows one turn per second on average.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 60, BurstSize: 10, MaxPeers: 4096}
}

// PeerLimiter keeps a token bucket per client host.
type PeerLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	peers *lru.Cache[string, *rate.Limiter]
}

// NewPeerLimiter creates a limiter. RequestsPerMinute <= 0 allows everything.
func NewPeerLimiter(cfg RateLimitConfig) (*PeerLimiter, error) {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultRateLimitConfig().MaxPeers
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	peers, err := lru.New[string, *rate.Limiter](cfg.MaxPeers)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &PeerLimiter{limit: limit, burst: cfg.BurstSize, peers: peers}, nil
}

// Allow consumes one token for key. When none is available it returns
// false and how long the client should wait.
func (l *PeerLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l.limit == rate.Inf {
		return true, 0
	}

	l.mu.Lock()
	limiter, ok := l.peers.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.peers.Add(key, limiter)
	}
	l.mu.Unlock()

	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// peerKey identifies the calling host, ignoring the source port.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (l *PeerLimiter) check(ctx context.Context, method string) error {
	if method != MethodAsk && method != MethodAskStream {
		return nil
	}
	if ok, retryAfter := l.Allow(peerKey(ctx), time.Now()); !ok {
		return status.Errorf(codes.ResourceExhausted, "turn rate limit exceeded, retry after %s", retryAfter.Round(time.Millisecond))
	}
	return nil
}

// RateLimitInterceptor rejects Ask calls over the per-client limit with
// codes.ResourceExhausted. Health calls are never limited.
func RateLimitInterceptor(l *PeerLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := l.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamRateLimitInterceptor is RateLimitInterceptor for AskStream.
func StreamRateLimitInterceptor(l *PeerLimiter) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := l.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// RateLimitOptions appends the limiter after the ServerOptions chain.
func RateLimitOptions(l *PeerLimiter) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RateLimitInterceptor(l)),
		grpc.ChainStreamInterceptor(StreamRateLimitInterceptor(l)),
	}
}
