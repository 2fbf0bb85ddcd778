package websocket

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wspush"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// A nil CheckOriginFn falls back to gorilla's same-origin check.
type CheckOriginFn = func(r *http.Request) bool

// RateLimitConfig defines rate limiting for messages a client sends
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// SocketConfig controls the buffering and keepalive of an accepted socket.
type SocketConfig struct {
	// QueueSize is the number of frames a write half buffers before
	// StartSend fails with ErrSinkFull.
	QueueSize int
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// PongTimeout is how long the read side waits for any message or pong.
	PongTimeout time.Duration
	// PingPeriod is the keepalive interval; it must be shorter than PongTimeout.
	PingPeriod time.Duration
	// MaxMessageSize limits inbound messages, in bytes.
	MaxMessageSize int64
}

// DefaultSocketConfig returns a 256-frame queue, 10s write timeout, 60s pong
// timeout, 54s pings and a 10MB inbound message limit.
func DefaultSocketConfig() *SocketConfig {
	return &SocketConfig{
		QueueSize:      256,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 10 * 1024 * 1024,
	}
}

// withDefaults returns a copy of c with zero fields set to their defaults.
func (c *SocketConfig) withDefaults() *SocketConfig {
	def := DefaultSocketConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.QueueSize <= 0 {
		out.QueueSize = def.QueueSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.PongTimeout <= 0 {
		out.PongTimeout = def.PongTimeout
	}
	if out.PingPeriod <= 0 || out.PingPeriod >= out.PongTimeout {
		out.PingPeriod = out.PongTimeout * 9 / 10
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = def.MaxMessageSize
	}
	return &out
}

// RouteConfig describes a push route.
type RouteConfig struct {
	// Path is the exact request path the route serves, e.g. "/push".
	Path string
	// Factory builds one handler per accepted connection.
	Factory wspush.Factory
	// CheckOrigin validates the Origin header of upgrade requests.
	CheckOrigin CheckOriginFn
	// RateLimitConfig limits inbound messages per connection.
	// If nil, DefaultRateLimitConfig() is used.
	RateLimitConfig *RateLimitConfig
	// Socket tunes accepted sockets. If nil, DefaultSocketConfig() is used.
	Socket *SocketConfig
	// Logger receives route events. If nil, logging is disabled.
	Logger *zap.Logger
	// Registerer receives the route's collectors. If nil, metrics are kept
	// but not registered.
	Registerer prometheus.Registerer
}
