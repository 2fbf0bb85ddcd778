package ws

import (
	"net/http"

	"github.com/luciancaetano/wspush"
	"github.com/luciancaetano/wspush/internal/websocket"
)

type Route = websocket.Route
type RouteConfig = websocket.RouteConfig
type RateLimitConfig = websocket.RateLimitConfig
type SocketConfig = websocket.SocketConfig
type CheckOriginFn = websocket.CheckOriginFn
type PushChannel = websocket.PushChannel

// New creates a push route that upgrades requests on cfg.Path and hands every
// accepted connection to a fresh handler from cfg.Factory.
//
// Register the route on a gorilla/mux router, or mount it as an http.Handler:
//
//	route, err := ws.New(ws.NewConfig("/push", factory, ws.AllOrigins()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	router := mux.NewRouter()
//	route.Register(router)
func New(cfg *RouteConfig) (*Route, error) {
	return websocket.NewRoute(cfg)
}

// NewConfig returns a route configuration with default rate limiting and
// socket settings, no logger and no metrics registry.
func NewConfig(path string, factory wspush.Factory, checkOrigin CheckOriginFn) *RouteConfig {
	return &RouteConfig{
		Path:            path,
		Factory:         factory,
		CheckOrigin:     checkOrigin,
		RateLimitConfig: DefaultRateLimitConfig(),
		Socket:          DefaultSocketConfig(),
	}
}

// NewPushChannel wraps the write half of a split socket.
//
// Example:
//
//	reader, writer, err := socket.Split()
//	push := ws.NewPushChannel(writer)
//	push.Push(wspush.Text("welcome"))
func NewPushChannel(sink wspush.WriteHalf) *PushChannel {
	return websocket.NewPushChannel(sink)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// DefaultSocketConfig returns the default socket configuration
func DefaultSocketConfig() *SocketConfig {
	return websocket.DefaultSocketConfig()
}
