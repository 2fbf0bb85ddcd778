// Package wspush exposes a "push message to a client" abstraction over WebSocket.
//
// The library wires a named path to a per-connection handler factory. Every
// accepted upgrade gets a process-unique ConnectionID and a fresh Handler,
// which receives the upgraded Socket and runs the connection in its own
// goroutine. Handlers split the socket into read and write halves and wrap the
// write half in a push channel to send text or binary messages without knowing
// about framing or flow control.
//
// # Architecture
//
//	upgrade request -> route (path + upgrade match) -> id generator -> factory
//	                -> handshake -> go handler.HandleConnection(ctx, socket, id)
//
// Requests that do not target the route's path, or that are not WebSocket
// upgrades, fall through to the rest of the router untouched.
//
// # Quick Start
//
//	import (
//	    "github.com/gorilla/mux"
//	    "github.com/luciancaetano/wspush"
//	    "github.com/luciancaetano/wspush/ws"
//	)
//
//	factory := wspush.FactoryFunc(func() wspush.Handler {
//	    return &echoHandler{}
//	})
//
//	route, err := ws.New(ws.NewConfig("/push", factory, ws.AllOrigins()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	router := mux.NewRouter()
//	route.Register(router)
//	http.ListenAndServe(":8080", router)
//
// # Push Semantics
//
// Push is a non-blocking enqueue onto the write half's queue (256 frames by
// default). It fails with an *EnqueueError when the sink is closed or the
// queue is full; it never retries and never waits for the peer. Call Flush to
// wait for queued frames to reach the connection.
//
// # Rate Limiting
//
// Each connection's read half has an independent token bucket:
//
//	// Default: 100 messages/second, burst 200
//	cfg.RateLimitConfig = ws.DefaultRateLimitConfig()
//
//	// Disabled
//	cfg.RateLimitConfig = ws.NoRateLimit()
//
// When the limit is exceeded, Receive returns ErrRateLimited and the client
// receives close code 1008 (Policy Violation).
//
// # Important
//
//   - A push channel is not safe for concurrent use; serialize sends through one goroutine
//   - Handlers are single use; the factory is called once per connection
//   - Configure CheckOrigin in production (never use ws.AllOrigins() in production)
package wspush
