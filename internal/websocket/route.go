package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luciancaetano/wspush"
	"github.com/luciancaetano/wspush/internal/connid"
	"github.com/luciancaetano/wspush/internal/metrics"
)

// Route serves WebSocket upgrades on one path and dispatches every accepted
// connection to a fresh handler from the route's factory.
type Route struct {
	path    string
	factory wspush.Factory
	ids     *connid.Generator

	upgrader        websocket.Upgrader
	rateLimitConfig *RateLimitConfig
	socketConfig    *SocketConfig

	logger  *zap.Logger
	metrics *metrics.RouteMetrics

	handlers     sync.WaitGroup
	sockets      sync.Map // map[wspush.ConnectionID]*Socket
	shuttingDown atomic.Bool
}

// NewRoute creates a route from cfg.
//
// The route owns its own id generator, so ids are unique per route. The
// upgrader uses read/write buffer sizes of 1024 bytes.
//
// Example:
//
//	route, err := NewRoute(&RouteConfig{
//	    Path:    "/push",
//	    Factory: factory,
//	    Logger:  logger,
//	})
//	route.Register(router)
func NewRoute(cfg *RouteConfig) (*Route, error) {
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, errors.Errorf("%s: %q", wspush.ErrMsgInvalidPath, cfg.Path)
	}
	if cfg.Factory == nil {
		return nil, errors.New(wspush.ErrMsgMissingFactory)
	}

	rateLimitConfig := cfg.RateLimitConfig
	if rateLimitConfig == nil {
		rateLimitConfig = DefaultRateLimitConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := metrics.NewRouteMetrics(cfg.Registerer, cfg.Path)
	if err != nil {
		return nil, err
	}

	ids := connid.New()

	return &Route{
		path:            cfg.Path,
		factory:         cfg.Factory,
		ids:             ids,
		rateLimitConfig: rateLimitConfig,
		socketConfig:    cfg.Socket.withDefaults(),
		logger:          logger.With(zap.String("path", cfg.Path), zap.Stringer("route_epoch", ids.Epoch())),
		metrics:         m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}, nil
}

// Path returns the path the route serves.
func (rt *Route) Path() string {
	return rt.path
}

// Metrics returns the route's collectors.
func (rt *Route) Metrics() *metrics.RouteMetrics {
	return rt.metrics
}

// Register adds the route to router. Only WebSocket upgrade requests for the
// route's path match; everything else keeps flowing through router.
//
// The path is a mux path template relative to router, so subrouters and
// variables such as "/push/{room}" work.
func (rt *Route) Register(router *mux.Router) *mux.Route {
	return router.Path(rt.path).MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(r)
	}).HandlerFunc(rt.upgrade)
}

// Match reports whether r is a WebSocket upgrade request for the route's path.
// It compares the literal path and is only used when the route is mounted as
// a plain http.Handler.
func (rt *Route) Match(r *http.Request) bool {
	return r.URL.Path == rt.path && websocket.IsWebSocketUpgrade(r)
}

// ServeHTTP upgrades r and starts the connection's handler in a new goroutine.
// It does not wait for the handler.
func (rt *Route) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rt.Match(r) {
		http.NotFound(w, r)
		return
	}
	rt.upgrade(w, r)
}

// upgrade serves a request that already matched the route.
func (rt *Route) upgrade(w http.ResponseWriter, r *http.Request) {
	id := rt.ids.Next()
	handler := rt.factory.NewConnectionContext()

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		rt.metrics.Upgrade(metrics.ResultFailed)
		rt.logger.Warn(wspush.ErrMsgUpgradeFailed,
			zap.Stringer("connection_id", id),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}
	rt.metrics.Upgrade(metrics.ResultAccepted)

	socket := newSocket(conn, r.RemoteAddr, rt.socketConfig, rt.rateLimitConfig)

	rt.handlers.Add(1)
	rt.sockets.Store(id, socket)
	if rt.shuttingDown.Load() {
		socket.CloseWithCode(websocket.CloseGoingAway, wspush.ErrMsgShuttingDown)
	}
	go rt.serve(socket, id, handler)
}

// Wait blocks until every handler started so far has returned.
func (rt *Route) Wait() {
	rt.handlers.Wait()
}

// Shutdown closes every open connection with websocket.CloseGoingAway and
// waits for their handlers to return or for ctx to end. Connections upgraded
// afterwards are closed right away.
//
// http.Server.Shutdown does not track hijacked connections, so call this
// after it.
func (rt *Route) Shutdown(ctx context.Context) error {
	rt.shuttingDown.Store(true)

	rt.sockets.Range(func(_, value any) bool {
		go value.(*Socket).CloseWithCode(websocket.CloseGoingAway, wspush.ErrMsgShuttingDown)
		return true
	})

	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve runs one connection's handler and closes the socket afterwards.
func (rt *Route) serve(socket *Socket, id wspush.ConnectionID, handler wspush.Handler) {
	log := rt.logger.With(
		zap.Stringer("connection_id", id),
		zap.String("connection_uid", rt.ids.Qualify(id)),
		zap.String("remote_addr", socket.RemoteAddr()))

	failed := false
	rt.metrics.ConnectionStarted()
	log.Debug("connection accepted")

	defer func() {
		if p := recover(); p != nil {
			failed = true
			log.Error(wspush.ErrMsgHandlerPanicked, zap.Any("panic", p), zap.Stack("stack"))
		}
		socket.Close()
		rt.sockets.Delete(id)
		rt.metrics.ConnectionFinished(failed)
		rt.handlers.Done()
		log.Debug("connection terminated", zap.Bool("failed", failed))
	}()

	if handler == nil {
		log.Warn(wspush.ErrMsgNilHandler)
		socket.CloseWithCode(websocket.CloseInternalServerErr, wspush.ErrMsgNilHandler)
		return
	}

	if err := handler.HandleConnection(socket.Context(), socket, id); err != nil && !isClosure(err) {
		failed = true
		log.Error("connection handler failed", zap.Error(err))
	}
}

// isClosure reports whether err only signals that the connection ended normally.
func isClosure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, wspush.ErrSinkClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}
