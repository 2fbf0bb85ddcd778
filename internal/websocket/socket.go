package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wspush"
	"github.com/luciancaetano/wspush/internal/frame"
)

// frameConn is the subset of *websocket.Conn a Socket drives.
type frameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Socket implements wspush.Socket over a gorilla connection.
type Socket struct {
	conn        frameConn
	remoteAddr  string
	cfg         *SocketConfig
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	split  bool
	closed bool
	writer *writeHalf
}

// NewSocket wraps an upgraded connection. Reading and writing start once the
// socket is split.
func NewSocket(conn *websocket.Conn, remoteAddr string, cfg *SocketConfig, rateLimitConfig *RateLimitConfig) *Socket {
	return newSocket(conn, remoteAddr, cfg, rateLimitConfig)
}

func newSocket(conn frameConn, remoteAddr string, cfg *SocketConfig, rateLimitConfig *RateLimitConfig) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()

	s := &Socket{
		conn:        conn,
		remoteAddr:  remoteAddr,
		cfg:         cfg,
		rateLimiter: rateLimitConfig.limiter(),
		ctx:         ctx,
		cancel:      cancel,
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	return s
}

// RemoteAddr returns the client's remote network address
func (s *Socket) RemoteAddr() string {
	return s.remoteAddr
}

// Context returns the socket's lifecycle context
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Split returns the read and write halves. It succeeds once.
func (s *Socket) Split() (wspush.ReadHalf, wspush.WriteHalf, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.split {
		return nil, nil, wspush.ErrAlreadySplit
	}
	if s.closed {
		return nil, nil, errors.Wrap(wspush.ErrSinkClosed, "split")
	}
	s.split = true

	s.writer = newWriteHalf(s.ctx, s.conn, s.cfg, func() { s.Close() })
	go s.writer.pump()

	return &readHalf{socket: s}, s.writer, nil
}

// Close closes the socket with a normal closure. Frames already queued on the
// write half are written first, for at most SocketConfig.WriteTimeout.
func (s *Socket) Close() error {
	return s.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (s *Socket) CloseWithCode(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.writer != nil {
		s.writer.Close()
		s.writer.drain(s.cfg.WriteTimeout)
	}
	s.cancel()

	// Send close message
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage, message, deadline)

	return s.conn.Close()
}

// IsAlive returns true if the connection is still active
func (s *Socket) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// checkRateLimit reports whether another inbound message is allowed.
func (s *Socket) checkRateLimit() bool {
	if s.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return s.rateLimiter.Allow()
}

type readHalf struct {
	socket *Socket
}

// Receive reads the next data message. Cancelling ctx interrupts a pending
// read, after which the connection can no longer be read from.
func (r *readHalf) Receive(ctx context.Context) (wspush.Payload, error) {
	s := r.socket
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return wspush.Payload{}, ctxErr
			}
			s.Close()
			return wspush.Payload{}, errors.Wrap(err, "receive")
		}

		// Reset read deadline after successful read
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if !s.checkRateLimit() {
			s.CloseWithCode(websocket.ClosePolicyViolation, wspush.ErrMsgRateLimited)
			return wspush.Payload{}, wspush.ErrRateLimited
		}

		payload, err := frame.ToPayload(messageType, data)
		if err != nil {
			continue
		}
		return payload, nil
	}
}

type writeRequest struct {
	frame   wspush.Frame
	flushed chan struct{}
}

// writeHalf owns the outbound queue of a socket. A single pump goroutine
// drains the queue, so frames reach the connection in enqueue order.
type writeHalf struct {
	ctx       context.Context
	conn      frameConn
	cfg       *SocketConfig
	onFailure func()

	queue chan writeRequest
	done  chan struct{}
	err   error // set before done is closed

	mu     sync.RWMutex
	closed bool
}

func newWriteHalf(ctx context.Context, conn frameConn, cfg *SocketConfig, onFailure func()) *writeHalf {
	return &writeHalf{
		ctx:       ctx,
		conn:      conn,
		cfg:       cfg,
		onFailure: onFailure,
		queue:     make(chan writeRequest, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// StartSend enqueues f without blocking.
func (w *writeHalf) StartSend(f wspush.Frame) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	select {
	case <-w.done:
		return w.failure()
	default:
	}

	if w.closed {
		return wspush.ErrSinkClosed
	}

	select {
	case w.queue <- writeRequest{frame: f}:
		return nil
	default:
		return wspush.ErrSinkFull
	}
}

// Flush waits until every frame queued before the call has been written.
func (w *writeHalf) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		select {
		case <-w.done:
			if w.err != nil {
				return w.failure()
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case w.queue <- writeRequest{flushed: flushed}:
		w.mu.RUnlock()
	case <-w.done:
		w.mu.RUnlock()
		return w.failure()
	case <-w.ctx.Done():
		w.mu.RUnlock()
		return wspush.ErrSinkClosed
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-w.done:
		return w.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames; queued frames are still written.
func (w *writeHalf) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.queue)
	return nil
}

// drain waits up to timeout for the pump to write what is left in the queue.
// The queue must already be closed.
func (w *writeHalf) drain(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
	}
}

// failure returns the error that stopped the pump. Callers must have observed done.
func (w *writeHalf) failure() error {
	if w.err != nil {
		return &sinkError{cause: w.err}
	}
	return wspush.ErrSinkClosed
}

// sinkError is returned once the pump stopped on a transport error. It
// matches wspush.ErrSinkClosed and unwraps to the transport error.
type sinkError struct {
	cause error
}

func (e *sinkError) Error() string {
	return wspush.ErrMsgSinkClosed + ": " + e.cause.Error()
}

func (e *sinkError) Unwrap() []error {
	return []error{wspush.ErrSinkClosed, e.cause}
}

// pump pumps frames from the queue to the websocket connection
func (w *writeHalf) pump() {
	ticker := time.NewTicker(w.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		close(w.done)
		if w.err != nil {
			w.onFailure()
		}
	}()

	for {
		select {
		case req, ok := <-w.queue:
			if !ok {
				// Queue closed and drained
				return
			}
			if req.flushed != nil {
				close(req.flushed)
				continue
			}

			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := w.conn.WriteMessage(req.frame.MessageType, req.frame.Data); err != nil {
				w.err = err
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.err = err
				return
			}

		case <-w.ctx.Done():
			return
		}
	}
}
