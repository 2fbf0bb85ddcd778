package wspush

import (
	"context"
	"strconv"
)

// ConnectionID identifies an accepted connection for the lifetime of the process.
//
// IDs are minted once per accepted upgrade request by the route's generator and
// are never reused. Zero is never issued and can be used as "no connection".
type ConnectionID uint64

// String returns the decimal form of the id.
func (id ConnectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// PayloadKind tags the variant held by a Payload.
type PayloadKind uint8

const (
	// KindText marks a payload carrying UTF-8 text.
	KindText PayloadKind = iota + 1
	// KindBinary marks a payload carrying raw bytes.
	KindBinary
)

func (k PayloadKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Payload is an application message: either text or binary.
//
// Construct one with Text or Binary. A Payload must not be modified after it
// has been handed to a PushConnection.
type Payload struct {
	kind PayloadKind
	text string
	data []byte
}

// Text returns a text payload. The string must be valid UTF-8 for the peer to
// accept the resulting frame.
func Text(s string) Payload {
	return Payload{kind: KindText, text: s}
}

// Binary returns a binary payload. The slice is not copied.
func Binary(b []byte) Payload {
	return Payload{kind: KindBinary, data: b}
}

// Kind reports which variant the payload holds.
func (p Payload) Kind() PayloadKind {
	return p.kind
}

// Text returns the text of a text payload, or "" for a binary payload.
func (p Payload) Text() string {
	return p.text
}

// Bytes returns the bytes of a binary payload, or the UTF-8 bytes of a text payload.
func (p Payload) Bytes() []byte {
	if p.kind == KindText {
		return []byte(p.text)
	}
	return p.data
}

// Frame is one unit of data handed to the transport.
//
// MessageType uses the gorilla/websocket message type constants
// (websocket.TextMessage, websocket.BinaryMessage).
type Frame struct {
	MessageType int
	Data        []byte
}

// PushConnection sends messages to exactly one connected client.
//
// Push is a non-blocking enqueue: a nil error means the frame was accepted
// into the transport's buffer, not that it reached the peer. Failures are
// returned as *EnqueueError and are never retried.
//
// Implementations are not safe for concurrent use.
type PushConnection interface {
	Push(payload Payload) error
}

// Socket is an upgraded WebSocket connection handed to a Handler.
//
// Example usage:
//
//	func (h *chatHandler) HandleConnection(ctx context.Context, socket wspush.Socket, id wspush.ConnectionID) error {
//	    reader, writer, err := socket.Split()
//	    if err != nil {
//	        return err
//	    }
//	    push := ws.NewPushChannel(writer)
//	    for {
//	        msg, err := reader.Receive(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        if err := push.Push(msg); err != nil {
//	            return err
//	        }
//	    }
//	}
type Socket interface {
	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the socket's lifecycle context.
	//
	// It is cancelled when the socket closes, from either side.
	Context() context.Context

	// Split separates the socket into its read and write halves.
	//
	// Split succeeds at most once per socket. Later calls return
	// ErrAlreadySplit, so the write half is owned by a single caller.
	Split() (ReadHalf, WriteHalf, error)

	// Close closes the connection with websocket.CloseNormalClosure.
	Close() error

	// CloseWithCode sends a close frame with the given code and reason, then
	// closes the connection. Frames still queued on the write half are written
	// first, bounded by the write timeout; whatever is left after that is
	// dropped. Closing an already closed socket is a no-op.
	CloseWithCode(code int, reason string) error
}

// ReadHalf is the inbound side of a split Socket.
type ReadHalf interface {
	// Receive blocks until the next text or binary message arrives, the
	// context is done, or the connection fails.
	Receive(ctx context.Context) (Payload, error)
}

// WriteHalf is the outbound side of a split Socket (the sink).
type WriteHalf interface {
	// StartSend enqueues a frame without blocking. It fails with
	// ErrSinkClosed once the sink is closed and with ErrSinkFull when the
	// queue is at capacity.
	StartSend(frame Frame) error

	// Flush blocks until every frame enqueued before the call has been
	// written to the connection, or the context is done.
	Flush(ctx context.Context) error

	// Close stops accepting frames. Frames already queued are still written
	// unless the transport fails or the socket is torn down first.
	Close() error
}

// Handler services exactly one connection.
//
// HandleConnection is called once, in its own goroutine, after the upgrade
// handshake completes. ctx is the socket's lifecycle context. The socket is
// closed by the caller once HandleConnection returns; a returned error is
// logged and counted but never affects other connections.
type Handler interface {
	HandleConnection(ctx context.Context, socket Socket, id ConnectionID) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, socket Socket, id ConnectionID) error

// HandleConnection calls f(ctx, socket, id).
func (f HandlerFunc) HandleConnection(ctx context.Context, socket Socket, id ConnectionID) error {
	return f(ctx, socket, id)
}

// Factory builds a fresh Handler for every accepted connection.
//
// The same Factory value serves every connection on a route, so it must be
// safe for concurrent use. A Factory cannot reject a connection; returning nil
// makes the route close the socket immediately.
type Factory interface {
	NewConnectionContext() Handler
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() Handler

// NewConnectionContext calls f().
func (f FactoryFunc) NewConnectionContext() Handler {
	return f()
}
