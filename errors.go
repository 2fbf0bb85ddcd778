package wspush

import (
	"github.com/pkg/errors"
)

// Standard error messages
const (
	// Sink errors
	ErrMsgSinkClosed    = "sink is closed"
	ErrMsgSinkFull      = "sink queue is full"
	ErrMsgEnqueueFailed = "failed to enqueue frame"

	// Socket errors
	ErrMsgAlreadySplit = "socket already split"
	ErrMsgRateLimited  = "rate limit exceeded"

	// Route errors
	ErrMsgInvalidPath     = "route path must start with '/'"
	ErrMsgMissingFactory  = "route factory is nil"
	ErrMsgUpgradeFailed   = "websocket upgrade failed"
	ErrMsgHandlerPanicked = "connection handler panicked"
	ErrMsgNilHandler      = "factory returned a nil handler"
	ErrMsgShuttingDown    = "server shutting down"
)

var (
	// ErrSinkClosed is returned by WriteHalf.StartSend after the sink has been
	// closed or the connection has failed.
	ErrSinkClosed = errors.New(ErrMsgSinkClosed)

	// ErrSinkFull is returned by WriteHalf.StartSend when the outbound queue
	// is at capacity.
	ErrSinkFull = errors.New(ErrMsgSinkFull)

	// ErrAlreadySplit is returned by Socket.Split on every call after the first.
	ErrAlreadySplit = errors.New(ErrMsgAlreadySplit)

	// ErrRateLimited is returned by ReadHalf.Receive when the peer exceeded
	// its inbound message rate. The socket is closed with ClosePolicyViolation.
	ErrRateLimited = errors.New(ErrMsgRateLimited)
)

// EnqueueError reports that a push was rejected by the transport.
type EnqueueError struct {
	Kind PayloadKind
	Err  error
}

func (e *EnqueueError) Error() string {
	return ErrMsgEnqueueFailed + " (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// IsEnqueueFailure reports whether err, or any error it wraps, is an *EnqueueError.
func IsEnqueueFailure(err error) bool {
	var target *EnqueueError
	return errors.As(err, &target)
}
