package websocket

import (
	"context"

	"github.com/luciancaetano/wspush"
	"github.com/luciancaetano/wspush/internal/frame"
)

// PushChannel implements wspush.PushConnection on top of a socket's write half.
//
// A PushChannel is not safe for concurrent use. Successive pushes are
// enqueued, and written, in call order.
type PushChannel struct {
	sink wspush.WriteHalf
}

// NewPushChannel takes ownership of sink.
func NewPushChannel(sink wspush.WriteHalf) *PushChannel {
	return &PushChannel{sink: sink}
}

// Push converts payload to a frame and enqueues it without blocking.
// Rejections are returned as *wspush.EnqueueError.
func (c *PushChannel) Push(payload wspush.Payload) error {
	if err := c.sink.StartSend(frame.FromPayload(payload)); err != nil {
		return &wspush.EnqueueError{Kind: payload.Kind(), Err: err}
	}
	return nil
}

// Flush waits until everything pushed so far has been written to the connection.
func (c *PushChannel) Flush(ctx context.Context) error {
	return c.sink.Flush(ctx)
}

// Close closes the underlying write half.
func (c *PushChannel) Close() error {
	return c.sink.Close()
}
