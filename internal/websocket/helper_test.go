package websocket

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wspush"
)

// fakeConn is an in-memory frameConn.
type fakeConn struct {
	mu       sync.Mutex
	written  []wspush.Frame
	controls []wspush.Frame
	writeErr error

	// block, when non-nil, holds every WriteMessage until it is closed.
	block   chan struct{}
	writing chan struct{}

	reads     chan wspush.Frame
	interrupt chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writing:   make(chan struct{}, 64),
		reads:     make(chan wspush.Frame, 64),
		interrupt: make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.reads:
		return fr.MessageType, fr.Data, nil
	case <-f.interrupt:
		return 0, nil, &net.OpError{Op: "read", Err: errTimeout{}}
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case f.writing <- struct{}{}:
	default:
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, wspush.Frame{MessageType: messageType, Data: data})
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, wspush.Frame{MessageType: messageType, Data: data})
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		select {
		case f.interrupt <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeConn) frames() []wspush.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wspush.Frame(nil), f.written...)
}

func (f *fakeConn) controlFrames() []wspush.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wspush.Frame(nil), f.controls...)
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

// newTestDialer creates a WebSocket dialer for httptest servers
func newTestDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}
