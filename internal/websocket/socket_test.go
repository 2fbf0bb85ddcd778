package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wspush"
)

func newTestSocket(t *testing.T, cfg *SocketConfig, rl *RateLimitConfig) (*Socket, *fakeConn) {
	t.Helper()

	conn := newFakeConn()
	s := newSocket(conn, "192.0.2.1:4242", cfg, rl)
	t.Cleanup(func() { s.Close() })
	return s, conn
}

// TestSplitOnce tests that the write half can only be obtained once
func TestSplitOnce(t *testing.T) {
	t.Parallel()

	s, _ := newTestSocket(t, nil, NoRateLimit())

	reader, writer, err := s.Split()
	if err != nil {
		t.Fatalf("first Split() error = %v", err)
	}
	if reader == nil || writer == nil {
		t.Fatal("first Split() returned nil halves")
	}

	_, writer2, err := s.Split()
	if !errors.Is(err, wspush.ErrAlreadySplit) {
		t.Errorf("second Split() error = %v, want ErrAlreadySplit", err)
	}
	if writer2 != nil {
		t.Error("second Split() returned a write half")
	}
}

// TestSplitAfterClose tests that a closed socket cannot be split
func TestSplitAfterClose(t *testing.T) {
	t.Parallel()

	s, _ := newTestSocket(t, nil, NoRateLimit())
	s.Close()

	if _, _, err := s.Split(); !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("Split() error = %v, want ErrSinkClosed", err)
	}
}

// TestSocketAccessors tests remote address, context and liveness
func TestSocketAccessors(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())

	if s.RemoteAddr() != "192.0.2.1:4242" {
		t.Errorf("RemoteAddr() = %v, want 192.0.2.1:4242", s.RemoteAddr())
	}
	if !s.IsAlive() {
		t.Error("new socket should be alive")
	}

	if err := s.CloseWithCode(websocket.CloseGoingAway, "bye"); err != nil {
		t.Fatalf("CloseWithCode() error = %v", err)
	}

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Error("context was not cancelled on close")
	}
	if s.IsAlive() {
		t.Error("closed socket should not be alive")
	}

	controls := conn.controlFrames()
	if len(controls) != 1 || controls[0].MessageType != websocket.CloseMessage {
		t.Fatalf("control frames = %v, want one close frame", controls)
	}
	if code := binary.BigEndian.Uint16(controls[0].Data[:2]); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}

	// Closing again is a no-op
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if len(conn.controlFrames()) != 1 {
		t.Error("second Close() sent another close frame")
	}
}

// TestStartSendOrder tests that frames are written in enqueue order
func TestStartSendOrder(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	const count = 100
	for i := 0; i < count; i++ {
		if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte(strconv.Itoa(i))}); err != nil {
			t.Fatalf("StartSend(%d) error = %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	frames := conn.frames()
	if len(frames) != count {
		t.Fatalf("written frames = %d, want %d", len(frames), count)
	}
	for i, f := range frames {
		if string(f.Data) != strconv.Itoa(i) {
			t.Errorf("frame %d = %q, want %q", i, f.Data, strconv.Itoa(i))
		}
	}
}

// TestStartSendQueueFull tests that a full queue rejects frames instead of blocking
func TestStartSendQueueFull(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, &SocketConfig{QueueSize: 2}, NoRateLimit())
	conn.block = make(chan struct{})
	defer close(conn.block)

	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	frame := wspush.Frame{MessageType: websocket.BinaryMessage, Data: []byte{0x01}}

	// The pump takes the first frame and blocks writing it.
	if err := writer.StartSend(frame); err != nil {
		t.Fatalf("StartSend() error = %v", err)
	}
	select {
	case <-conn.writing:
	case <-time.After(time.Second):
		t.Fatal("pump never started writing")
	}

	for i := 0; i < 2; i++ {
		if err := writer.StartSend(frame); err != nil {
			t.Fatalf("StartSend() into free slot %d error = %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- writer.StartSend(frame) }()

	select {
	case err := <-done:
		if !errors.Is(err, wspush.ErrSinkFull) {
			t.Errorf("StartSend() on full queue error = %v, want ErrSinkFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StartSend() blocked on a full queue")
	}
}

// TestStartSendAfterWriteHalfClose tests the sink refuses frames once closed
func TestStartSendAfterWriteHalfClose(t *testing.T) {
	t.Parallel()

	s, _ := newTestSocket(t, nil, NoRateLimit())
	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage}); !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("StartSend() error = %v, want ErrSinkClosed", err)
	}

	// The socket itself is still open for reading
	if !s.IsAlive() {
		t.Error("closing the write half should not close the socket")
	}
}

// TestCloseDrainsQueue tests that frames queued before Close are still written
func TestCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("x")})
	}
	writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("Flush() after Close error = %v", err)
	}

	if n := len(conn.frames()); n != 3 {
		t.Errorf("written frames = %d, want 3", n)
	}
}

// TestWriteFailureClosesSocket tests that a transport write error tears the socket down
func TestWriteFailureClosesSocket(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	conn.setWriteErr(errors.New("broken pipe"))

	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("x")}); err != nil {
		t.Fatalf("StartSend() error = %v", err)
	}

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not closed after write failure")
	}

	err = writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("y")})
	if !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("StartSend() after failure error = %v, want ErrSinkClosed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writer.Flush(ctx); !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("Flush() after failure error = %v, want ErrSinkClosed", err)
	}
}

// TestReceive tests that inbound data messages become payloads
func TestReceive(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	reader, _, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	conn.reads <- wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("hello")}
	conn.reads <- wspush.Frame{MessageType: websocket.BinaryMessage, Data: []byte{0x00, 0xFF}}

	ctx := context.Background()

	p, err := reader.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if p.Kind() != wspush.KindText || p.Text() != "hello" {
		t.Errorf("Receive() = %v %q, want text %q", p.Kind(), p.Text(), "hello")
	}

	p, err = reader.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if p.Kind() != wspush.KindBinary || len(p.Bytes()) != 2 {
		t.Errorf("Receive() = %v %v, want binary [0 255]", p.Kind(), p.Bytes())
	}
}

// TestReceiveCancelled tests that a cancelled context interrupts a pending read
func TestReceiveCancelled(t *testing.T) {
	t.Parallel()

	s, _ := newTestSocket(t, nil, NoRateLimit())
	reader, _, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := reader.Receive(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Receive() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() did not return after cancellation")
	}
}

// TestReceiveRateLimited tests that a flooding peer is disconnected with 1008
func TestReceiveRateLimited(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, &RateLimitConfig{MessagesPerSecond: 0, Burst: 1, Enabled: true})
	reader, _, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	conn.reads <- wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("one")}
	conn.reads <- wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("two")}

	if _, err := reader.Receive(context.Background()); err != nil {
		t.Fatalf("first Receive() error = %v", err)
	}

	if _, err := reader.Receive(context.Background()); !errors.Is(err, wspush.ErrRateLimited) {
		t.Fatalf("second Receive() error = %v, want ErrRateLimited", err)
	}

	if s.IsAlive() {
		t.Error("socket should be closed after rate limit violation")
	}

	controls := conn.controlFrames()
	if len(controls) != 1 {
		t.Fatalf("control frames = %d, want 1", len(controls))
	}
	if code := binary.BigEndian.Uint16(controls[0].Data[:2]); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}

// TestReceivePeerClosed tests that a peer disconnect closes the socket
func TestReceivePeerClosed(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	reader, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	conn.Close()

	_, err = reader.Receive(context.Background())
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("Receive() error = %v, want *websocket.CloseError", err)
	}

	if s.IsAlive() {
		t.Error("socket should be closed after peer disconnect")
	}
	if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage}); !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("StartSend() error = %v, want ErrSinkClosed", err)
	}
}

// TestWriteFailureKeepsCause tests that the sink error still carries the transport error
func TestWriteFailureKeepsCause(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	transportErr := &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
	conn.setWriteErr(transportErr)

	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	push := NewPushChannel(writer)

	if err := push.Push(wspush.Text("x")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket was not closed after write failure")
	}

	err = push.Push(wspush.Text("y"))
	if !wspush.IsEnqueueFailure(err) {
		t.Fatalf("Push() error = %v, want an enqueue failure", err)
	}
	if !errors.Is(err, wspush.ErrSinkClosed) {
		t.Errorf("errors.Is(%v, ErrSinkClosed) = false, want true", err)
	}

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr != transportErr {
		t.Errorf("errors.As(%v) = %v, want the transport error", err, closeErr)
	}
}

// TestCloseWritesQueuedFrames tests that closing the socket lets the pump finish the queue
func TestCloseWritesQueuedFrames(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, nil, NoRateLimit())
	conn.block = make(chan struct{})

	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte(strconv.Itoa(i))}); err != nil {
			t.Fatalf("StartSend(%d) error = %v", i, err)
		}
	}
	select {
	case <-conn.writing:
	case <-time.After(time.Second):
		t.Fatal("pump never started writing")
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	close(conn.block)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}

	if n := len(conn.frames()); n != 3 {
		t.Errorf("written frames = %d, want 3", n)
	}
	if controls := conn.controlFrames(); len(controls) != 1 || controls[0].MessageType != websocket.CloseMessage {
		t.Errorf("control frames = %v, want one close frame", controls)
	}
}

// TestCloseDrainIsBounded tests that a stuck transport cannot hold Close forever
func TestCloseDrainIsBounded(t *testing.T) {
	t.Parallel()

	s, conn := newTestSocket(t, &SocketConfig{WriteTimeout: 50 * time.Millisecond}, NoRateLimit())
	conn.block = make(chan struct{})
	defer close(conn.block)

	_, writer, err := s.Split()
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if err := writer.StartSend(wspush.Frame{MessageType: websocket.TextMessage, Data: []byte("x")}); err != nil {
		t.Fatalf("StartSend() error = %v", err)
	}
	<-conn.writing

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on a stuck write")
	}
	if s.IsAlive() {
		t.Error("IsAlive() = true after Close")
	}
}
