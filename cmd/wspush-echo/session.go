package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/wspush"
	"github.com/luciancaetano/wspush/ws"
)

type echoFactory struct {
	tick   time.Duration
	logger *zap.Logger
}

func (f echoFactory) NewConnectionContext() wspush.Handler {
	return &echoSession{tick: f.tick, logger: f.logger}
}

// echoSession echoes inbound messages and, with a tick, pushes the server time.
// Only the writer goroutine touches the push channel.
type echoSession struct {
	tick     time.Duration
	logger   *zap.Logger
	received int
}

func (s *echoSession) HandleConnection(ctx context.Context, socket wspush.Socket, id wspush.ConnectionID) error {
	reader, writer, err := socket.Split()
	if err != nil {
		return err
	}
	push := ws.NewPushChannel(writer)
	inbound := make(chan wspush.Payload)

	defer func() {
		s.logger.Debug("echo session finished",
			zap.Stringer("connection_id", id),
			zap.Int("received", s.received))
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inbound)
		for {
			msg, err := reader.Receive(ctx)
			if err != nil {
				return err
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		var ticks <-chan time.Time
		if s.tick > 0 {
			ticker := time.NewTicker(s.tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		for {
			select {
			case msg, ok := <-inbound:
				if !ok {
					return nil
				}
				s.received++
				if err := push.Push(msg); err != nil {
					return err
				}
			case now := <-ticks:
				if err := push.Push(wspush.Text(now.UTC().Format(time.RFC3339))); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
