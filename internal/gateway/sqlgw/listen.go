package sqlgw

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notifyChannel = "inbox_changes"

// listen holds a dedicated connection in LISTEN mode so commits wake the feed
// without waiting for the next tick. The poller stays authoritative; a dead
// listener only costs latency.
func (g *Gateway) listen(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := g.listenOnce(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		g.logger.Warn("listen connection lost", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (g *Gateway) listenOnce(ctx context.Context, bo backoff.BackOff) error {
	conn, err := pgx.Connect(ctx, g.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	bo.Reset()
	// Anything committed while we were disconnected is picked up by this poll.
	g.feed.kick()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		g.feed.kick()
	}
}
