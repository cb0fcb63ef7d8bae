package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moely/inbox/internal/gateway"
	"go.uber.org/zap"
)

// supervise keeps one channel subscribed until ctx ends. A subscription that
// comes up after any failure asks the loop for a full resync, since changes
// may have been missed while it was down.
func (e *Engine) supervise(ctx context.Context, ch channel) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.BackoffInitial
	bo.MaxInterval = e.opts.BackoffMax
	bo.MaxElapsedTime = 0

	missed := false
	handler := func(c gateway.Change) {
		e.post(ctx, changeMsg{ch: ch, change: c})
	}
	for {
		sub, err := e.gw.Subscribe(ctx, ch.src.Collection, ch.typ, ch.src.Inbound(e.me), handler)
		if err == nil {
			bo.Reset()
			e.post(ctx, upMsg{ch: ch, resync: missed})
			missed = false
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err = <-sub.Err():
				sub.Unsubscribe()
			}
		}
		if ctx.Err() != nil {
			return
		}
		missed = true
		wait := bo.NextBackOff()
		e.logger.Warn("channel down",
			zap.String("channel", ch.String()),
			zap.Error(err),
			zap.Duration("retry_in", wait))
		e.post(ctx, downMsg{ch: ch, err: err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
