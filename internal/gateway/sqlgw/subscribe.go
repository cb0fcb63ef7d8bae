package sqlgw

import (
	"context"
	"errors"
	"sync"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
)

var subscriptionBuffer = 1024

// ErrOverflow ends a subscription whose handler fell behind and missed
// changes. Subscribers resync after reconnecting.
var ErrOverflow = errors.New("sqlgw: subscription fell behind, changes were dropped")

// Subscribe opens a realtime channel for one collection and event type. The
// handler runs on the subscription's own goroutine and must not call
// Unsubscribe itself.
func (g *Gateway) Subscribe(ctx context.Context, collection string, typ gateway.EventType, f gateway.Filter, h gateway.Handler) (gateway.Subscription, error) {
	t, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	if !t.realtime {
		return nil, gateway.ErrChannelUnavailable
	}
	for _, field := range f.Fields() {
		if _, err := t.column(field); err != nil {
			return nil, err
		}
	}
	if !g.feed.available() {
		return nil, gateway.ErrChannelUnavailable
	}

	changes, overflow, unsubChanges := g.bus.SubscribeWithOverflow(topic(collection, typ), subscriptionBuffer)
	lost, unsubLost := g.bus.Subscribe(bus.KindFeedLost, 1)
	s := &subscription{
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		unsub: func() {
			unsubChanges()
			unsubLost()
		},
	}

	go func() {
		defer close(s.stopped)
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case evt := <-lost:
				err, _ := evt.Payload.(error)
				if err == nil {
					err = errors.New("change feed lost")
				}
				s.errc <- err
				return
			case <-overflow:
				s.errc <- ErrOverflow
				return
			case evt := <-changes:
				c, ok := evt.Payload.(gateway.Change)
				if !ok || !f.Match(c.New) {
					continue
				}
				select {
				case <-s.done:
					return
				default:
				}
				h(c)
			}
		}
	}()
	return s, nil
}

type subscription struct {
	errc    chan error
	done    chan struct{}
	stopped chan struct{}
	unsub   func()
	once    sync.Once
}

func (s *subscription) Err() <-chan error { return s.errc }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.unsub()
	})
	<-s.stopped
}
