// Package badge holds the global unread indicator shown by the app shell.
package badge

import (
	"context"
	"fmt"
	"sync"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
)

// Publisher stores the latest unread total, notifies listeners and mirrors the
// value on the bus as unread.total_changed.
type Publisher struct {
	bus *bus.Bus

	mu        sync.Mutex
	total     int
	listeners map[int]func(int)
	next      int
}

// New creates a publisher. b may be nil.
func New(b *bus.Bus) *Publisher {
	return &Publisher{bus: b, listeners: make(map[int]func(int))}
}

// Publish records total. Listeners run synchronously and must not block.
func (p *Publisher) Publish(total int) {
	if total < 0 {
		total = 0
	}
	p.mu.Lock()
	changed := total != p.total
	p.total = total
	fns := make([]func(int), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn(total)
	}
	if p.bus != nil {
		p.bus.Publish(bus.NewEvent(bus.KindUnreadTotal, total))
	}
}

// Total returns the last published total.
func (p *Publisher) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Visible reports whether the badge should be shown.
func (p *Publisher) Visible() bool {
	return p.Total() > 0
}

// OnUnreadTotalChanged registers fn for future changes and returns a cancel func.
func (p *Publisher) OnUnreadTotalChanged(fn func(total int)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Bootstrap publishes the total derived from two counts, for shells that show
// the badge before the messaging view has loaded.
func (p *Publisher) Bootstrap(ctx context.Context, gw gateway.Gateway, me string) (int, error) {
	total := 0
	for _, src := range model.Sources() {
		n, err := gw.Count(ctx, src.Collection, src.Unread(me, ""))
		if err != nil {
			return 0, fmt.Errorf("count unread %s: %w", src.Collection, err)
		}
		total += n
	}
	p.Publish(total)
	return total, nil
}
