package realtime

import (
	"context"
	"time"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/status"
	"github.com/moely/inbox/internal/unread"
	"go.uber.org/zap"
)

// loopState is owned by the loop goroutine.
type loopState struct {
	live map[channel]bool

	// due holds debounced per-contact recomputes.
	due   map[model.ContactID]time.Time
	timer *time.Timer

	reloading     bool
	reloadPending bool
	// synced is set once every channel has been live.
	synced bool
}

func (e *Engine) loop(ctx context.Context) {
	ls := &loopState{
		live:  make(map[channel]bool),
		due:   make(map[model.ContactID]time.Time),
		timer: time.NewTimer(time.Hour),
	}
	ls.timer.Stop()
	defer ls.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.events:
			switch m := msg.(type) {
			case changeMsg:
				e.route(ctx, ls, m)
			case upMsg:
				e.channelUp(ctx, ls, m)
			case downMsg:
				ls.live[m.ch] = false
				e.state.Force(status.Reconnecting)
			case reloadDone:
				ls.reloading = false
				if ls.reloadPending {
					ls.reloadPending = false
					e.reload(ctx, ls, "coalesced")
				}
			}
		case <-ls.timer.C:
			e.flushDue(ctx, ls)
		}
	}
}

func (e *Engine) channelUp(ctx context.Context, ls *loopState, m upMsg) {
	ls.live[m.ch] = true
	if len(ls.live) == len(channels()) {
		all := true
		for _, ok := range ls.live {
			all = all && ok
		}
		if all {
			e.state.Force(status.Live)
			if !ls.synced {
				ls.synced = true
				if e.opts.SyncOnLive && !m.resync {
					e.reload(ctx, ls, "initial sync")
				}
			}
		}
	}
	if m.resync {
		e.logger.Info("channel restored, resyncing", zap.String("channel", m.ch.String()))
		e.bus.Publish(bus.NewEvent(bus.KindRealtimeResync, m.ch.String()))
		e.reload(ctx, ls, "resync")
	}
}

func (e *Engine) route(ctx context.Context, ls *loopState, m changeMsg) {
	src := m.ch.src
	switch m.change.Type {
	case gateway.EventInsert:
		entry := src.Entry(m.change.New, e.me)
		if entry.Mine {
			return
		}
		if e.conv.AppendLive(entry) {
			return
		}
		if err := e.counter.Increment(entry.Contact, src.RowKey(entry.ID)); err != nil {
			e.logger.Warn("increment failed", zap.Error(err))
		}
		title := "New message"
		if src.Kind == model.KindSystem {
			title = "New notification"
		}
		e.bus.Publish(bus.NewEvent(bus.KindToast, model.Toast{
			Level:   model.ToastInfo,
			Contact: entry.Contact,
			Title:   title,
			Text:    entry.Preview(),
		}))
		if e.dir.Known(entry.Contact) {
			e.dir.PatchPreview(entry.Contact, entry)
			return
		}
		e.reload(ctx, ls, "unknown sender")

	case gateway.EventUpdate:
		id := src.ContactOf(m.change.New)
		if _, ok := ls.due[id]; ok {
			return
		}
		at := time.Now().Add(e.opts.UpdateDebounce)
		ls.due[id] = at
		e.armTimer(ls)
	}
}

// reload starts a full reload, or queues one if a reload is already running.
func (e *Engine) reload(ctx context.Context, ls *loopState, reason string) {
	if ls.reloading {
		ls.reloadPending = true
		return
	}
	ls.reloading = true
	e.async(ctx, func(actx context.Context) {
		if err := e.dir.Reload(actx); err != nil && ctx.Err() == nil {
			e.logger.Warn("reload failed", zap.String("reason", reason), zap.Error(err))
		}
		e.post(ctx, reloadDone{})
	})
}

func (e *Engine) flushDue(ctx context.Context, ls *loopState) {
	now := time.Now()
	for id, at := range ls.due {
		if at.After(now) {
			continue
		}
		delete(ls.due, id)
		e.async(ctx, func(actx context.Context) {
			err := e.counter.Recompute(actx, unread.Only(id), unread.FetchContact(e.gw, e.me, id))
			if err != nil && ctx.Err() == nil {
				e.logger.Warn("recompute failed", zap.String("contact", string(id)), zap.Error(err))
			}
		})
	}
	e.armTimer(ls)
}

// armTimer points the timer at the earliest due recompute.
func (e *Engine) armTimer(ls *loopState) {
	if !ls.timer.Stop() {
		select {
		case <-ls.timer.C:
		default:
		}
	}
	var next time.Time
	for _, at := range ls.due {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		return
	}
	ls.timer.Reset(time.Until(next))
}
