// Package realtime keeps the view in sync with committed row changes. It runs
// one supervised subscription per (source, event type) and funnels every
// callback into a single loop goroutine.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/status"
	"github.com/moely/inbox/internal/unread"
	"go.uber.org/zap"
)

// ErrStarted is returned when Start is called on an engine that already ran.
var ErrStarted = errors.New("realtime: engine already started")

// Conversations receives inbound entries for the open conversation.
type Conversations interface {
	AppendLive(e model.Entry) bool
}

// Directory is the contact list the engine patches.
type Directory interface {
	Known(id model.ContactID) bool
	PatchPreview(id model.ContactID, e model.Entry)
	// Reload refetches contacts and recomputes every count.
	Reload(ctx context.Context) error
}

// Counter is the part of the unread counter the engine drives.
type Counter interface {
	Increment(id model.ContactID, rowKey string) error
	Recompute(ctx context.Context, scope unread.Scope, fetch unread.Fetch) error
}

// Options tunes reconnects and debouncing.
type Options struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UpdateDebounce time.Duration
	// Timeout bounds each reload or recompute.
	Timeout time.Duration
	// SyncOnLive reloads once when every channel is first live, covering
	// rows committed before the subscriptions existed.
	SyncOnLive bool
}

// Engine is single-use: Start once, Stop once.
type Engine struct {
	gw      gateway.Gateway
	me      string
	conv    Conversations
	dir     Directory
	counter Counter
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger
	state   *status.Machine

	events chan any

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine for user me.
func New(gw gateway.Gateway, me string, conv Conversations, dir Directory, counter Counter, b *bus.Bus, opts Options, logger *zap.Logger) *Engine {
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.UpdateDebounce <= 0 {
		opts.UpdateDebounce = 300 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gw:      gw,
		me:      me,
		conv:    conv,
		dir:     dir,
		counter: counter,
		bus:     b,
		opts:    opts,
		logger:  logger.Named("realtime"),
		state:   status.NewConnMachine(b),
		events:  make(chan any, 256),
	}
}

// Start opens all channels and begins routing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrStarted
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
	for _, ch := range channels() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.supervise(ctx, ch)
		}()
	}
	return nil
}

// Stop unsubscribes every channel, cancels async work and waits for it. No
// routing happens once Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.state.Force(status.Closed)
}

// Status returns the aggregate channel health.
func (e *Engine) Status() status.State {
	return e.state.Current()
}

// channel is one (source, event type) subscription.
type channel struct {
	src model.Source
	typ gateway.EventType
}

func (c channel) String() string {
	return c.src.Collection + "." + string(c.typ)
}

func channels() []channel {
	var out []channel
	for _, src := range model.Sources() {
		out = append(out, channel{src, gateway.EventInsert}, channel{src, gateway.EventUpdate})
	}
	return out
}

// Loop messages.
type (
	changeMsg struct {
		ch     channel
		change gateway.Change
	}
	upMsg struct {
		ch     channel
		resync bool
	}
	downMsg struct {
		ch  channel
		err error
	}
	reloadDone struct{}
)

// post hands msg to the loop, giving up when ctx ends.
func (e *Engine) post(ctx context.Context, msg any) {
	select {
	case e.events <- msg:
	case <-ctx.Done():
	}
}

// async runs fn on a tracked goroutine bounded by the engine timeout.
func (e *Engine) async(ctx context.Context, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		actx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		fn(actx)
	}()
}
