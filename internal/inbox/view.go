// Package inbox composes the messaging view for one signed-in user: contact
// list, unread counts, the open conversation, outgoing messages and realtime
// sync.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/moely/inbox/internal/badge"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/contacts"
	"github.com/moely/inbox/internal/conversation"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/outbox"
	"github.com/moely/inbox/internal/realtime"
	"github.com/moely/inbox/internal/status"
	"github.com/moely/inbox/internal/unread"
	"go.uber.org/zap"
)

// ErrNotRunning is returned by view operations while the view is stopped.
var ErrNotRunning = errors.New("inbox: view is not running")

// Options configures every component of the view.
type Options struct {
	Contacts     contacts.Options
	Conversation conversation.Options
	Outbox       outbox.Options
	Realtime     realtime.Options
}

// components live for one Start/Stop cycle.
type components struct {
	me      string
	agg     *contacts.Aggregator
	counter *unread.Counter
	sender  *outbox.Sender
	ctl     *conversation.Controller
	engine  *realtime.Engine
}

// View is the messaging view. It is safe for concurrent use.
type View struct {
	gw     gateway.Gateway
	bus    *bus.Bus
	badge  *badge.Publisher
	opts   Options
	logger *zap.Logger

	lifecycle sync.Mutex
	mu        sync.RWMutex
	c         *components
	contacts  []model.Contact
	loadErr   error
	loadGen   uint64
	// pinned is a chat started by StartChat that no load has returned yet.
	pinned *model.Contact
}

// New creates a stopped view.
func New(gw gateway.Gateway, b *bus.Bus, pub *badge.Publisher, opts Options, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	if pub == nil {
		pub = badge.New(b)
	}
	return &View{gw: gw, bus: b, badge: pub, opts: opts, logger: logger.Named("inbox")}
}

// Start resolves the session, opens the realtime channels and loads the list.
// The engine reloads again once its channels are live. A failed list load is
// kept in LoadErr and does not fail Start.
func (v *View) Start(ctx context.Context) error {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	if v.current() != nil {
		return nil
	}

	sess, err := v.gw.Session(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	c := &components{me: sess.UserID}
	c.agg = contacts.New(v.gw, v.opts.Contacts, v.logger)
	c.counter = unread.New(v.badge, v.logger)
	c.sender = outbox.NewSender(v.gw, v.bus, v.opts.Outbox, v.logger)
	c.ctl = conversation.New(v.gw, c.me, c.counter, c.sender, v.bus, v.opts.Conversation, v.logger)
	rtOpts := v.opts.Realtime
	rtOpts.SyncOnLive = true
	c.engine = realtime.New(v.gw, c.me, c.ctl, v, c.counter, v.bus, rtOpts, v.logger)

	v.mu.Lock()
	v.c = c
	v.contacts = nil
	v.pinned = nil
	v.loadErr = nil
	v.mu.Unlock()

	c.sender.Start(context.Background())
	if err := c.engine.Start(context.Background()); err != nil {
		return err
	}
	if err := v.Reload(ctx); err != nil {
		v.logger.Warn("initial load failed", zap.Error(err))
	}
	v.logger.Info("view started", zap.String("user_id", c.me))
	return nil
}

// Stop tears the view down. The badge keeps its last total.
func (v *View) Stop() {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	c := v.current()
	if c == nil {
		return
	}
	c.engine.Stop()
	c.ctl.Stop()
	c.sender.Stop()

	v.mu.Lock()
	v.c = nil
	v.contacts = nil
	v.pinned = nil
	v.loadGen++
	v.mu.Unlock()

	c.counter.Close()
	v.logger.Info("view stopped")
}

func (v *View) current() *components {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.c
}

// Running reports whether the view is started.
func (v *View) Running() bool {
	return v.current() != nil
}

// Me returns the signed-in user id, or "" when stopped.
func (v *View) Me() string {
	if c := v.current(); c != nil {
		return c.me
	}
	return ""
}

// Reload refetches the contact list and recomputes every count. A load
// superseded by a newer one is discarded.
func (v *View) Reload(ctx context.Context) error {
	c := v.current()
	if c == nil {
		return ErrNotRunning
	}
	v.mu.Lock()
	v.loadGen++
	gen := v.loadGen
	v.mu.Unlock()

	list, err := c.agg.Load(ctx, c.me)
	if err == nil {
		err = c.counter.Recompute(ctx, unread.All(), unread.FetchAll(v.gw, c.me))
	}

	v.mu.Lock()
	if gen != v.loadGen {
		v.mu.Unlock()
		return err
	}
	if err != nil {
		v.loadErr = err
		v.mu.Unlock()
		v.bus.Publish(bus.NewEvent(bus.KindContactsFailed, err.Error()))
		return err
	}
	if v.pinned != nil {
		if slices.ContainsFunc(list, func(x model.Contact) bool { return x.ID == v.pinned.ID }) {
			v.pinned = nil
		} else {
			list = insertPeer(list, *v.pinned)
		}
	}
	v.contacts = list
	v.loadErr = nil
	v.mu.Unlock()
	v.bus.Publish(bus.NewEvent(bus.KindContactsLoaded, len(list)))
	return nil
}

// LoadErr returns the error of the last list load, or nil.
func (v *View) LoadErr() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadErr
}

// Contacts returns the list with live unread counts merged in.
func (v *View) Contacts() []model.Contact {
	c := v.current()
	if c == nil {
		return nil
	}
	counts := c.counter.Snapshot()
	v.mu.RLock()
	out := slices.Clone(v.contacts)
	v.mu.RUnlock()
	for i := range out {
		out[i].Unread = counts[out[i].ID]
	}
	return out
}

// Unread returns the total and the non-zero per-contact counts.
func (v *View) Unread() (int, map[model.ContactID]int) {
	c := v.current()
	if c == nil {
		return v.badge.Total(), nil
	}
	counts := c.counter.Snapshot()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, counts
}

// Realtime returns the health of the realtime channels.
func (v *View) Realtime() status.State {
	c := v.current()
	if c == nil {
		return status.Closed
	}
	return c.engine.Status()
}

// OpenConversation opens a contact by id, resolving it when it is not in the
// loaded list.
func (v *View) OpenConversation(ctx context.Context, id model.ContactID) error {
	c := v.current()
	if c == nil {
		return ErrNotRunning
	}
	contact, ok := v.lookup(id)
	if !ok {
		var err error
		if contact, err = c.agg.Resolve(ctx, id); err != nil {
			return err
		}
	}
	return c.ctl.Open(ctx, contact)
}

// StartChat opens a conversation with the user who owns email. Identity
// errors are returned before anything is written.
func (v *View) StartChat(ctx context.Context, email string) (model.Contact, error) {
	c := v.current()
	if c == nil {
		return model.Contact{}, ErrNotRunning
	}
	contact, err := c.agg.FindByEmail(ctx, c.me, email)
	if err != nil {
		return model.Contact{}, err
	}
	v.mu.Lock()
	if !slices.ContainsFunc(v.contacts, func(x model.Contact) bool { return x.ID == contact.ID }) {
		v.contacts = insertPeer(v.contacts, contact)
		v.pinned = &contact
	}
	v.mu.Unlock()
	return contact, c.ctl.Open(ctx, contact)
}

// Send sends text to the open conversation.
func (v *View) Send(text string) (model.Entry, error) {
	c := v.current()
	if c == nil {
		return model.Entry{}, ErrNotRunning
	}
	e, err := c.ctl.Send(text)
	if err != nil && !errors.Is(err, outbox.ErrStopped) && !errors.Is(err, outbox.ErrQueueFull) {
		return e, err
	}
	v.PatchPreview(e.Contact, e)
	return e, err
}

// Close closes the open conversation.
func (v *View) Close() {
	if c := v.current(); c != nil {
		c.ctl.Close()
	}
}

// Active returns the open contact.
func (v *View) Active() (model.Contact, bool) {
	c := v.current()
	if c == nil {
		return model.Contact{}, false
	}
	return c.ctl.Active()
}

// Transcript returns the open conversation's entries.
func (v *View) Transcript() []model.Entry {
	c := v.current()
	if c == nil {
		return nil
	}
	return c.ctl.Transcript()
}

// Pane returns the conversation pane state.
func (v *View) Pane() status.State {
	c := v.current()
	if c == nil {
		return conversation.Empty
	}
	return c.ctl.Pane()
}

// OnUnreadTotalChanged registers a badge listener.
func (v *View) OnUnreadTotalChanged(fn func(total int)) func() {
	return v.badge.OnUnreadTotalChanged(fn)
}

// Known reports whether id is in the loaded list.
func (v *View) Known(id model.ContactID) bool {
	_, ok := v.lookup(id)
	return ok
}

// PatchPreview updates a contact's preview and moves it to the top of the
// peers.
func (v *View) PatchPreview(id model.ContactID, e model.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := slices.IndexFunc(v.contacts, func(x model.Contact) bool { return x.ID == id })
	if i < 0 {
		return
	}
	contact := v.contacts[i]
	if p := e.Preview(); p != "" {
		contact.Preview = p
	}
	contact.LastAt = time.Now().UnixMilli()
	if e.CreatedAt > 0 {
		contact.LastAt = e.CreatedAt
	}
	if contact.IsSystem {
		v.contacts[i] = contact
		return
	}
	v.contacts = insertPeer(slices.Delete(v.contacts, i, i+1), contact)
}

func (v *View) lookup(id model.ContactID) (model.Contact, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	i := slices.IndexFunc(v.contacts, func(x model.Contact) bool { return x.ID == id })
	if i < 0 {
		return model.Contact{}, false
	}
	return v.contacts[i], true
}

// insertPeer places c right after the system contact.
func insertPeer(list []model.Contact, c model.Contact) []model.Contact {
	at := 0
	if len(list) > 0 && list[0].IsSystem {
		at = 1
	}
	return slices.Insert(list, at, c)
}
