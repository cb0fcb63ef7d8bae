// Package conversation drives the single open conversation pane: loading the
// transcript, acknowledging reads, live appends and optimistic sends.
package conversation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/outbox"
	"github.com/moely/inbox/internal/status"
	"github.com/moely/inbox/internal/unread"
	"go.uber.org/zap"
)

var (
	ErrNoConversation = errors.New("conversation: no conversation is open")
	ErrReadOnly       = errors.New("conversation: this conversation is read-only")
	ErrEmptyMessage   = errors.New("conversation: message is empty")
	ErrNotReady       = errors.New("conversation: transcript is not loaded")
)

// Counter is the part of the unread counter the controller drives.
type Counter interface {
	Clear(id model.ContactID) error
	Settle(id model.ContactID) error
	Recompute(ctx context.Context, scope unread.Scope, fetch unread.Fetch) error
}

// Outbox accepts sends.
type Outbox interface {
	Enqueue(job outbox.Job, done func(outbox.Result)) error
}

// Options bounds gateway calls.
type Options struct {
	FetchTimeout time.Duration
	AckTimeout   time.Duration
}

// Controller owns the active conversation. A mutex guards all pane state and
// no gateway call is made while holding it.
type Controller struct {
	gw      gateway.Gateway
	me      string
	counter Counter
	out     Outbox
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	gen        uint64
	active     *model.Contact
	pane       *status.Machine
	transcript []model.Entry
	// early holds live entries that arrived while the transcript was loading.
	early []model.Entry
}

// New creates a controller for user me.
func New(gw gateway.Gateway, me string, counter Counter, out Outbox, b *bus.Bus, opts Options, logger *zap.Logger) *Controller {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gw:      gw,
		me:      me,
		counter: counter,
		out:     out,
		bus:     b,
		opts:    opts,
		logger:  logger.Named("conversation"),
		ctx:     ctx,
		cancel:  cancel,
		pane:    newPane(b),
	}
}

// Stop cancels read-acks in flight and waits for them.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Open makes contact the active conversation. The unread count is cleared
// before anything else; the transcript is then fetched and rendered, and the
// read-ack is issued in the background. A fetch error leaves the pane FAILED
// and is returned.
func (c *Controller) Open(ctx context.Context, contact model.Contact) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.active = &contact
	c.transcript = nil
	c.early = nil
	c.setPane(Loading)
	c.mu.Unlock()

	_ = c.counter.Clear(contact.ID)

	src := model.SourceFor(contact.ID)
	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	rows, err := c.gw.Query(fctx, src.Collection, gateway.Query{
		Filter: src.Transcript(c.me, contact.ID),
		Order:  &gateway.Order{Field: model.FieldCreatedAt},
	})
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.restore(contact.ID)
		return nil
	}
	if err != nil {
		c.setPane(Failed)
		c.mu.Unlock()
		c.logger.Warn("transcript fetch failed", zap.String("contact", string(contact.ID)), zap.Error(err))
		c.restore(contact.ID)
		return err
	}
	entries := src.Entries(rows, c.me)
	for _, e := range c.early {
		if !containsID(entries, e.ID) {
			entries = append(entries, e)
		}
	}
	slices.SortStableFunc(entries, func(a, b model.Entry) int {
		switch {
		case a.CreatedAt < b.CreatedAt:
			return -1
		case a.CreatedAt > b.CreatedAt:
			return 1
		}
		return 0
	})
	c.early = nil
	c.transcript = entries
	c.setPane(Ready)
	c.publish(bus.KindTranscriptAdd, TranscriptEvent{Contact: contact.ID, Entries: cloneEntries(entries), Reset: true})
	c.mu.Unlock()

	c.ack(contact.ID, src.Unread(c.me, contact.ID), true)
	return nil
}

// Close clears the active conversation.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.active = nil
	c.transcript = nil
	c.early = nil
	c.setPane(Empty)
}

// AppendLive adds an inbound entry when its contact is the open conversation
// and acknowledges it. It reports false, touching nothing, otherwise.
func (c *Controller) AppendLive(e model.Entry) bool {
	c.mu.Lock()
	if c.active == nil || c.active.ID != e.Contact {
		c.mu.Unlock()
		return false
	}
	if c.pane.Current() == Loading {
		c.early = append(c.early, e)
	} else if !containsID(c.transcript, e.ID) {
		c.transcript = append(c.transcript, e)
		c.publish(bus.KindTranscriptAdd, TranscriptEvent{Contact: e.Contact, Entries: []model.Entry{e}})
	}
	c.mu.Unlock()

	src := model.SourceFor(e.Contact)
	f := src.Row(c.me, e.ID)
	if src.Kind == model.KindSystem {
		f = src.Unread(c.me, model.SystemBot)
	}
	c.ack(e.Contact, f, false)
	return true
}

// Send appends an optimistic entry and hands the insert to the outbox. Input
// is only accepted once the transcript is READY.
func (c *Controller) Send(text string) (model.Entry, error) {
	content := strings.TrimSpace(text)

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return model.Entry{}, ErrNoConversation
	}
	if c.active.ReadOnly() {
		c.mu.Unlock()
		return model.Entry{}, ErrReadOnly
	}
	if c.pane.Current() != Ready {
		c.mu.Unlock()
		return model.Entry{}, ErrNotReady
	}
	if content == "" {
		c.mu.Unlock()
		return model.Entry{}, ErrEmptyMessage
	}
	e := model.Entry{
		ID:        uuid.NewString(),
		Contact:   c.active.ID,
		SenderID:  c.me,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
		Mine:      true,
		Read:      false,
		Status:    model.StatusPending,
	}
	c.transcript = append(c.transcript, e)
	c.publish(bus.KindTranscriptAdd, TranscriptEvent{Contact: e.Contact, Entries: []model.Entry{e}})
	c.mu.Unlock()

	job := outbox.Job{ID: e.ID, Sender: c.me, Receiver: string(e.Contact), Content: content}
	if err := c.out.Enqueue(job, c.settle); err != nil {
		c.settle(outbox.Result{Job: job, Err: err})
		return e, err
	}
	return e, nil
}

// settle applies an outbox result to the optimistic entry, if it is still shown.
func (c *Controller) settle(r outbox.Result) {
	c.mu.Lock()
	i := slices.IndexFunc(c.transcript, func(e model.Entry) bool { return e.ID == r.Job.ID })
	if i >= 0 {
		switch {
		case r.Err == nil:
			c.transcript[i].Status = model.StatusConfirmed
			c.publish(bus.KindTranscriptEdit, EntryEvent{Entry: c.transcript[i]})
		case r.Retracted:
			removed := c.transcript[i]
			c.transcript = slices.Delete(c.transcript, i, i+1)
			c.publish(bus.KindTranscriptEdit, EntryEvent{Entry: removed, Removed: true})
		default:
			c.transcript[i].Status = model.StatusFailed
			c.publish(bus.KindTranscriptEdit, EntryEvent{Entry: c.transcript[i]})
		}
	}
	c.mu.Unlock()

	if r.Err != nil {
		c.publish(bus.KindToast, model.Toast{
			Level:   model.ToastError,
			Contact: model.ContactID(r.Job.Receiver),
			Text:    "Failed to send message",
		})
	}
}

// ack marks rows read in the background. When settle is set the counter hold
// placed by Open is released once the write resolves.
func (c *Controller) ack(id model.ContactID, f gateway.Filter, settle bool) {
	src := model.SourceFor(id)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if settle {
			defer func() { _ = c.counter.Settle(id) }()
		}
		actx, cancel := context.WithTimeout(c.ctx, c.opts.AckTimeout)
		defer cancel()
		if err := c.gw.Update(actx, src.Collection, model.ReadPatch(), f); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("read-ack failed", zap.String("contact", string(id)), zap.Error(err))
			c.publish(bus.KindToast, model.Toast{Level: model.ToastError, Contact: id, Text: "Could not mark messages as read"})
		}
	}()
}

// restore undoes the optimistic clear of an open that never rendered.
func (c *Controller) restore(id model.ContactID) {
	_ = c.counter.Settle(id)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		defer cancel()
		if err := c.counter.Recompute(fctx, unread.Only(id), unread.FetchContact(c.gw, c.me, id)); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("unread restore failed", zap.String("contact", string(id)), zap.Error(err))
		}
	}()
}

// Active returns the open contact.
func (c *Controller) Active() (model.Contact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return model.Contact{}, false
	}
	return *c.active, true
}

// Pane returns the pane state.
func (c *Controller) Pane() status.State {
	return c.pane.Current()
}

// Transcript returns a copy of the rendered transcript.
func (c *Controller) Transcript() []model.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneEntries(c.transcript)
}

// setPane must be called with c.mu held.
func (c *Controller) setPane(to status.State) {
	if to == Loading && c.pane.Current() == Loading {
		_ = c.pane.Transition(Loading)
		return
	}
	c.pane.Force(to)
}

func (c *Controller) publish(kind string, payload any) {
	c.bus.Publish(bus.NewEvent(kind, payload))
}

func containsID(entries []model.Entry, id string) bool {
	return slices.ContainsFunc(entries, func(e model.Entry) bool { return e.ID == id })
}

func cloneEntries(entries []model.Entry) []model.Entry {
	return append([]model.Entry(nil), entries...)
}
