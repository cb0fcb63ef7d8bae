// Package unread keeps the per-contact unread counts for one signed-in user.
//
// The counter is an actor: one goroutine owns the state and every operation is
// a closure sent to it. Counts are sets of row keys, so a row delivered twice
// is counted once and no count can go negative.
package unread

import (
	"context"
	"errors"
	"strconv"

	"github.com/moely/inbox/internal/model"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed counter.
var ErrClosed = errors.New("unread: counter closed")

// Publisher receives the total after every mutation, on the counter goroutine.
// Implementations must not call back into the counter.
type Publisher interface {
	Publish(total int)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(total int)

func (f PublisherFunc) Publish(total int) { f(total) }

// Scope selects which contacts a recompute replaces.
type Scope struct {
	all     bool
	contact model.ContactID
}

// All covers every contact.
func All() Scope { return Scope{all: true} }

// Only covers one contact.
func Only(id model.ContactID) Scope { return Scope{contact: id} }

func (s Scope) covers(id model.ContactID) bool {
	return s.all || s.contact == id
}

func (s Scope) String() string {
	if s.all {
		return "all"
	}
	return string(s.contact)
}

// Tally is a fetched snapshot: unread row keys per attributed contact.
type Tally map[model.ContactID][]string

// Fetch produces a tally from the data service.
type Fetch func(ctx context.Context) (Tally, error)

// Counter is the unread state actor.
type Counter struct {
	cmds   chan func(*state)
	done   chan struct{}
	exited chan struct{}
	pub    Publisher
	logger *zap.Logger
}

// New starts a counter. pub may be nil.
func New(pub Publisher, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Counter{
		cmds:   make(chan func(*state)),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		pub:    pub,
		logger: logger.Named("unread"),
	}
	go c.loop(newState())
	return c
}

// Close stops the actor. Later calls become no-ops returning ErrClosed or zero.
func (c *Counter) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	<-c.exited
}

func (c *Counter) loop(s *state) {
	defer close(c.exited)
	for {
		select {
		case fn := <-c.cmds:
			fn(s)
		case <-c.done:
			return
		}
	}
}

// do runs fn on the actor and waits for it to finish.
func (c *Counter) do(fn func(*state)) error {
	reply := make(chan struct{})
	cmd := func(s *state) {
		defer close(reply)
		fn(s)
	}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrClosed
	}
	<-reply
	return nil
}

// mutate runs fn and publishes the resulting total before returning.
func (c *Counter) mutate(fn func(*state)) error {
	return c.do(func(s *state) {
		fn(s)
		if c.pub != nil {
			c.pub.Publish(s.total())
		}
	})
}

// Increment counts one unread row for the contact. An empty rowKey is treated
// as a fresh row.
func (c *Counter) Increment(id model.ContactID, rowKey string) error {
	return c.mutate(func(s *state) {
		if rowKey == "" {
			s.anon++
			rowKey = "local/" + strconv.FormatUint(s.anon, 10)
		}
		s.apply(op{contact: id, key: rowKey})
	})
}

// Clear drops the contact's count to zero and holds it there against
// recomputes until a matching Settle. Holds nest.
func (c *Counter) Clear(id model.ContactID) error {
	return c.mutate(func(s *state) {
		s.apply(op{contact: id, clear: true})
		s.held[id]++
	})
}

// Settle releases one hold placed by Clear, once the read-ack has resolved.
func (c *Counter) Settle(id model.ContactID) error {
	return c.do(func(s *state) {
		if s.held[id] <= 1 {
			delete(s.held, id)
			return
		}
		s.held[id]--
	})
}

// Recompute replaces the counts in scope with a fresh fetch. Mutations that
// land while the fetch is in flight are journaled and replayed on top of it.
// A result is discarded if a newer recompute covering the same contacts has
// already been installed.
func (c *Counter) Recompute(ctx context.Context, scope Scope, fetch Fetch) error {
	var token uint64
	if err := c.do(func(s *state) { token = s.begin(scope) }); err != nil {
		return err
	}
	tally, err := fetch(ctx)
	if err != nil {
		_ = c.do(func(s *state) { delete(s.pending, token) })
		return err
	}
	var installed bool
	if err := c.mutate(func(s *state) { installed = s.install(token, tally) }); err != nil {
		return err
	}
	if !installed {
		c.logger.Debug("stale recompute discarded", zap.String("scope", scope.String()))
	}
	return nil
}

// Count returns the contact's unread count.
func (c *Counter) Count(id model.ContactID) int {
	var n int
	_ = c.do(func(s *state) { n = len(s.rows[id]) })
	return n
}

// Total returns the sum over all contacts.
func (c *Counter) Total() int {
	var n int
	_ = c.do(func(s *state) { n = s.total() })
	return n
}

// Snapshot returns the non-zero counts.
func (c *Counter) Snapshot() map[model.ContactID]int {
	out := make(map[model.ContactID]int)
	_ = c.do(func(s *state) {
		for id, keys := range s.rows {
			if len(keys) > 0 {
				out[id] = len(keys)
			}
		}
	})
	return out
}
