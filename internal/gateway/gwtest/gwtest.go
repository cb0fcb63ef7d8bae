// Package gwtest provides sqlite-backed gateway fixtures for tests.
package gwtest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/gateway/sqlgw"
)

// Fixture is a started gateway with a signed-in profile.
type Fixture struct {
	GW    *sqlgw.Gateway
	Me    string
	Email string
}

// Open creates a temp-dir database signed in as me@example.com.
func Open(t *testing.T) *Fixture {
	t.Helper()
	const email = "me@example.com"
	ctx := context.Background()
	gw, err := sqlgw.Open(ctx, sqlgw.Options{
		Dialect:      sqlgw.SQLite,
		DSN:          filepath.Join(t.TempDir(), "inbox.db"),
		Email:        email,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	me, err := gw.EnsureProfile(ctx, email)
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return &Fixture{GW: gw, Me: me, Email: email}
}

// Peer creates a profile with a fixed id.
func (f *Fixture) Peer(t *testing.T, id, email string) string {
	t.Helper()
	if err := f.GW.Insert(context.Background(), gateway.Profiles, gateway.Row{"id": id, "email": email}); err != nil {
		t.Fatal(err)
	}
	return id
}

// Message inserts a private message and returns its id.
func (f *Fixture) Message(t *testing.T, id, from, to, content string) string {
	t.Helper()
	if err := f.GW.Insert(context.Background(), gateway.PrivateMessages, gateway.Row{
		"id": id, "sender_id": from, "receiver_id": to, "content": content,
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

// Notify inserts a notification for user and returns its id.
func (f *Fixture) Notify(t *testing.T, id, user, title, content string) string {
	t.Helper()
	if err := f.GW.Insert(context.Background(), gateway.Notifications, gateway.Row{
		"id": id, "user_id": user, "title": title, "content": content,
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

// Unread counts unread rows in a collection for the recipient field.
func (f *Fixture) Unread(t *testing.T, collection, recipientField string) int {
	t.Helper()
	n, err := f.GW.Count(context.Background(), collection,
		gateway.Where(gateway.Eq(recipientField, f.Me), gateway.Eq("is_read", false)))
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// Blocking wraps a gateway and parks Update calls until Release is called.
type Blocking struct {
	gateway.Gateway

	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

// NewBlocking returns a wrapper whose updates block from the start.
func NewBlocking(gw gateway.Gateway) *Blocking {
	return &Blocking{Gateway: gw, gate: make(chan struct{}), entered: make(chan struct{}, 16)}
}

// Entered signals each time an Update reaches the gate.
func (b *Blocking) Entered() <-chan struct{} { return b.entered }

// Release lets parked and future updates through.
func (b *Blocking) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.gate:
	default:
		close(b.gate)
	}
}

func (b *Blocking) Update(ctx context.Context, collection string, patch gateway.Row, f gateway.Filter) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	select {
	case <-gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Gateway.Update(ctx, collection, patch, f)
}
