package sqlgw

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/moely/inbox/internal/gateway"
)

const testEmail = "me@example.com"

func testGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	ctx := context.Background()
	g, err := Open(ctx, Options{
		Dialect:      SQLite,
		DSN:          filepath.Join(t.TempDir(), "inbox.db"),
		Email:        testEmail,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = g.Close() })
	me, err := g.EnsureProfile(ctx, testEmail)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return g, me
}

func TestMigrateIdempotent(t *testing.T) {
	g, _ := testGateway(t)
	result, err := g.migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second migrate should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + changes)", result.Version)
	}
}

func TestSession(t *testing.T) {
	g, me := testGateway(t)
	s, err := g.Session(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.UserID != me || s.Email != testEmail {
		t.Errorf("session = %+v, want %s/%s", s, me, testEmail)
	}

	g.email = "ghost@example.com"
	if _, err := g.Session(context.Background()); !errors.Is(err, gateway.ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestEnsureProfileReusesExisting(t *testing.T) {
	g, me := testGateway(t)
	id, err := g.EnsureProfile(context.Background(), testEmail)
	if err != nil {
		t.Fatal(err)
	}
	if id != me {
		t.Errorf("EnsureProfile = %s, want existing %s", id, me)
	}
}

func TestInsertAssignsOrderedTimestamps(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		if err := g.Insert(ctx, gateway.PrivateMessages, gateway.Row{
			"sender_id": "peer", "receiver_id": me, "content": body,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := g.Query(ctx, gateway.PrivateMessages, gateway.Query{
		Filter: gateway.Where(gateway.Eq("receiver_id", me)),
		Order:  &gateway.Order{Field: "created_at"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, want := range []string{"one", "two", "three"} {
		if rows[i].String("content") != want {
			t.Errorf("rows[%d] = %q, want %q", i, rows[i].String("content"), want)
		}
		if rows[i].Bool("is_read") {
			t.Errorf("rows[%d] should default to unread", i)
		}
		if i > 0 && rows[i].Int64("created_at") <= rows[i-1].Int64("created_at") {
			t.Errorf("created_at not strictly increasing at %d", i)
		}
	}

	latest, err := g.Query(ctx, gateway.PrivateMessages, gateway.Query{
		Filter: gateway.Where(gateway.Eq("receiver_id", me)),
		Order:  &gateway.Order{Field: "created_at", Desc: true},
		Limit:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].String("content") != "three" {
		t.Errorf("latest = %v, want three", latest)
	}
}

func TestCountWithAlternatives(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()
	rows := []gateway.Row{
		{"sender_id": me, "receiver_id": "a", "content": "to a"},
		{"sender_id": "a", "receiver_id": me, "content": "from a"},
		{"sender_id": "b", "receiver_id": me, "content": "from b"},
	}
	for _, r := range rows {
		if err := g.Insert(ctx, gateway.PrivateMessages, r); err != nil {
			t.Fatal(err)
		}
	}

	f := gateway.Filter{}.Or(
		[]gateway.Cond{gateway.Eq("sender_id", me), gateway.Eq("receiver_id", "a")},
		[]gateway.Cond{gateway.Eq("sender_id", "a"), gateway.Eq("receiver_id", me)},
	)
	n, err := g.Count(ctx, gateway.PrivateMessages, f)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	n, err = g.Count(ctx, gateway.PrivateMessages, gateway.Where(gateway.In("sender_id", []string{"a", "b"})))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("IN count = %d, want 2", n)
	}

	n, err = g.Count(ctx, gateway.PrivateMessages, gateway.Where(gateway.In("sender_id", nil)))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("empty IN count = %d, want 0", n)
	}
}

func TestUpdateMarksRead(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()
	if err := g.Insert(ctx, gateway.Notifications, gateway.Row{"id": "n1", "user_id": me, "title": "hi"}); err != nil {
		t.Fatal(err)
	}
	unread := gateway.Where(gateway.Eq("user_id", me), gateway.Eq("is_read", false))

	if err := g.Update(ctx, gateway.Notifications, gateway.Row{"is_read": true}, unread); err != nil {
		t.Fatal(err)
	}
	n, err := g.Count(ctx, gateway.Notifications, unread)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("unread after update = %d, want 0", n)
	}
}

func TestUpdateRejections(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()
	f := gateway.Where(gateway.Eq("user_id", me))
	tests := []struct {
		name  string
		patch gateway.Row
		f     gateway.Filter
		want  error
	}{
		{"read regression", gateway.Row{"is_read": false}, f, gateway.ErrReadRegression},
		{"immutable id", gateway.Row{"id": "x"}, f, ErrImmutableField},
		{"unknown field", gateway.Row{"colour": "red"}, f, gateway.ErrUnknownField},
		{"no filter", gateway.Row{"is_read": true}, gateway.Filter{}, ErrUnfiltered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Update(ctx, gateway.Notifications, tt.patch, tt.f)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnknownCollection(t *testing.T) {
	g, _ := testGateway(t)
	_, err := g.Query(context.Background(), "comments", gateway.Query{})
	if !errors.Is(err, gateway.ErrUnknownCollection) {
		t.Errorf("err = %v, want ErrUnknownCollection", err)
	}
}

func TestSubscribeDeliversMatchingInserts(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()

	got := make(chan gateway.Change, 4)
	sub, err := g.Subscribe(ctx, gateway.PrivateMessages, gateway.EventInsert,
		gateway.Where(gateway.Eq("receiver_id", me)),
		func(c gateway.Change) { got <- c })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := g.Insert(ctx, gateway.PrivateMessages, gateway.Row{"sender_id": me, "receiver_id": "peer", "content": "out"}); err != nil {
		t.Fatal(err)
	}
	if err := g.Insert(ctx, gateway.PrivateMessages, gateway.Row{"id": "m2", "sender_id": "peer", "receiver_id": me, "content": "in"}); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.New.String("id") != "m2" || c.Type != gateway.EventInsert {
			t.Errorf("change = %+v, want insert of m2", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	select {
	case c := <-got:
		t.Errorf("unexpected change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeDeliversUpdates(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()
	if err := g.Insert(ctx, gateway.Notifications, gateway.Row{"id": "n1", "user_id": me}); err != nil {
		t.Fatal(err)
	}

	got := make(chan gateway.Change, 4)
	sub, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventUpdate,
		gateway.Where(gateway.Eq("user_id", me)),
		func(c gateway.Change) { got <- c })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := g.Update(ctx, gateway.Notifications, gateway.Row{"is_read": true}, gateway.Where(gateway.Eq("id", "n1"))); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if !c.New.Bool("is_read") {
			t.Errorf("update change = %+v, want is_read=true", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestUnsubscribeStopsHandler(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()

	got := make(chan gateway.Change, 4)
	sub, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventInsert,
		gateway.Where(gateway.Eq("user_id", me)),
		func(c gateway.Change) { got <- c })
	if err != nil {
		t.Fatal(err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if err := g.Insert(ctx, gateway.Notifications, gateway.Row{"user_id": me}); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Errorf("handler called after Unsubscribe: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedLossAndRecovery(t *testing.T) {
	g, me := testGateway(t)
	ctx := context.Background()

	sub, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventInsert,
		gateway.Where(gateway.Eq("user_id", me)), func(gateway.Change) {})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := g.db.Exec("ALTER TABLE changes RENAME TO changes_offline"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-sub.Err():
		if err == nil {
			t.Error("expected a non-nil channel error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel error")
	}

	if _, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventInsert, gateway.Filter{}, func(gateway.Change) {}); !errors.Is(err, gateway.ErrChannelUnavailable) {
		t.Errorf("subscribe while lost: err = %v, want ErrChannelUnavailable", err)
	}

	if _, err := g.db.Exec("ALTER TABLE changes_offline RENAME TO changes"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !g.feed.available() {
		if time.Now().After(deadline) {
			t.Fatal("feed did not recover")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resub, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventInsert, gateway.Filter{}, func(gateway.Change) {})
	if err != nil {
		t.Fatalf("subscribe after recovery: %v", err)
	}
	resub.Unsubscribe()
}

func TestSubscribeBeforeStart(t *testing.T) {
	g, err := Open(context.Background(), Options{DSN: filepath.Join(t.TempDir(), "inbox.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.Close() }()
	_, err = g.Subscribe(context.Background(), gateway.Notifications, gateway.EventInsert, gateway.Filter{}, func(gateway.Change) {})
	if !errors.Is(err, gateway.ErrChannelUnavailable) {
		t.Errorf("err = %v, want ErrChannelUnavailable", err)
	}
}

func TestParseDialect(t *testing.T) {
	for _, ok := range []string{"sqlite", "postgres"} {
		if _, err := ParseDialect(ok); err != nil {
			t.Errorf("ParseDialect(%q) = %v", ok, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Error("ParseDialect(mysql) should fail")
	}
	if got := Postgres.placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
}

func TestSlowSubscriberOverflows(t *testing.T) {
	saved := subscriptionBuffer
	subscriptionBuffer = 2
	t.Cleanup(func() { subscriptionBuffer = saved })

	g, me := testGateway(t)
	ctx := context.Background()
	release := make(chan struct{})
	sub, err := g.Subscribe(ctx, gateway.Notifications, gateway.EventInsert,
		gateway.Where(gateway.Eq("user_id", me)), func(gateway.Change) { <-release })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	for range 6 {
		if err := g.Insert(ctx, gateway.Notifications, gateway.Row{"user_id": me}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for g.bus.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no change was dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	select {
	case err := <-sub.Err():
		if !errors.Is(err, ErrOverflow) {
			t.Errorf("err = %v, want ErrOverflow", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for overflow error")
	}
}
