package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moely/inbox/internal/badge"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/contacts"
	"github.com/moely/inbox/internal/conversation"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/gateway/gwtest"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/realtime"
	"github.com/moely/inbox/internal/status"
)

func startView(t *testing.T, fx *gwtest.Fixture) (*View, *badge.Publisher) {
	t.Helper()
	b := bus.New()
	pub := badge.New(b)
	v := New(fx.GW, b, pub, Options{
		Realtime: realtime.Options{
			BackoffInitial: 10 * time.Millisecond,
			UpdateDebounce: 20 * time.Millisecond,
		},
	}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.Stop)
	waitFor(t, "realtime live", func() bool { return v.Realtime() == status.Live })
	return v, pub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func contactByID(list []model.Contact, id model.ContactID) (model.Contact, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return model.Contact{}, false
}

func TestEmptyLoad(t *testing.T) {
	fx := gwtest.Open(t)
	v, pub := startView(t, fx)

	list := v.Contacts()
	if len(list) != 1 || list[0].ID != model.SystemBot {
		t.Fatalf("contacts = %+v, want only SystemBot", list)
	}
	if list[0].Preview != contacts.DefaultEmptyPreview {
		t.Errorf("preview = %q, want %q", list[0].Preview, contacts.DefaultEmptyPreview)
	}
	if pub.Visible() {
		t.Error("badge visible with nothing unread")
	}
	if v.LoadErr() != nil {
		t.Errorf("LoadErr = %v", v.LoadErr())
	}
}

func TestThreeLiveMessagesFromPeer(t *testing.T) {
	fx := gwtest.Open(t)
	u2 := model.ContactID(fx.Peer(t, "u2", "u2@example.com"))
	fx.Message(t, "", fx.Me, string(u2), "hi u2")
	v, pub := startView(t, fx)

	for _, body := range []string{"one", "two", "three"} {
		fx.Message(t, "", string(u2), fx.Me, body)
	}
	waitFor(t, "count 3", func() bool {
		c, ok := contactByID(v.Contacts(), u2)
		return ok && c.Unread == 3
	})
	if pub.Total() < 3 {
		t.Errorf("badge total = %d, want at least 3", pub.Total())
	}
	c, _ := contactByID(v.Contacts(), u2)
	if c.Preview != "three" {
		t.Errorf("preview = %q, want the third message", c.Preview)
	}
	total, _ := v.Unread()
	if total != pub.Total() {
		t.Errorf("sum %d != published %d", total, pub.Total())
	}
}

func TestOpenMarksReadAndStaysZero(t *testing.T) {
	fx := gwtest.Open(t)
	u2 := model.ContactID(fx.Peer(t, "u2", "u2@example.com"))
	fx.Message(t, "", string(u2), fx.Me, "a")
	fx.Message(t, "", string(u2), fx.Me, "b")
	v, pub := startView(t, fx)
	if pub.Total() != 2 {
		t.Fatalf("badge total = %d, want 2", pub.Total())
	}

	ctx := context.Background()
	if err := v.OpenConversation(ctx, u2); err != nil {
		t.Fatal(err)
	}
	if c, _ := contactByID(v.Contacts(), u2); c.Unread != 0 {
		t.Errorf("count right after open = %d, want 0", c.Unread)
	}
	waitFor(t, "rows read", func() bool {
		return fx.Unread(t, gateway.PrivateMessages, "receiver_id") == 0
	})

	v.Close()
	if err := v.OpenConversation(ctx, u2); err != nil {
		t.Fatal(err)
	}
	if err := v.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if c, _ := contactByID(v.Contacts(), u2); c.Unread != 0 {
		t.Errorf("count after second open = %d, want 0", c.Unread)
	}
	waitFor(t, "badge hidden", func() bool { return !pub.Visible() })
}

func TestSendRoundTripsAfterReload(t *testing.T) {
	fx := gwtest.Open(t)
	u2 := model.ContactID(fx.Peer(t, "u2", "u2@example.com"))
	v, _ := startView(t, fx)
	ctx := context.Background()

	if _, err := v.StartChat(ctx, "u2@example.com"); err != nil {
		t.Fatal(err)
	}
	sent, err := v.Send("see you at 5")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "send confirmed", func() bool {
		for _, e := range v.Transcript() {
			if e.ID == sent.ID && e.Status == model.StatusConfirmed {
				return true
			}
		}
		return false
	})

	if err := v.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	c, ok := contactByID(v.Contacts(), u2)
	if !ok || c.Preview != "see you at 5" {
		t.Errorf("contact after reload = %+v", c)
	}
	v.Close()
	if err := v.OpenConversation(ctx, u2); err != nil {
		t.Fatal(err)
	}
	tr := v.Transcript()
	if len(tr) != 1 || tr[0].Content != "see you at 5" || tr[0].SenderID != fx.Me {
		t.Errorf("transcript after reload = %+v", tr)
	}
}

func TestStartChatRejectsBadTargets(t *testing.T) {
	fx := gwtest.Open(t)
	v, _ := startView(t, fx)
	ctx := context.Background()

	tests := []struct {
		email string
		want  error
	}{
		{"", contacts.ErrEmptyEmail},
		{"nobody@example.com", contacts.ErrUnknownPeer},
		{fx.Email, contacts.ErrSelfTarget},
	}
	for _, tt := range tests {
		if _, err := v.StartChat(ctx, tt.email); !errors.Is(err, tt.want) {
			t.Errorf("StartChat(%q) err = %v, want %v", tt.email, err, tt.want)
		}
	}
	if _, ok := v.Active(); ok {
		t.Error("a rejected chat opened a conversation")
	}
	n, err := fx.GW.Count(ctx, gateway.PrivateMessages, gateway.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rejected chats wrote %d rows", n)
	}
}

func TestSystemConversationIsReadOnly(t *testing.T) {
	fx := gwtest.Open(t)
	fx.Notify(t, "", fx.Me, "Welcome", "")
	v, _ := startView(t, fx)

	if err := v.OpenConversation(context.Background(), model.SystemBot); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Send("hello bot"); !errors.Is(err, conversation.ErrReadOnly) {
		t.Errorf("err = %v, want ErrReadOnly", err)
	}
	if v.Pane() != conversation.Ready {
		t.Errorf("pane = %s, want READY", v.Pane())
	}
}

func TestDeepLinkUnknownContact(t *testing.T) {
	fx := gwtest.Open(t)
	v, _ := startView(t, fx)
	if err := v.OpenConversation(context.Background(), "missing"); !errors.Is(err, contacts.ErrUnknownPeer) {
		t.Errorf("err = %v, want ErrUnknownPeer", err)
	}
}

func TestStoppedView(t *testing.T) {
	fx := gwtest.Open(t)
	v := New(fx.GW, nil, nil, Options{}, nil)
	if err := v.Reload(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Reload err = %v, want ErrNotRunning", err)
	}
	if v.Contacts() != nil || v.Realtime() != status.Closed {
		t.Error("stopped view should expose nothing")
	}
	v.Stop()
}

// slowInserts holds every insert for delay unless its context ends first.
type slowInserts struct {
	gateway.Gateway
	delay time.Duration
}

func (g slowInserts) Insert(ctx context.Context, collection string, row gateway.Row) error {
	select {
	case <-time.After(g.delay):
		return g.Gateway.Insert(ctx, collection, row)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStopFailsPendingSends(t *testing.T) {
	fx := gwtest.Open(t)
	fx.Peer(t, "u2", "u2@example.com")
	b := bus.New()
	v := New(slowInserts{Gateway: fx.GW, delay: 200 * time.Millisecond}, b, nil, Options{
		Realtime: realtime.Options{BackoffInitial: 10 * time.Millisecond},
	}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.Stop)
	waitFor(t, "realtime live", func() bool { return v.Realtime() == status.Live })

	failed, unsubFailed := b.Subscribe(bus.KindSendFailed, 10)
	defer unsubFailed()
	toasts, unsubToasts := b.Subscribe(bus.KindToast, 10)
	defer unsubToasts()

	if _, err := v.StartChat(context.Background(), "u2@example.com"); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := v.Send(text); err != nil {
			t.Fatal(err)
		}
	}
	v.Stop()

	if n := len(failed); n != 3 {
		t.Errorf("message.send_failed events = %d, want 3", n)
	}
	if n := len(toasts); n < 3 {
		t.Errorf("toasts = %d, want at least 3", n)
	}
	n, err := fx.GW.Count(context.Background(), gateway.PrivateMessages, gateway.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("stored rows = %d, want 0", n)
	}
}

// lateSubscribe commits a message from peer while the first channel is being
// opened, before any subscription exists.
type lateSubscribe struct {
	gateway.Gateway
	once sync.Once
	row  gateway.Row
	err  chan error
}

func (g *lateSubscribe) Subscribe(ctx context.Context, collection string, typ gateway.EventType, f gateway.Filter, h gateway.Handler) (gateway.Subscription, error) {
	g.once.Do(func() {
		err := g.Gateway.Insert(ctx, gateway.PrivateMessages, g.row)
		// Let the change feed publish before anyone listens.
		time.Sleep(50 * time.Millisecond)
		g.err <- err
	})
	return g.Gateway.Subscribe(ctx, collection, typ, f, h)
}

func TestMessageBeforeChannelsOpenIsCounted(t *testing.T) {
	fx := gwtest.Open(t)
	u2 := model.ContactID(fx.Peer(t, "u2", "u2@example.com"))
	gw := &lateSubscribe{
		Gateway: fx.GW,
		row:     gateway.Row{"sender_id": string(u2), "receiver_id": fx.Me, "content": "in the gap"},
		err:     make(chan error, 1),
	}
	v := New(gw, nil, nil, Options{
		Realtime: realtime.Options{BackoffInitial: 10 * time.Millisecond},
	}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.Stop)
	if err := <-gw.err; err != nil {
		t.Fatal(err)
	}

	waitFor(t, "realtime live", func() bool { return v.Realtime() == status.Live })
	waitFor(t, "gap message counted", func() bool {
		c, ok := contactByID(v.Contacts(), u2)
		return ok && c.Unread == 1
	})
}

// heldQuery blocks the first query issued after hold until release closes.
type heldQuery struct {
	gateway.Gateway
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *heldQuery) hold() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *heldQuery) Query(ctx context.Context, collection string, q gateway.Query) ([]gateway.Row, error) {
	g.mu.Lock()
	block := g.armed
	g.armed = false
	g.mu.Unlock()
	if block {
		close(g.entered)
		<-g.release
	}
	return g.Gateway.Query(ctx, collection, q)
}

func TestReloadKeepsChatStartedMeanwhile(t *testing.T) {
	fx := gwtest.Open(t)
	u2 := model.ContactID(fx.Peer(t, "u2", "u2@example.com"))
	gw := &heldQuery{Gateway: fx.GW, entered: make(chan struct{}), release: make(chan struct{})}
	v := New(gw, nil, nil, Options{
		Realtime: realtime.Options{BackoffInitial: 10 * time.Millisecond},
	}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.Stop)
	waitFor(t, "realtime live", func() bool { return v.Realtime() == status.Live })
	// Let the initial sync settle so the held query belongs to our reload.
	time.Sleep(100 * time.Millisecond)

	gw.hold()
	reloaded := make(chan error, 1)
	go func() { reloaded <- v.Reload(context.Background()) }()
	<-gw.entered

	if _, err := v.StartChat(context.Background(), "u2@example.com"); err != nil {
		t.Fatal(err)
	}
	close(gw.release)
	if err := <-reloaded; err != nil {
		t.Fatal(err)
	}
	if _, ok := contactByID(v.Contacts(), u2); !ok {
		t.Errorf("contacts = %+v, want the started chat with u2 kept", v.Contacts())
	}
	if a, ok := v.Active(); !ok || a.ID != u2 {
		t.Errorf("active = %+v, want u2", a)
	}
}
