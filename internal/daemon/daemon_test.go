package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moely/inbox/internal/api"
	"github.com/moely/inbox/internal/config"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/lock"
	"github.com/moely/inbox/internal/outbox"
	"github.com/moely/inbox/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// tempLayout uses /tmp for short socket paths (macOS 104-char limit).
func tempLayout(t *testing.T, email string) session.Layout {
	t.Helper()
	tmpDir, err := os.MkdirTemp("/tmp", "inbox-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	l := session.Layout{Base: tmpDir}
	if err := l.EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Identity.Email = email
	cfg.Gateway.PollInterval = config.Duration{Duration: 10 * time.Millisecond}
	if err := config.Save(l.SessionConfigPath("test"), cfg); err != nil {
		t.Fatal(err)
	}
	return l
}

// TestFxModuleWiring verifies the fx graph resolves, the daemon serves its
// socket and the view is entered on start.
func TestFxModuleWiring(t *testing.T) {
	l := tempLayout(t, "me@example.com")
	app := fxtest.New(t, Module(Params{SessionName: "test", Layout: l}))
	app.RequireStart()
	defer app.RequireStop()

	if _, err := os.Stat(l.SocketPath("test")); err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	info, err := lock.Inspect(l.Dir("test"))
	if err != nil {
		t.Fatalf("lock not recorded: %v", err)
	}
	if info.Email != "me@example.com" {
		t.Errorf("lock email = %q", info.Email)
	}

	c, err := api.Dial(l.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if !resp.Fields["running"].GetBoolValue() || resp.Fields["user_id"].GetStringValue() == "" {
		t.Errorf("status = %v, want a running view with a user", resp.AsMap())
	}
	if _, err := os.Stat(filepath.Join(l.Dir("test"), "inbox.db")); err != nil {
		t.Errorf("session database missing: %v", err)
	}
}

// TestDaemonWithoutIdentityStillServes covers first start before an email is
// configured: the API is up but the view stays stopped.
func TestDaemonWithoutIdentityStillServes(t *testing.T) {
	l := tempLayout(t, "")
	app := fxtest.New(t, Module(Params{SessionName: "test", Layout: l}))
	app.RequireStart()
	defer app.RequireStop()

	c, err := api.Dial(l.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	resp, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fields["running"].GetBoolValue() {
		t.Error("view running without an identity")
	}
}

func TestSecondDaemonIsRefused(t *testing.T) {
	l := tempLayout(t, "me@example.com")
	first := fxtest.New(t, Module(Params{SessionName: "test", Layout: l}))
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(fx.NopLogger, Module(Params{SessionName: "test", Layout: l, SocketPath: filepath.Join(l.Base, "other.sock")}))
	var held *lock.HeldError
	if !errors.As(second.Err(), &held) {
		t.Fatalf("second daemon err = %v, want HeldError", second.Err())
	}
}

func TestViewOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Conversation.SendFailurePolicy = "retract"
	cfg.Contacts.SystemLabel = "Alerts"
	opts := viewOptions(cfg)
	if opts.Outbox.Policy != outbox.Retract {
		t.Errorf("policy = %q, want retract", opts.Outbox.Policy)
	}
	if opts.Contacts.SystemLabel != "Alerts" {
		t.Errorf("label = %q", opts.Contacts.SystemLabel)
	}
	if opts.Realtime.UpdateDebounce != cfg.Realtime.UpdateDebounce.Duration {
		t.Errorf("debounce = %v", opts.Realtime.UpdateDebounce)
	}
}

func TestBadgeSeededWhenViewClosed(t *testing.T) {
	l := tempLayout(t, "me@example.com")
	cfg, err := l.Config("test")
	if err != nil {
		t.Fatal(err)
	}
	cfg.View.OpenOnStart = false
	if err := config.Save(l.SessionConfigPath("test"), cfg); err != nil {
		t.Fatal(err)
	}

	// Seed one unread notification before the daemon starts.
	ctx := context.Background()
	gw, err := OpenGateway(ctx, l, "test", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	me, err := gw.EnsureProfile(ctx, "me@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := gw.Insert(ctx, gateway.Notifications, gateway.Row{"user_id": me, "title": "Welcome"}); err != nil {
		t.Fatal(err)
	}
	_ = gw.Close()

	app := fxtest.New(t, Module(Params{SessionName: "test", Layout: l}))
	app.RequireStart()
	defer app.RequireStop()

	c, err := api.Dial(l.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	resp, err := c.Unread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fields["total"].GetNumberValue() != 1 {
		t.Errorf("unread = %v, want the seeded total 1", resp.AsMap())
	}
	status, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Fields["running"].GetBoolValue() {
		t.Error("view started with open_on_start = false")
	}
}
