package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/moely/inbox/internal/api"
	"github.com/moely/inbox/internal/badge"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/config"
	"github.com/moely/inbox/internal/contacts"
	"github.com/moely/inbox/internal/conversation"
	"github.com/moely/inbox/internal/gateway/sqlgw"
	"github.com/moely/inbox/internal/inbox"
	"github.com/moely/inbox/internal/lock"
	"github.com/moely/inbox/internal/logging"
	"github.com/moely/inbox/internal/outbox"
	"github.com/moely/inbox/internal/realtime"
	"github.com/moely/inbox/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Layout      session.Layout
	SocketPath  string // optional override for testing; empty = use default
	// Console mirrors the log to stderr.
	Console bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideGateway,
			provideBadge,
			provideView,
			provideInboxService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := p.Layout.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return p.Layout.Config(p.SessionName)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    filepath.Join(p.Layout.LogDir(p.SessionName), logging.FileName),
		Session: p.SessionName,
		Console: p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.Layout.Dir(p.SessionName), cfg.Identity.Email)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideGateway(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*sqlgw.Gateway, error) {
	ctx := context.Background()
	gw, err := OpenGateway(ctx, p.Layout, p.SessionName, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Identity.Email != "" && cfg.Identity.AutoRegister {
		id, err := gw.EnsureProfile(ctx, cfg.Identity.Email)
		if err != nil {
			_ = gw.Close()
			return nil, fmt.Errorf("register profile: %w", err)
		}
		logger.Info("profile ready", zap.String("user_id", id))
	}
	return gw, nil
}

// OpenGateway opens the session's configured data service. An empty sqlite
// DSN means the session's own database file.
func OpenGateway(ctx context.Context, l session.Layout, name string, cfg *config.Config, logger *zap.Logger) (*sqlgw.Gateway, error) {
	dialect, err := sqlgw.ParseDialect(cfg.Gateway.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.Gateway.DSN
	if dsn == "" && dialect == sqlgw.SQLite {
		dsn = l.DBPath(name)
	}
	return sqlgw.Open(ctx, sqlgw.Options{
		Dialect:      dialect,
		DSN:          dsn,
		Email:        cfg.Identity.Email,
		PollInterval: cfg.Gateway.PollInterval.Duration,
		Logger:       logger,
	})
}

func provideBadge(b *bus.Bus) *badge.Publisher {
	return badge.New(b)
}

func provideView(cfg *config.Config, gw *sqlgw.Gateway, b *bus.Bus, pub *badge.Publisher, logger *zap.Logger) *inbox.View {
	return inbox.New(gw, b, pub, viewOptions(cfg), logger)
}

func provideInboxService(p Params, view *inbox.View, b *bus.Bus, logger *zap.Logger) *api.InboxService {
	return api.NewInboxService(p.SessionName, view, b, logger)
}

func viewOptions(cfg *config.Config) inbox.Options {
	return inbox.Options{
		Contacts: contacts.Options{
			SystemLabel:  cfg.Contacts.SystemLabel,
			EmptyPreview: cfg.Contacts.EmptyNotifications,
		},
		Conversation: conversation.Options{
			FetchTimeout: cfg.Conversation.FetchTimeout.Duration,
			AckTimeout:   cfg.Conversation.AckTimeout.Duration,
		},
		Outbox: outbox.Options{
			Policy:      outbox.Policy(cfg.Conversation.SendFailurePolicy),
			MaxAttempts: cfg.Conversation.SendMaxAttempts,
			Timeout:     cfg.Conversation.FetchTimeout.Duration,
		},
		Realtime: realtime.Options{
			BackoffInitial: cfg.Realtime.BackoffInitial.Duration,
			BackoffMax:     cfg.Realtime.BackoffMax.Duration,
			UpdateDebounce: cfg.Realtime.UpdateDebounce.Duration,
			Timeout:        cfg.Conversation.FetchTimeout.Duration,
		},
	}
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, gw *sqlgw.Gateway, view *inbox.View, pub *badge.Publisher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gw.Start(context.Background()); err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.View.OpenOnStart {
				// A daemon without a signed-in user still serves the API;
				// EnterView can be retried once the profile exists.
				if err := view.Start(ctx); err != nil {
					logger.Warn("view not started", zap.Error(err))
				}
			}
			if !view.Running() {
				seedBadge(ctx, gw, pub, logger)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			view.Stop()
			srv.Stop(ctx)
			err := gw.Close()
			if relErr := lk.Release(); relErr != nil {
				logger.Warn("error releasing lock", zap.Error(relErr))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return err
		},
	})
}

// seedBadge shows the unread total while the view is not running.
func seedBadge(ctx context.Context, gw *sqlgw.Gateway, pub *badge.Publisher, logger *zap.Logger) {
	sess, err := gw.Session(ctx)
	if err != nil {
		return
	}
	if _, err := pub.Bootstrap(ctx, gw, sess.UserID); err != nil {
		logger.Warn("badge bootstrap failed", zap.Error(err))
	}
}
