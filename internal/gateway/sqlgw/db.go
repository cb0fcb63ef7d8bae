// Package sqlgw implements the data gateway on top of a SQL database. SQLite is
// used for single-host deployments and tests; PostgreSQL for shared backends.
// Realtime delivery is driven by a trigger-maintained change log.
package sqlgw

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/moely/inbox/internal/bus"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// ParseDialect validates a configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case SQLite, Postgres:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown gateway driver %q (want sqlite or postgres)", s)
	}
}

// Options configures Open.
type Options struct {
	Dialect Dialect
	// DSN is a file path for SQLite and a connection URL for PostgreSQL.
	DSN string
	// Email is the identity the session resolves to.
	Email string
	// PollInterval is how often the change log is read. Defaults to 250ms.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Gateway serves the collections of one database.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
	dsn     string
	email   string
	logger  *zap.Logger
	clock   clock

	feed *feed
	bus  *bus.Bus

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Open connects to the database and runs pending migrations. The change feed
// is not read until Start is called.
func Open(ctx context.Context, opts Options) (*Gateway, error) {
	if opts.Dialect == "" {
		opts.Dialect = SQLite
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}

	dsn := opts.DSN
	if opts.Dialect == SQLite {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open(opts.Dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	g := &Gateway{
		db:      db,
		dialect: opts.Dialect,
		dsn:     opts.DSN,
		email:   opts.Email,
		logger:  opts.Logger.Named("gateway"),
		bus:     bus.New(),
	}
	g.feed = newFeed(g, opts.PollInterval)

	result, err := g.migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	g.logger.Info("database ready",
		zap.String("dialect", string(opts.Dialect)),
		zap.Uint("schema_version", result.Version),
		zap.Bool("migrated", result.Changed))
	return g, nil
}

// Start begins reading the change log. Subscriptions fail with
// ErrChannelUnavailable until Start has succeeded.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	if err := g.feed.init(ctx); err != nil {
		return fmt.Errorf("init change feed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.started = true

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.feed.run(ctx)
	}()
	if g.dialect == Postgres {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.listen(ctx)
		}()
	}
	return nil
}

// Close stops the change feed and closes the database.
func (g *Gateway) Close() error {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.started = false
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
	return g.db.Close()
}

// clock hands out strictly increasing millisecond timestamps so transcript
// order is total even for rows inserted within the same millisecond.
type clock struct {
	mu   sync.Mutex
	last int64
}

func (c *clock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := time.Now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
