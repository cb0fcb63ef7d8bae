package sqlgw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"go.uber.org/zap"
)

const feedBatch = 256

// feed tails the changes table and republishes each committed change on the
// gateway's internal bus as change.<collection>.<op>. A failed poll marks the
// feed lost; subscribers are told and new subscriptions are refused until a
// poll succeeds again.
type feed struct {
	g        *Gateway
	interval time.Duration
	wake     chan struct{}

	mu      sync.Mutex
	cursor  int64
	healthy bool
	ready   bool
}

type changeRecord struct {
	seq        int64
	collection string
	op         string
	rowID      string
}

func newFeed(g *Gateway, interval time.Duration) *feed {
	return &feed{g: g, interval: interval, wake: make(chan struct{}, 1)}
}

// init positions the cursor at the end of the log so only changes committed
// after Start are delivered.
func (f *feed) init(ctx context.Context) error {
	var seq int64
	err := f.g.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM changes").Scan(&seq)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cursor = seq
	f.healthy = true
	f.ready = true
	f.mu.Unlock()
	return nil
}

func (f *feed) available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && f.healthy
}

// kick requests an immediate poll.
func (f *feed) kick() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.ready = false
			f.mu.Unlock()
			return
		case <-ticker.C:
		case <-f.wake:
		}
		f.drain(ctx)
	}
}

// drain polls until the log is exhausted or a poll fails.
func (f *feed) drain(ctx context.Context) {
	for {
		n, err := f.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.markLost(err)
			return
		}
		f.markRestored()
		if n < feedBatch {
			return
		}
	}
}

func (f *feed) poll(ctx context.Context) (int, error) {
	f.mu.Lock()
	cursor := f.cursor
	f.mu.Unlock()

	b := &builder{dialect: f.g.dialect}
	stmt := fmt.Sprintf("SELECT seq, collection, op, row_id FROM changes WHERE seq > %s ORDER BY seq LIMIT %d",
		b.bind(cursor), feedBatch)
	rows, err := f.g.db.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return 0, err
	}
	var batch []changeRecord
	for rows.Next() {
		var rec changeRecord
		if err := rows.Scan(&rec.seq, &rec.collection, &rec.op, &rec.rowID); err != nil {
			_ = rows.Close()
			return 0, err
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, rec := range batch {
		row, err := f.fetch(ctx, rec)
		if err != nil {
			return 0, err
		}
		if row != nil {
			f.g.bus.Publish(bus.NewEvent(topic(rec.collection, gateway.EventType(rec.op)), gateway.Change{
				Collection: rec.collection,
				Type:       gateway.EventType(rec.op),
				New:        row,
			}))
		}
		f.mu.Lock()
		f.cursor = rec.seq
		f.mu.Unlock()
	}
	return len(batch), nil
}

func (f *feed) fetch(ctx context.Context, rec changeRecord) (gateway.Row, error) {
	rows, err := f.g.Query(ctx, rec.collection, gateway.Query{
		Filter: gateway.Where(gateway.Eq("id", rec.rowID)),
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (f *feed) markLost(err error) {
	f.mu.Lock()
	was := f.healthy
	f.healthy = false
	f.mu.Unlock()
	if was {
		f.g.logger.Warn("change feed lost", zap.Error(err))
		f.g.bus.Publish(bus.NewEvent(bus.KindFeedLost, err))
	}
}

func (f *feed) markRestored() {
	f.mu.Lock()
	was := f.healthy
	f.healthy = true
	f.mu.Unlock()
	if !was {
		f.g.logger.Info("change feed restored")
		f.g.bus.Publish(bus.NewEvent(bus.KindFeedRestored, nil))
	}
}

func topic(collection string, typ gateway.EventType) string {
	return bus.KindChangePrefix + collection + "." + string(typ)
}
