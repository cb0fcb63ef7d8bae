package sqlgw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/moely/inbox/internal/gateway"
)

var (
	// ErrImmutableField is returned when an update touches id or created_at.
	ErrImmutableField = errors.New("gateway: field cannot be updated")
	// ErrUnfiltered is returned for an update with an empty filter.
	ErrUnfiltered = errors.New("gateway: update requires a filter")
)

var _ gateway.Gateway = (*Gateway)(nil)

// Session resolves the configured email to a profile.
func (g *Gateway) Session(ctx context.Context) (*gateway.Session, error) {
	if g.email == "" {
		return nil, gateway.ErrNoSession
	}
	id, err := g.profileID(ctx, g.email)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no profile for %s", gateway.ErrNoSession, g.email)
	}
	return &gateway.Session{UserID: id, Email: g.email}, nil
}

// EnsureProfile returns the id of the profile with the given email, creating
// it when missing.
func (g *Gateway) EnsureProfile(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("gateway: empty email")
	}
	id, err := g.profileID(ctx, email)
	if err != nil || id != "" {
		return id, err
	}
	id = uuid.NewString()
	if err := g.Insert(ctx, gateway.Profiles, gateway.Row{"id": id, "email": email}); err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}
	return id, nil
}

func (g *Gateway) profileID(ctx context.Context, email string) (string, error) {
	b := &builder{dialect: g.dialect}
	q := "SELECT id FROM profiles WHERE email = " + b.bind(email)
	var id string
	err := g.db.QueryRowContext(ctx, q, b.args...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup profile: %w", err)
	}
	return id, nil
}

// Query returns matching rows.
func (g *Gateway) Query(ctx context.Context, collection string, q gateway.Query) ([]gateway.Row, error) {
	t, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	b := &builder{dialect: g.dialect}
	stmt, err := b.selectRows(t, q)
	if err != nil {
		return nil, err
	}
	rows, err := g.db.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []gateway.Row
	for rows.Next() {
		dest := t.scanDest()
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, t.toRow(dest))
	}
	return out, rows.Err()
}

// Count returns the number of matching rows.
func (g *Gateway) Count(ctx context.Context, collection string, f gateway.Filter) (int, error) {
	t, err := lookup(collection)
	if err != nil {
		return 0, err
	}
	b := &builder{dialect: g.dialect}
	where, err := b.where(t, f)
	if err != nil {
		return 0, err
	}
	var n int
	if err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name+where, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Insert adds one row. id, created_at and is_read are filled in when absent;
// created_at is always assigned by the gateway.
func (g *Gateway) Insert(ctx context.Context, collection string, row gateway.Row) error {
	t, err := lookup(collection)
	if err != nil {
		return err
	}
	for field := range row {
		if _, err := t.column(field); err != nil {
			return err
		}
	}
	row = row.Clone()
	if row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	if t.realtime {
		row["created_at"] = g.clock.now()
	}

	b := &builder{dialect: g.dialect}
	names := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		v, ok := row[c.name]
		if !ok {
			v = c.zero()
		}
		names[i] = c.name
		marks[i] = b.bind(c.encode(v))
	}
	stmt := "INSERT INTO " + t.name + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	if _, err := g.db.ExecContext(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return nil
}

// Update applies patch to every matching row. is_read may only move to true.
func (g *Gateway) Update(ctx context.Context, collection string, patch gateway.Row, f gateway.Filter) error {
	t, err := lookup(collection)
	if err != nil {
		return err
	}
	if len(f.Where) == 0 && len(f.AnyOf) == 0 {
		return ErrUnfiltered
	}
	names := make([]string, 0, len(patch))
	for field, v := range patch {
		if _, err := t.column(field); err != nil {
			return err
		}
		switch field {
		case "id", "created_at":
			return fmt.Errorf("%w: %s", ErrImmutableField, field)
		case "is_read":
			if read, ok := v.(bool); !ok || !read {
				return gateway.ErrReadRegression
			}
		}
		names = append(names, field)
	}
	if len(names) == 0 {
		return nil
	}

	b := &builder{dialect: g.dialect}
	sets := make([]string, len(names))
	for i, name := range names {
		col, _ := t.column(name)
		sets[i] = name + " = " + b.bind(col.encode(patch[name]))
	}
	where, err := b.where(t, f)
	if err != nil {
		return err
	}
	stmt := "UPDATE " + t.name + " SET " + strings.Join(sets, ", ") + where
	if _, err := g.db.ExecContext(ctx, stmt, b.args...); err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	return nil
}
