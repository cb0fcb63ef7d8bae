package sqlgw

import (
	"database/sql"
	"fmt"

	"github.com/moely/inbox/internal/gateway"
)

type kind int

const (
	kindText kind = iota
	kindInt
	kindBool
)

type column struct {
	name string
	kind kind
}

type table struct {
	name    string
	columns []column
	// realtime tables carry created_at/is_read and feed the change log.
	realtime bool
}

var tables = map[string]*table{
	gateway.Profiles: {
		name: gateway.Profiles,
		columns: []column{
			{"id", kindText},
			{"email", kindText},
		},
	},
	gateway.Notifications: {
		name: gateway.Notifications,
		columns: []column{
			{"id", kindText},
			{"user_id", kindText},
			{"title", kindText},
			{"content", kindText},
			{"created_at", kindInt},
			{"is_read", kindBool},
		},
		realtime: true,
	},
	gateway.PrivateMessages: {
		name: gateway.PrivateMessages,
		columns: []column{
			{"id", kindText},
			{"sender_id", kindText},
			{"receiver_id", kindText},
			{"content", kindText},
			{"created_at", kindInt},
			{"is_read", kindBool},
		},
		realtime: true,
	},
}

func lookup(collection string) (*table, error) {
	t, ok := tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownCollection, collection)
	}
	return t, nil
}

func (t *table) column(name string) (column, error) {
	for _, c := range t.columns {
		if c.name == name {
			return c, nil
		}
	}
	return column{}, fmt.Errorf("%w: %s.%s", gateway.ErrUnknownField, t.name, name)
}

func (t *table) has(name string) bool {
	_, err := t.column(name)
	return err == nil
}

// scanDest allocates typed scan targets for every column in order.
func (t *table) scanDest() []any {
	dest := make([]any, len(t.columns))
	for i, c := range t.columns {
		switch c.kind {
		case kindInt:
			dest[i] = new(sql.NullInt64)
		case kindBool:
			dest[i] = new(sql.NullBool)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	return dest
}

func (t *table) toRow(dest []any) gateway.Row {
	r := make(gateway.Row, len(t.columns))
	for i, c := range t.columns {
		switch v := dest[i].(type) {
		case *sql.NullInt64:
			r[c.name] = v.Int64
		case *sql.NullBool:
			r[c.name] = v.Bool
		case *sql.NullString:
			r[c.name] = v.String
		}
	}
	return r
}

// zero is the stored default for a column absent from an insert.
func (c column) zero() any {
	switch c.kind {
	case kindInt:
		return int64(0)
	case kindBool:
		return false
	default:
		return ""
	}
}
