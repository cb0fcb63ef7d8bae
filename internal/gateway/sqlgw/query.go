package sqlgw

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moely/inbox/internal/gateway"
)

// builder accumulates bind arguments while rendering a statement.
type builder struct {
	dialect Dialect
	args    []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.placeholder(len(b.args))
}

// where renders f as a WHERE clause (with leading space) or "" when f is empty.
func (b *builder) where(t *table, f gateway.Filter) (string, error) {
	var parts []string
	for _, c := range f.Where {
		s, err := b.cond(t, c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(f.AnyOf) > 0 {
		var groups []string
		for _, g := range f.AnyOf {
			var conj []string
			for _, c := range g {
				s, err := b.cond(t, c)
				if err != nil {
					return "", err
				}
				conj = append(conj, s)
			}
			groups = append(groups, "("+strings.Join(conj, " AND ")+")")
		}
		parts = append(parts, "("+strings.Join(groups, " OR ")+")")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (b *builder) cond(t *table, c gateway.Cond) (string, error) {
	col, err := t.column(c.Field)
	if err != nil {
		return "", err
	}
	switch c.Op {
	case gateway.OpEq:
		return col.name + " = " + b.bind(col.encode(c.Value)), nil
	case gateway.OpIn:
		vs, ok := c.Value.([]string)
		if !ok {
			return "", fmt.Errorf("gateway: IN on %s needs a string list", col.name)
		}
		if len(vs) == 0 {
			return "1 = 0", nil
		}
		marks := make([]string, len(vs))
		for i, v := range vs {
			marks[i] = b.bind(v)
		}
		return col.name + " IN (" + strings.Join(marks, ", ") + ")", nil
	default:
		return "", fmt.Errorf("gateway: unsupported operator %q", c.Op)
	}
}

// encode normalises integer widths before binding.
func (c column) encode(v any) any {
	if c.kind == kindInt {
		if n, ok := v.(int); ok {
			return int64(n)
		}
	}
	return v
}

func (t *table) selectList() string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

func (b *builder) selectRows(t *table, q gateway.Query) (string, error) {
	where, err := b.where(t, q.Filter)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(t.selectList())
	sb.WriteString(" FROM ")
	sb.WriteString(t.name)
	sb.WriteString(where)
	if q.Order != nil {
		col, err := t.column(q.Order.Field)
		if err != nil {
			return "", err
		}
		dir := " ASC"
		if q.Order.Desc {
			dir = " DESC"
		}
		sb.WriteString(" ORDER BY " + col.name + dir + ", id" + dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), nil
}
