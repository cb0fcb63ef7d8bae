package gateway

// Op is a comparison operator in a filter condition.
type Op string

const (
	OpEq Op = "eq"
	OpIn Op = "in"
)

// Cond compares one field of a row.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Eq matches rows whose field equals v.
func Eq(field string, v any) Cond {
	return Cond{Field: field, Op: OpEq, Value: v}
}

// In matches rows whose field is one of vs.
func In(field string, vs []string) Cond {
	return Cond{Field: field, Op: OpIn, Value: vs}
}

// Filter is the conjunction of Where and, when AnyOf is non-empty, at least one
// of the AnyOf groups (each group itself a conjunction).
type Filter struct {
	Where []Cond
	AnyOf [][]Cond
}

// Where builds a filter from a plain conjunction.
func Where(conds ...Cond) Filter {
	return Filter{Where: conds}
}

// Or returns a copy of f that additionally requires one of the groups to hold.
func (f Filter) Or(groups ...[]Cond) Filter {
	out := Filter{Where: append([]Cond(nil), f.Where...)}
	out.AnyOf = append(out.AnyOf, groups...)
	return out
}

// Fields lists every field the filter references.
func (f Filter) Fields() []string {
	var fields []string
	for _, c := range f.Where {
		fields = append(fields, c.Field)
	}
	for _, g := range f.AnyOf {
		for _, c := range g {
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// Match evaluates the filter against a row in memory.
func (f Filter) Match(r Row) bool {
	if !matchAll(f.Where, r) {
		return false
	}
	if len(f.AnyOf) == 0 {
		return true
	}
	for _, g := range f.AnyOf {
		if matchAll(g, r) {
			return true
		}
	}
	return false
}

func matchAll(conds []Cond, r Row) bool {
	for _, c := range conds {
		if !c.match(r) {
			return false
		}
	}
	return true
}

func (c Cond) match(r Row) bool {
	v, ok := r[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return equal(v, c.Value)
	case OpIn:
		vs, _ := c.Value.([]string)
		s, isStr := v.(string)
		if !isStr {
			return false
		}
		for _, want := range vs {
			if s == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// equal compares scalar row values, treating all integer widths alike.
func equal(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		bi, ok := asInt64(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}
