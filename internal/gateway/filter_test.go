package gateway

import "testing"

func TestFilterMatch(t *testing.T) {
	row := Row{"user_id": "u1", "is_read": false, "created_at": int64(5), "sender_id": "u2"}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter", Filter{}, true},
		{"eq string", Where(Eq("user_id", "u1")), true},
		{"eq bool", Where(Eq("is_read", false)), true},
		{"eq int width", Where(Eq("created_at", 5)), true},
		{"mismatch", Where(Eq("user_id", "u9")), false},
		{"missing field", Where(Eq("title", "x")), false},
		{"bool vs string", Where(Eq("is_read", "false")), false},
		{"in hit", Where(In("sender_id", []string{"u3", "u2"})), true},
		{"in miss", Where(In("sender_id", []string{"u3"})), false},
		{"any of hit", Where(Eq("user_id", "u1")).Or([]Cond{Eq("sender_id", "u9")}, []Cond{Eq("sender_id", "u2")}), true},
		{"any of miss", Filter{}.Or([]Cond{Eq("sender_id", "u9")}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(row); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrDoesNotAliasWhere(t *testing.T) {
	base := Where(Eq("a", "1"))
	derived := base.Or([]Cond{Eq("b", "2")})
	derived.Where = append(derived.Where, Eq("c", "3"))
	if len(base.Where) != 1 || len(base.AnyOf) != 0 {
		t.Errorf("base mutated: %+v", base)
	}
}

func TestFields(t *testing.T) {
	f := Where(Eq("a", 1)).Or([]Cond{Eq("b", 2), Eq("c", 3)})
	got := f.Fields()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Fields = %v, want [a b c]", got)
	}
}

func TestRowAccessors(t *testing.T) {
	r := Row{"s": "x", "n": 7, "b": true}
	if r.String("s") != "x" || r.String("n") != "" {
		t.Error("String accessor wrong")
	}
	if r.Int64("n") != 7 || r.Int64("s") != 0 {
		t.Error("Int64 accessor wrong")
	}
	if !r.Bool("b") || r.Bool("missing") {
		t.Error("Bool accessor wrong")
	}
	c := r.Clone()
	c["s"] = "y"
	if r.String("s") != "x" {
		t.Error("Clone aliased the original")
	}
}
