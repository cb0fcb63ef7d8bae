package unread

import "github.com/moely/inbox/internal/model"

type op struct {
	contact model.ContactID
	key     string
	clear   bool
}

type recompute struct {
	scope   Scope
	journal []op
}

type state struct {
	rows map[model.ContactID]map[string]struct{}
	held map[model.ContactID]int
	anon uint64

	seq          uint64
	pending      map[uint64]*recompute
	installedAll uint64
	installed    map[model.ContactID]uint64
}

func newState() *state {
	return &state{
		rows:      make(map[model.ContactID]map[string]struct{}),
		held:      make(map[model.ContactID]int),
		pending:   make(map[uint64]*recompute),
		installed: make(map[model.ContactID]uint64),
	}
}

func (s *state) total() int {
	n := 0
	for _, keys := range s.rows {
		n += len(keys)
	}
	return n
}

// apply mutates the live state and journals the op for every pending
// recompute that covers the contact.
func (s *state) apply(o op) {
	s.exec(o)
	for _, r := range s.pending {
		if r.scope.covers(o.contact) {
			r.journal = append(r.journal, o)
		}
	}
}

func (s *state) exec(o op) {
	if o.clear {
		delete(s.rows, o.contact)
		return
	}
	keys := s.rows[o.contact]
	if keys == nil {
		keys = make(map[string]struct{})
		s.rows[o.contact] = keys
	}
	keys[o.key] = struct{}{}
}

func (s *state) begin(scope Scope) uint64 {
	s.seq++
	s.pending[s.seq] = &recompute{scope: scope}
	return s.seq
}

// install replaces the scoped contacts with the tally and replays the journal
// on them. It reports false when the result was stale.
func (s *state) install(token uint64, tally Tally) bool {
	r := s.pending[token]
	delete(s.pending, token)
	if r == nil || s.installedAll > token {
		return false
	}

	replaced := make(map[model.ContactID]bool)
	if r.scope.all {
		targets := make(map[model.ContactID]bool)
		for id := range s.rows {
			targets[id] = true
		}
		for id := range tally {
			targets[id] = true
		}
		for id := range targets {
			if s.installed[id] > token {
				continue
			}
			s.replace(id, tally[id])
			replaced[id] = true
		}
		s.installedAll = token
	} else {
		id := r.scope.contact
		if s.installed[id] > token {
			return false
		}
		s.replace(id, tally[id])
		s.installed[id] = token
		replaced[id] = true
	}

	for _, o := range r.journal {
		if replaced[o.contact] {
			s.exec(o)
		}
	}
	return true
}

// replace installs fetched keys unless the contact is held at zero by a
// pending read-ack.
func (s *state) replace(id model.ContactID, keys []string) {
	if s.held[id] > 0 {
		return
	}
	delete(s.rows, id)
	if len(keys) == 0 {
		return
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	s.rows[id] = set
}
