// Package status provides table-driven state machines that announce their
// transitions on the bus.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/moely/inbox/internal/bus"
)

// State is one state of a machine.
type State string

// Table lists the states reachable from each state.
type Table map[State][]State

// Realtime channel health.
const (
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// ConnTransitions defines allowed realtime transitions. CLOSED is terminal.
var ConnTransitions = Table{
	Connecting:   {Live, Reconnecting, Closed},
	Live:         {Reconnecting, Closed},
	Reconnecting: {Live, Closed},
}

// Machine tracks and enforces state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	table   Table
	kind    string
	bus     *bus.Bus
}

// NewMachine creates a machine in initial. Each transition is published with
// the given event kind when b is non-nil.
func NewMachine(initial State, table Table, kind string, b *bus.Bus) *Machine {
	return &Machine{
		current: initial,
		table:   table,
		kind:    kind,
		bus:     b,
	}
}

// NewConnMachine creates a realtime health machine starting in CONNECTING.
func NewConnMachine(b *bus.Bus) *Machine {
	return NewMachine(Connecting, ConnTransitions, bus.KindRealtimeStatus, b)
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.table[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(m.kind, Change{From: from, To: to}))
	}
	return nil
}

// Force moves to the state if the transition is allowed and reports whether it
// moved. Repeating the current state is a silent no-op.
func (m *Machine) Force(to State) bool {
	if m.Current() == to {
		return false
	}
	return m.Transition(to) == nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
