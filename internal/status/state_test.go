package status

import (
	"testing"

	"github.com/moely/inbox/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewConnMachine(nil)
	if m.Current() != Connecting {
		t.Errorf("initial state = %s, want CONNECTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Connecting, Live},
		{Connecting, Reconnecting},
		{Connecting, Closed},
		{Live, Reconnecting},
		{Live, Closed},
		{Reconnecting, Live},
		{Reconnecting, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewConnMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewConnMachine(nil)
	walkTo(t, m, Closed)
	for _, to := range []State{Connecting, Live, Reconnecting} {
		if err := m.Transition(to); err == nil {
			t.Errorf("Transition(CLOSED -> %s) should fail", to)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("realtime.", 10)
	defer unsub()

	m := NewConnMachine(b)
	if err := m.Transition(Live); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindRealtimeStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindRealtimeStatus)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Connecting || change.To != Live {
		t.Errorf("change = %v -> %v, want CONNECTING -> LIVE", change.From, change.To)
	}
}

// TestReconnectCycle walks LIVE -> RECONNECTING -> LIVE twice, as happens when
// a channel drops and is resubscribed.
func TestReconnectCycle(t *testing.T) {
	m := NewConnMachine(nil)
	walkTo(t, m, Live)
	for i := 0; i < 2; i++ {
		for _, s := range []State{Reconnecting, Live} {
			if err := m.Transition(s); err != nil {
				t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
			}
		}
	}
}

func TestForceIgnoresRepeats(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("realtime.", 10)
	defer unsub()

	m := NewConnMachine(b)
	if !m.Force(Live) {
		t.Fatal("Force(LIVE) from CONNECTING should move")
	}
	if m.Force(Live) {
		t.Error("Force(LIVE) twice should be a no-op")
	}
	<-ch
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event %v", evt)
	default:
	}
}

func TestCustomTable(t *testing.T) {
	table := Table{"A": {"B"}, "B": {"A"}}
	m := NewMachine("A", table, "test.changed", nil)
	if err := m.Transition("B"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition("C"); err == nil {
		t.Error("Transition(B -> C) should fail")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Connecting:   {},
		Live:         {Live},
		Reconnecting: {Live, Reconnecting},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
