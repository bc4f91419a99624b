package presence

import (
	"testing"
	"time"
)

func TestColorForClientIsDeterministic(t *testing.T) {
	c1 := ColorForClient("client-A")
	c2 := ColorForClient("client-A")
	if c1 != c2 {
		t.Fatalf("expected deterministic color, got %q and %q", c1, c2)
	}
	if ColorForClient("client-B") == c1 {
		t.Fatal("expected distinct clients to usually get distinct colors")
	}
}

func TestStartEmitsJoin(t *testing.T) {
	m := New("A", "Alice", "", Options{})
	var got Event
	m.Start(func(e Event) { got = e })
	defer m.Stop()

	if got.Kind != "join" {
		t.Fatalf("expected join event, got %q", got.Kind)
	}
	if got.Presence.Status != StatusOnline {
		t.Fatalf("expected online status, got %q", got.Presence.Status)
	}
	if got.Presence.Color == "" {
		t.Fatal("expected a derived color")
	}
}

func TestStopEmitsLeave(t *testing.T) {
	m := New("A", "Alice", "", Options{})
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })
	m.Start(func(Event) {})
	m.Stop()

	if len(events) < 2 {
		t.Fatalf("expected at least join+leave, got %d events", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != "leave" || last.Presence.Status != StatusOffline {
		t.Fatalf("expected a final leave/offline event, got %+v", last)
	}
}

func TestIdleTransition(t *testing.T) {
	m := New("A", "Alice", "", Options{IdleTimeout: 20 * time.Millisecond, HeartbeatInterval: time.Hour})
	updates := make(chan Event, 4)
	m.Subscribe(func(e Event) {
		if e.Kind == "update" {
			updates <- e
		}
	})
	m.Start(func(Event) {})
	defer m.Stop()

	select {
	case e := <-updates:
		if e.Presence.Status != StatusIdle {
			t.Fatalf("expected idle status, got %q", e.Presence.Status)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected an idle transition")
	}
}

func TestResetIdleRestoresOnline(t *testing.T) {
	m := New("A", "Alice", "", Options{IdleTimeout: 20 * time.Millisecond, HeartbeatInterval: time.Hour})
	updates := make(chan Event, 8)
	m.Subscribe(func(e Event) {
		if e.Kind == "update" {
			updates <- e
		}
	})
	m.Start(func(Event) {})
	defer m.Stop()

	<-updates // wait for the idle transition
	m.ResetIdle()

	select {
	case e := <-updates:
		if e.Presence.Status != StatusOnline {
			t.Fatalf("expected online after reset, got %q", e.Presence.Status)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a restored-online update")
	}
}

func TestRemoteUpdateAndPrune(t *testing.T) {
	m := New("A", "Alice", "", Options{HeartbeatInterval: 20 * time.Millisecond})
	m.HandleRemoteUpdate(Event{Kind: "join", Presence: UserPresence{
		ClientID: "B", Status: StatusOnline, LastSeen: time.Now().Add(-time.Hour),
	}})

	all := m.GetAllPresences()
	found := false
	for _, p := range all {
		if p.ClientID == "B" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected remote presence B to be tracked")
	}

	leaveSeen := make(chan struct{}, 1)
	m.Subscribe(func(e Event) {
		if e.Kind == "leave" && e.Presence.ClientID == "B" {
			select {
			case leaveSeen <- struct{}{}:
			default:
			}
		}
	})
	m.Start(func(Event) {})
	defer m.Stop()

	select {
	case <-leaveSeen:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stale remote presence B to be pruned")
	}
}
