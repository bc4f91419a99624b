package awareness

import (
	"testing"
	"time"
)

func TestSetLocalStateEmitsOutbound(t *testing.T) {
	a := New("A", Options{})
	var got State
	a.Start(func(s State) { got = s })
	defer a.Stop()

	a.SetLocalState(map[string]interface{}{"cursor": 1})
	if got.ClientID != "A" || got.Clock != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.State["cursor"] != 1 {
		t.Fatalf("missing cursor field: %+v", got.State)
	}
}

func TestUpdateLocalStateMerges(t *testing.T) {
	a := New("A", Options{})
	a.Start(func(State) {})
	defer a.Stop()

	a.SetLocalState(map[string]interface{}{"cursor": 1})
	a.UpdateLocalState(map[string]interface{}{"color": "red"})

	a.mu.Lock()
	local := a.local
	a.mu.Unlock()
	if local["cursor"] != 1 || local["color"] != "red" {
		t.Fatalf("expected merged state, got %+v", local)
	}
}

// TestAwarenessLastWriteWins is the awareness last-write-wins
// property.
func TestAwarenessLastWriteWins(t *testing.T) {
	a := New("receiver", Options{})

	var got State
	a.Subscribe(func(ev Event) {
		if !ev.Removed {
			got = State{ClientID: ev.ClientID, State: ev.State}
		}
	})

	a.HandleRemoteUpdate(State{ClientID: "c", Clock: 1, State: map[string]interface{}{"v": 1}, Timestamp: time.Now()})
	a.HandleRemoteUpdate(State{ClientID: "c", Clock: 3, State: map[string]interface{}{"v": 3}, Timestamp: time.Now()})
	// Stale update (clock 2 < last-seen 3) must be dropped silently.
	a.HandleRemoteUpdate(State{ClientID: "c", Clock: 2, State: map[string]interface{}{"v": 2}, Timestamp: time.Now()})

	if got.State["v"] != 3 {
		t.Fatalf("expected final state to reflect max clock (3), got %+v", got.State)
	}

	final := a.GetRemoteState("c")
	if final == nil || final.Clock != 3 {
		t.Fatalf("expected stored clock 3, got %+v", final)
	}
}

func TestIdempotentRemoteApply(t *testing.T) {
	a := New("receiver", Options{})
	calls := 0
	a.Subscribe(func(ev Event) {
		if !ev.Removed {
			calls++
		}
	})

	s := State{ClientID: "c", Clock: 5, State: map[string]interface{}{"v": 1}, Timestamp: time.Now()}
	a.HandleRemoteUpdate(s)
	a.HandleRemoteUpdate(s)

	if calls != 1 {
		t.Fatalf("expected exactly 1 applied update, got %d", calls)
	}
}

// TestAwarenessGC exercises the awareness GC property: an entry
// whose timestamp has aged past timeout is removed within one
// gcInterval, emitting a removed notification exactly once.
func TestAwarenessGC(t *testing.T) {
	a := New("receiver", Options{GCInterval: 20 * time.Millisecond, Timeout: 30 * time.Millisecond})
	a.Start(func(State) {})
	defer a.Stop()

	removedCount := 0
	removedCh := make(chan struct{}, 1)
	a.Subscribe(func(ev Event) {
		if ev.Removed {
			removedCount++
			select {
			case removedCh <- struct{}{}:
			default:
			}
		}
	})

	a.HandleRemoteUpdate(State{ClientID: "stale", Clock: 1, Timestamp: time.Now().Add(-1 * time.Second)})

	select {
	case <-removedCh:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a removed notification within the GC window")
	}

	if a.GetRemoteState("stale") != nil {
		t.Fatal("stale entry should have been evicted")
	}
	time.Sleep(50 * time.Millisecond)
	if removedCount != 1 {
		t.Fatalf("expected exactly 1 removed notification, got %d", removedCount)
	}
}

func TestStopEmitsFinalEmptyState(t *testing.T) {
	a := New("A", Options{})
	var last State
	a.Start(func(s State) { last = s })
	a.SetLocalState(map[string]interface{}{"cursor": 1})
	a.Stop()

	if len(last.State) != 0 {
		t.Fatalf("expected empty final state, got %+v", last.State)
	}
}
