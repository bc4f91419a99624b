package ot

import (
	"fmt"
	"sync"
	"testing"
)

// fakeBus stands in for the transport layer: Client.send enqueues an
// outgoing batch instead of delivering it immediately, so a test can
// apply several clients' local edits against their own unmodified
// buffers (genuinely concurrent) before
// choosing the order in which the server observes them via drain.
type fakeBus struct {
	mu      sync.Mutex
	server  *Server
	clients map[string]*Client
	nextID  int
	queue   []OutgoingOp
}

func newFakeBus(server *Server) *fakeBus {
	return &fakeBus{server: server, clients: make(map[string]*Client)}
}

func (bus *fakeBus) register(id string, c *Client) { bus.clients[id] = c }

func (bus *fakeBus) send(out OutgoingOp) {
	bus.mu.Lock()
	bus.queue = append(bus.queue, out)
	bus.mu.Unlock()
}

// drain processes every queued batch, in FIFO order, against the
// server and broadcasts each result to every registered client.
func (bus *fakeBus) drain() error {
	for {
		bus.mu.Lock()
		if len(bus.queue) == 0 {
			bus.mu.Unlock()
			return nil
		}
		out := bus.queue[0]
		bus.queue = bus.queue[1:]
		bus.mu.Unlock()

		logged, err := bus.server.ApplyClientOp(out.ID, out.ClientID, out.Revision, out.Ops)
		if err != nil {
			if _, dup := err.(ErrDuplicateOp); dup {
				continue
			}
			return err
		}
		for _, c := range bus.clients {
			if err := c.ApplyRemote(RemoteOp{ClientID: logged.ClientID, Revision: logged.Revision, Ops: logged.Ops}); err != nil {
				return err
			}
		}
	}
}

func (bus *fakeBus) opID() string {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	return fmt.Sprintf("op-%d", bus.nextID)
}

// TestClientServerRoundTrip checks the OT client-server round-trip
// property: a client's pending ops, rebased by the server and
// broadcast back, converge to the server document with no op lost or
// duplicated.
func TestClientServerRoundTrip(t *testing.T) {
	server := NewServer("abc", 1<<20)
	bus := newFakeBus(server)

	x := NewClient("X", 0, "abc", bus.send, bus.opID)
	y := NewClient("Y", 0, "abc", bus.send, bus.opID)
	bus.register("X", x)
	bus.register("Y", y)

	insertX := NewOperationSeq()
	insertX.Retain(1)
	insertX.Insert("X")
	insertX.Retain(2)
	if err := x.ApplyLocal(insertX); err != nil {
		t.Fatalf("x apply local: %v", err)
	}

	deleteY := NewOperationSeq()
	deleteY.Delete(1)
	deleteY.Retain(2)
	if err := y.ApplyLocal(deleteY); err != nil {
		t.Fatalf("y apply local: %v", err)
	}

	if err := bus.drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if server.Text() != x.Text() || server.Text() != y.Text() {
		t.Fatalf("diverged: server=%q x=%q y=%q", server.Text(), x.Text(), y.Text())
	}
	if server.Revision() != 2 {
		t.Fatalf("server revision = %d, want 2", server.Revision())
	}
}

// TestScenario6ConcurrentInsertAndDelete exercises a concrete scenario:
// server starts at "abc"; X inserts "X" at 1, Y concurrently deletes 1
// char at 0; server applies X first (becomes "aXbc", rev 1), then
// rebases Y's delete (positions unchanged since X's insert landed past
// it) and applies it (becomes "Xbc", rev 2); both clients converge to
// "Xbc" at revision 2.
func TestScenario6ConcurrentInsertAndDelete(t *testing.T) {
	server := NewServer("abc", 1<<20)
	bus := newFakeBus(server)

	x := NewClient("X", 0, "abc", bus.send, bus.opID)
	y := NewClient("Y", 0, "abc", bus.send, bus.opID)
	bus.register("X", x)
	bus.register("Y", y)

	insertX := NewOperationSeq()
	insertX.Retain(1)
	insertX.Insert("X")
	insertX.Retain(2)

	deleteY := NewOperationSeq()
	deleteY.Delete(1)
	deleteY.Retain(2)

	// Both local edits are composed against each client's own
	// unmodified "abc" buffer before either reaches the server.
	if err := x.ApplyLocal(insertX); err != nil {
		t.Fatalf("x apply local: %v", err)
	}
	if err := y.ApplyLocal(deleteY); err != nil {
		t.Fatalf("y apply local: %v", err)
	}
	if err := bus.drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if server.Revision() != 2 {
		t.Fatalf("server revision = %d, want 2", server.Revision())
	}
	if server.Text() != "Xbc" {
		t.Fatalf("server text = %q, want Xbc", server.Text())
	}
	if x.Text() != "Xbc" || x.Revision() != 2 {
		t.Fatalf("x converged to (%q, %d), want (Xbc, 2)", x.Text(), x.Revision())
	}
	if y.Text() != "Xbc" || y.Revision() != 2 {
		t.Fatalf("y converged to (%q, %d), want (Xbc, 2)", y.Text(), y.Revision())
	}
}

func TestServerDeduplicatesResentOpID(t *testing.T) {
	server := NewServer("abc", 1<<20)

	op := NewOperationSeq()
	op.Retain(3)
	op.Insert("!")

	if _, err := server.ApplyClientOp("dup-1", "X", 0, op); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := server.ApplyClientOp("dup-1", "X", 0, op); err == nil {
		t.Fatal("expected ErrDuplicateOp on resend")
	} else if _, ok := err.(ErrDuplicateOp); !ok {
		t.Fatalf("expected ErrDuplicateOp, got %T: %v", err, err)
	}
	if server.Revision() != 1 {
		t.Fatalf("revision = %d, want 1 (resend must not reapply)", server.Revision())
	}
}

func TestUndoAppliesInverseWithoutDoublingRedo(t *testing.T) {
	server := NewServer("abc", 1<<20)
	bus := newFakeBus(server)
	x := NewClient("X", 0, "abc", bus.send, bus.opID)
	bus.register("X", x)

	insert := NewOperationSeq()
	insert.Retain(3)
	insert.Insert("!")
	if err := x.ApplyLocal(insert); err != nil {
		t.Fatalf("apply local: %v", err)
	}
	if x.Text() != "abc!" {
		t.Fatalf("got %q, want abc!", x.Text())
	}

	if err := x.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if x.Text() != "abc" {
		t.Fatalf("got %q, want abc", x.Text())
	}
	if len(x.undoStack) != 0 {
		t.Fatalf("undo stack should be drained, has %d entries", len(x.undoStack))
	}
}
