package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/crdt"
	"github.com/loomroom/loom/pkg/ot"
	"github.com/loomroom/loom/pkg/room"
)

// RoomState is the server-authoritative replica for one room, plus the
// per-connection broadcast fan-out the teacher's Kolabpad used for
// metadata (here, for every envelope). In ModeOT it owns an ot.Server,
// which rebases every inbound op across the log before broadcasting —
// the only component of the pair that needs a rebase. In ModeCRDT it
// owns a plain crdt.Doc: incoming updates are idempotent and
// commutative, so the hub only needs to integrate-and-multicast, never
// rebase.
type RoomState struct {
	mu   sync.Mutex
	mode room.Mode

	otServer *ot.Server
	crdtDoc  *crdt.Doc

	awareness map[string]wire.AwarenessState
	presence  map[string]wire.UserPresenceWire

	subscribers map[uint64]chan wire.Envelope
	nextSubID   atomic.Uint64
	broadcastN  int

	killed   bool
	lastSeen atomic.Int64 // unix nanos
}

func newRoomState(roomID string, mode room.Mode, maxDocumentSize, broadcastBufferSize int) *RoomState {
	rs := &RoomState{
		mode:        mode,
		awareness:   make(map[string]wire.AwarenessState),
		presence:    make(map[string]wire.UserPresenceWire),
		subscribers: make(map[uint64]chan wire.Envelope),
		broadcastN:  broadcastBufferSize,
	}
	switch mode {
	case room.ModeOT:
		rs.otServer = ot.NewServer("", maxDocumentSize)
	case room.ModeCRDT:
		rs.crdtDoc = crdt.NewDoc(crdt.ClientID("server:" + roomID))
	}
	rs.touch()
	return rs
}

func (rs *RoomState) touch() {
	rs.lastSeen.Store(time.Now().UnixNano())
}

func (rs *RoomState) lastActivity() time.Time {
	return time.Unix(0, rs.lastSeen.Load())
}

func (rs *RoomState) subscriberCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.subscribers)
}

// subscribe registers a new fan-out channel for a connection and
// returns it along with the id needed to unsubscribe.
func (rs *RoomState) subscribe() (uint64, <-chan wire.Envelope) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	id := rs.nextSubID.Add(1)
	ch := make(chan wire.Envelope, rs.broadcastN)
	rs.subscribers[id] = ch
	return id, ch
}

func (rs *RoomState) unsubscribe(id uint64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if ch, ok := rs.subscribers[id]; ok {
		delete(rs.subscribers, id)
		close(ch)
	}
}

// broadcast fans env out to every current subscriber except excludeID,
// non-blocking: a full subscriber channel drops the message rather
// than stalling the room, matching the teacher's Kolabpad.broadcast
// select-default pattern.
func (rs *RoomState) broadcast(env wire.Envelope, excludeID uint64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for id, ch := range rs.subscribers {
		if id == excludeID {
			continue
		}
		select {
		case ch <- env:
		default:
		}
	}
}

// broadcastAll is broadcast with no excluded connection, used for the
// OT acknowledgment path where the sender must also receive the
// rebased op back (spec.md §4.3's server protocol step 4).
func (rs *RoomState) broadcastAll(env wire.Envelope) {
	rs.broadcast(env, 0)
}

// kill closes every subscriber channel, ending every connection's
// forwardBroadcast loop.
func (rs *RoomState) kill() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.killed {
		return
	}
	rs.killed = true
	for id, ch := range rs.subscribers {
		close(ch)
		delete(rs.subscribers, id)
	}
}

// rememberAwareness records a client's latest awareness state for
// late-joiner catch-up, applying the same clock-LWW rule as
// pkg/awareness.Awareness.HandleRemoteUpdate.
func (rs *RoomState) rememberAwareness(s wire.AwarenessState) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if existing, ok := rs.awareness[s.ClientID]; ok && s.Clock <= existing.Clock {
		return
	}
	rs.awareness[s.ClientID] = s
}

func (rs *RoomState) rememberPresence(p wire.UserPresenceWire) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.presence[p.ClientID] = p
}

func (rs *RoomState) forgetClient(clientID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.awareness, clientID)
	delete(rs.presence, clientID)
}

// snapshot returns the sync-response payload fields this room can
// currently offer a newly-connecting client.
func (rs *RoomState) snapshot() wire.SyncPayload {
	rs.mu.Lock()
	awarenessList := make([]wire.AwarenessState, 0, len(rs.awareness))
	for _, s := range rs.awareness {
		awarenessList = append(awarenessList, s)
	}
	presenceList := make([]wire.UserPresenceWire, 0, len(rs.presence))
	for _, p := range rs.presence {
		presenceList = append(presenceList, p)
	}
	rs.mu.Unlock()

	payload := wire.SyncPayload{Kind: wire.SyncState, Awareness: awarenessList, Presence: presenceList}

	switch rs.mode {
	case room.ModeCRDT:
		u := updateToWire(rs.crdtDoc.GetUpdate(nil))
		payload.Doc = &u
		sv := stateVectorToWire(rs.crdtDoc.StateVector())
		payload.StateVector = sv
	case room.ModeOT:
		text := rs.otServer.Text()
		rev := rs.otServer.Revision()
		payload.Text = &text
		payload.Revision = &rev
	}
	return payload
}

// applyCRDTUpdate integrates a client's update into the server's
// merge-only replica. CRDT apply is idempotent and commutative, so
// unlike the OT path there is nothing to rebase: the server simply
// keeps a copy converged with every client and relays the update
// unchanged.
func (rs *RoomState) applyCRDTUpdate(u crdt.Update) error {
	return rs.crdtDoc.ApplyUpdate(u)
}

// applyOTOp rebases a client op across the server log via ot.Server
// and returns the LoggedOp to broadcast, or ot.ErrDuplicateOp if the
// op id has already been applied (this hub's answer to spec.md §9's
// open dedup question).
func (rs *RoomState) applyOTOp(opID, clientID string, revision int, ops *ot.OperationSeq) (ot.LoggedOp, error) {
	return rs.otServer.ApplyClientOp(opID, clientID, revision, ops)
}
