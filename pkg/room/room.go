// Package room composes one client's transport, document engine,
// awareness, and presence into the single facade an application talks
// to: connect once, edit the document, watch peers come and go.
package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/awareness"
	"github.com/loomroom/loom/pkg/crdt"
	"github.com/loomroom/loom/pkg/logger"
	"github.com/loomroom/loom/pkg/ot"
	"github.com/loomroom/loom/pkg/presence"
	"github.com/loomroom/loom/pkg/transport"
)

// Mode selects which document engine a Room runs. A room is
// constructed in one mode and never switches: CRDT and OT documents
// are never combined in the same room.
type Mode int

const (
	ModeCRDT Mode = iota
	ModeOT
)

// Config constructs a Room.
type Config struct {
	ClientID  string
	RoomID    string
	Name      string // presence display name
	Color     string // presence color; derived from ClientID if empty
	Transport transport.Transport

	Awareness awareness.Options
	Presence  presence.Options

	// MaxDocumentSize bounds an OT room's document length in runes.
	// Ignored in CRDT mode. Default 1 << 20.
	MaxDocumentSize int
}

// Room is one client's view of a single collaborative document.
type Room struct {
	mu sync.Mutex

	clientID string
	roomID   string
	mode     Mode

	transport transport.Transport
	awareness *awareness.Awareness
	presence  *presence.Manager

	doc             *crdt.Doc  // set in ModeCRDT
	otClient        *ot.Client // set in ModeOT, after first sync response
	maxDocumentSize int

	cursorListeners []func(wire.CursorPayload)
	errListeners    []func(string)

	ready     chan struct{}
	readyOnce sync.Once

	unsub []transport.Unsubscribe
}

// NewCRDTRoom builds a room backed by a convergent document.
func NewCRDTRoom(cfg Config) *Room {
	r := newRoom(cfg, ModeCRDT)
	r.doc = crdt.NewDoc(crdt.ClientID(cfg.ClientID))
	return r
}

// NewOTRoom builds a room backed by an operational-transformation
// document. The OT client itself isn't constructed until the first
// sync response supplies the server's current (text, revision) —
// until then, ApplyLocalOp returns an error.
func NewOTRoom(cfg Config) *Room {
	r := newRoom(cfg, ModeOT)
	r.maxDocumentSize = cfg.MaxDocumentSize
	if r.maxDocumentSize <= 0 {
		r.maxDocumentSize = 1 << 20
	}
	return r
}

func newRoom(cfg Config, mode Mode) *Room {
	return &Room{
		clientID:  cfg.ClientID,
		roomID:    cfg.RoomID,
		mode:      mode,
		transport: cfg.Transport,
		awareness: awareness.New(cfg.ClientID, cfg.Awareness),
		presence:  presence.New(cfg.ClientID, cfg.Name, cfg.Color, cfg.Presence),
		ready:     make(chan struct{}),
	}
}

// Mode reports which document engine this room runs.
func (r *Room) Mode() Mode { return r.mode }

// Doc returns the CRDT document for direct Text/Array/Map access. Nil
// outside ModeCRDT.
func (r *Room) Doc() *crdt.Doc { return r.doc }

// Ready is closed once the initial sync response has been applied,
// meaning Doc()/OTText() reflect the room's current state.
func (r *Room) Ready() <-chan struct{} { return r.ready }

// Connect wires up awareness/presence outbound delivery, subscribes to
// inbound envelopes, opens the transport, and requests an initial
// sync. Safe to call again, e.g. after reconnect attempts are
// exhausted: later calls only call the transport's Connect, which
// decides whether a fresh dial is needed.
func (r *Room) Connect() error {
	if r.unsub != nil {
		return r.transport.Connect()
	}
	r.awareness.Start(func(s awareness.State) {
		r.transport.Send(wire.MsgAwareness, awarenessStateToWire(s))
	})
	r.presence.Start(func(ev presence.Event) {
		r.transport.Send(wire.MsgPresence, presencePayloadToWire(ev))
	})

	r.unsub = append(r.unsub,
		r.transport.On(transport.EventMessage, r.handleEnvelope),
		r.transport.On(transport.EventConnect, func(transport.Event) {
			if err := r.sendSyncRequest(); err != nil {
				logger.Warn("room: send sync request: %v", err)
			}
		}),
	)

	return r.transport.Connect()
}

// Close tears down presence/awareness (emitting a final leave/empty
// state to peers) and disconnects the transport.
func (r *Room) Close() {
	r.presence.Stop()
	r.awareness.Stop()
	r.transport.Disconnect()
	for _, u := range r.unsub {
		u()
	}
}

// Awareness returns the room's awareness tracker, for direct
// SetLocalState/Subscribe use beyond the cursor convenience API.
func (r *Room) Awareness() *awareness.Awareness { return r.awareness }

// Presence returns the room's presence manager.
func (r *Room) Presence() *presence.Manager { return r.presence }

// SetCursor publishes the local caret position via awareness.
func (r *Room) SetCursor(line, column int) {
	r.awareness.UpdateLocalState(map[string]interface{}{
		"cursor": map[string]interface{}{"line": line, "column": column},
	})
}

// OnCursor subscribes to cursor decorations, whether they arrive as a
// dedicated cursor envelope or are derived from a peer's awareness
// state.
func (r *Room) OnCursor(fn func(wire.CursorPayload)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursorListeners = append(r.cursorListeners, fn)

	r.awareness.Subscribe(func(ev awareness.Event) {
		if ev.Removed {
			return
		}
		if cp, ok := cursorFromAwareness(ev.ClientID, ev.State); ok {
			fn(cp)
		}
	})
}

// OnError subscribes to non-fatal errors surfaced by the peer.
func (r *Room) OnError(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errListeners = append(r.errListeners, fn)
}

// ApplyLocalOp submits a local OT edit. Valid only in ModeOT and only
// once the room has synced (see Ready).
func (r *Room) ApplyLocalOp(op *ot.OperationSeq) error {
	r.mu.Lock()
	client := r.otClient
	r.mu.Unlock()
	if client == nil {
		return fmt.Errorf("room: not an OT room, or not yet synced")
	}
	if n := op.TargetLen(); n > uint64(r.maxDocumentSize) {
		return fmt.Errorf("room: target length %d exceeds maximum of %d runes", n, r.maxDocumentSize)
	}
	return client.ApplyLocal(op)
}

// OTText returns the OT document's current local buffer. Empty
// outside ModeOT or before sync.
func (r *Room) OTText() string {
	r.mu.Lock()
	client := r.otClient
	r.mu.Unlock()
	if client == nil {
		return ""
	}
	return client.Text()
}

// withLocalCRDTUpdate runs fn (a mutation against r.doc), then
// broadcasts the items beyond the state vector taken before fn,
// together with the document's full delete set (not only the deletes fn
// made). Nothing is sent when there are no such items and the delete
// set is empty. Remote updates are applied without going through here,
// so applying one never triggers a rebroadcast loop.
func (r *Room) withLocalCRDTUpdate(fn func()) {
	before := r.doc.StateVector()
	fn()
	update := r.doc.GetUpdate(before)
	if len(update.Items) == 0 && len(update.Deletes) == 0 {
		return
	}
	r.transport.Send(wire.MsgOperation, updateToWire(update))
}

// InsertText inserts s into the named Text container at index and
// broadcasts the resulting update. CRDT mode only.
func (r *Room) InsertText(container string, index int, s string) error {
	var err error
	r.withLocalCRDTUpdate(func() {
		err = r.doc.GetText(container).Insert(index, s)
	})
	return err
}

// DeleteText removes length characters from the named Text container
// starting at index and broadcasts the resulting update. CRDT mode
// only.
func (r *Room) DeleteText(container string, index, length int) error {
	var err error
	r.withLocalCRDTUpdate(func() {
		err = r.doc.GetText(container).Delete(index, length)
	})
	return err
}

// sendSyncRequest asks the peer for catch-up state.
func (r *Room) sendSyncRequest() error {
	return r.transport.Send(wire.MsgSync, wire.SyncPayload{Kind: wire.SyncRequest})
}

func (r *Room) handleEnvelope(ev transport.Event) {
	env := ev.Envelope
	switch env.Type {
	case wire.MsgSync:
		r.handleSync(env)
	case wire.MsgAwareness:
		var payload wire.AwarenessState
		if err := env.Unmarshal(&payload); err != nil {
			logger.Warn("room: decode awareness: %v", err)
			return
		}
		r.awareness.HandleRemoteUpdate(awarenessStateFromWire(payload))
	case wire.MsgPresence:
		var payload wire.PresencePayload
		if err := env.Unmarshal(&payload); err != nil {
			logger.Warn("room: decode presence: %v", err)
			return
		}
		r.presence.HandleRemoteUpdate(presenceEventFromWire(payload))
	case wire.MsgOperation:
		r.handleOperation(env)
	case wire.MsgCursor:
		var payload wire.CursorPayload
		if err := env.Unmarshal(&payload); err != nil {
			logger.Warn("room: decode cursor: %v", err)
			return
		}
		r.fireCursor(payload)
	case wire.MsgPing:
		r.transport.Send(wire.MsgPong, struct{}{})
	case wire.MsgError:
		var payload wire.ErrorPayload
		if err := env.Unmarshal(&payload); err == nil {
			r.fireError(payload.Message)
		}
	}
}

func (r *Room) handleOperation(env wire.Envelope) {
	switch r.mode {
	case ModeCRDT:
		var payload wire.CRDTUpdate
		if err := env.Unmarshal(&payload); err != nil {
			logger.Warn("room: decode crdt update: %v", err)
			return
		}
		if err := r.doc.ApplyUpdate(updateFromWire(payload)); err != nil {
			logger.Warn("room: apply remote update: %v", err)
		}
	case ModeOT:
		var payload otPayload
		if err := env.Unmarshal(&payload); err != nil {
			logger.Warn("room: decode ot operation: %v", err)
			return
		}
		r.mu.Lock()
		client := r.otClient
		r.mu.Unlock()
		if client == nil {
			logger.Warn("room: ot operation before sync")
			return
		}
		remote := ot.RemoteOp{ClientID: payload.ClientID, Revision: payload.Revision, Ops: payload.Ops}
		if err := client.ApplyRemote(remote); err != nil {
			logger.Warn("room: apply remote op: %v", err)
		}
	}
}

func (r *Room) handleSync(env wire.Envelope) {
	var payload wire.SyncPayload
	if err := env.Unmarshal(&payload); err != nil {
		logger.Warn("room: decode sync: %v", err)
		return
	}

	switch payload.Kind {
	case wire.SyncRequest:
		r.respondToSync()
	case wire.SyncState:
		r.applySyncState(payload)
	}
}

// respondToSync answers a peer's sync request with this room's
// current catch-up state. Used by symmetric, same-process peers
// (BroadcastTransport); a server-authoritative hub room answers
// through its own RoomState instead.
func (r *Room) respondToSync() {
	payload := wire.SyncPayload{Kind: wire.SyncState, Awareness: awarenessStatesToWire(r.awareness.GetAllStates())}
	if r.mode == ModeCRDT && r.doc != nil {
		u := updateToWire(r.doc.GetUpdate(nil))
		payload.Doc = &u
		sv := stateVectorToWire(r.doc.StateVector())
		payload.StateVector = sv
	}
	if r.mode == ModeOT {
		r.mu.Lock()
		client := r.otClient
		r.mu.Unlock()
		if client != nil {
			text := client.Text()
			rev := client.Revision()
			payload.Text = &text
			payload.Revision = &rev
		}
	}
	r.transport.Send(wire.MsgSync, payload)
}

func (r *Room) applySyncState(payload wire.SyncPayload) {
	switch r.mode {
	case ModeCRDT:
		if payload.Doc != nil {
			if err := r.doc.ApplyUpdate(updateFromWire(*payload.Doc)); err != nil {
				logger.Warn("room: apply sync update: %v", err)
			}
		}
	case ModeOT:
		if payload.Text != nil && payload.Revision != nil {
			r.mu.Lock()
			if r.otClient == nil {
				r.otClient = ot.NewClient(r.clientID, *payload.Revision, *payload.Text, r.sendOT, r.nextOpID)
			}
			r.mu.Unlock()
		}
	}

	if len(payload.Awareness) > 0 {
		states := make([]awareness.State, len(payload.Awareness))
		for i, s := range payload.Awareness {
			states[i] = awarenessStateFromWire(s)
		}
		r.awareness.ApplyStates(states)
	}
	for _, p := range payload.Presence {
		if p.ClientID == r.clientID {
			continue
		}
		r.presence.HandleRemoteUpdate(presence.Event{Kind: "update", Presence: presenceFromWire(p)})
	}

	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Room) sendOT(out ot.OutgoingOp) {
	r.transport.Send(wire.MsgOperation, otPayload{
		ID:       out.ID,
		ClientID: out.ClientID,
		Revision: out.Revision,
		Ops:      out.Ops,
	})
}

func (r *Room) nextOpID() string {
	return uuid.New().String()
}

func (r *Room) fireCursor(cp wire.CursorPayload) {
	r.mu.Lock()
	fns := append([]func(wire.CursorPayload){}, r.cursorListeners...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(cp)
	}
}

func (r *Room) fireError(msg string) {
	r.mu.Lock()
	fns := append([]func(string){}, r.errListeners...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
