package hub

import (
	"fmt"
	"net/http"

	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/logger"
	"github.com/loomroom/loom/pkg/ot"
	"github.com/loomroom/loom/pkg/room"
	"github.com/loomroom/loom/pkg/transport"
)

// otWireOp is the `operation` envelope payload in ModeOT, matching
// pkg/room/codec.go's unexported otPayload shape byte-for-byte so
// clients built on pkg/room.NewOTRoom interoperate with this hub
// without a third definition of the same wire shape.
type otWireOp struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"clientId"`
	Revision  int              `json:"revision"`
	Ops       *ot.OperationSeq `json:"ops"`
	Timestamp int64            `json:"timestamp"`
}

// ServeWS upgrades r to a websocket, wires it into the named room, and
// blocks until the connection closes. Adapted from the teacher's
// Server.handleSocket + Connection.Handle, generalized from a single
// rustpad document to LOOM's dual CRDT/OT rooms plus awareness/presence
// relay, and restructured around transport.WSTransport's event
// callbacks instead of a hand-rolled read loop.
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request, roomID, clientID string) error {
	t, err := transport.UpgradeHTTP(w, r, transport.Options{RoomID: roomID, ClientID: clientID})
	if err != nil {
		return fmt.Errorf("hub: upgrade: %w", err)
	}

	rs := h.getOrCreateRoom(roomID)
	subID, feed := rs.subscribe()
	logger.WithFields(logger.Fields{"room": roomID, "client": clientID}).Info("hub: connection opened")

	done := make(chan struct{})
	t.On(transport.EventDisconnect, func(transport.Event) { close(done) })
	t.On(transport.EventMessage, func(ev transport.Event) {
		handleInbound(rs, t, subID, ev.Envelope)
	})

	go forwardBroadcast(t, feed)

	rs.touch()
	sendSync(rs, t)

	<-done
	rs.unsubscribe(subID)
	rs.forgetClient(clientID)
	rs.broadcastAll(leaveEnvelope(roomID, clientID))
	logger.WithFields(logger.Fields{"room": roomID, "client": clientID}).Info("hub: connection closed")
	return nil
}

// forwardBroadcast relays the room's fan-out channel onto the wire
// until it is closed (room killed) or the transport itself tears down
// (Send on a torn-down WSTransport is a harmless no-op, matching the
// teacher's "skip if subscriber channel is full/closed" resilience).
func forwardBroadcast(t *transport.WSTransport, feed <-chan wire.Envelope) {
	for env := range feed {
		t.SendEnvelope(env)
	}
}

func sendSync(rs *RoomState, t *transport.WSTransport) {
	t.Send(wire.MsgSync, rs.snapshot())
}

func handleInbound(rs *RoomState, t *transport.WSTransport, subID uint64, env wire.Envelope) {
	rs.touch()
	switch env.Type {
	case wire.MsgSync:
		var payload wire.SyncPayload
		if err := env.Unmarshal(&payload); err == nil && payload.Kind == wire.SyncRequest {
			sendSync(rs, t)
		}
	case wire.MsgOperation:
		handleOperation(rs, t, subID, env)
	case wire.MsgAwareness:
		var a wire.AwarenessState
		if err := env.Unmarshal(&a); err != nil {
			logger.Warn("hub: decode awareness: %v", err)
			return
		}
		rs.rememberAwareness(a)
		rs.broadcast(env, subID)
	case wire.MsgPresence:
		var p wire.PresencePayload
		if err := env.Unmarshal(&p); err != nil {
			logger.Warn("hub: decode presence: %v", err)
			return
		}
		if p.Type == wire.PresenceLeave {
			rs.forgetClient(p.Presence.ClientID)
		} else {
			rs.rememberPresence(p.Presence)
		}
		rs.broadcast(env, subID)
	case wire.MsgCursor:
		rs.broadcast(env, subID)
	case wire.MsgPing:
		t.Send(wire.MsgPong, struct{}{})
	}
}

func handleOperation(rs *RoomState, t *transport.WSTransport, subID uint64, env wire.Envelope) {
	switch rs.mode {
	case room.ModeCRDT:
		var w wire.CRDTUpdate
		if err := env.Unmarshal(&w); err != nil {
			logger.Warn("hub: decode crdt update: %v", err)
			return
		}
		if err := rs.applyCRDTUpdate(updateFromWire(w)); err != nil {
			logger.Warn("hub: apply crdt update: %v", err)
			sendError(t, err)
			return
		}
		// CRDT apply is idempotent/commutative: the sender doesn't need
		// the update echoed back, unlike OT's ack.
		rs.broadcast(env, subID)

	case room.ModeOT:
		var op otWireOp
		if err := env.Unmarshal(&op); err != nil {
			logger.Warn("hub: decode ot op: %v", err)
			return
		}
		logged, err := rs.applyOTOp(op.ID, op.ClientID, op.Revision, op.Ops)
		if err != nil {
			if _, dup := err.(ot.ErrDuplicateOp); dup {
				logger.Debug("hub: dropping duplicate op %q", op.ID)
				return
			}
			logger.Warn("hub: apply ot op: %v", err)
			sendError(t, err)
			return
		}
		out := otWireOp{ID: logged.ID, ClientID: logged.ClientID, Revision: logged.Revision, Ops: logged.Ops}
		rebroadcast, err := wire.New(wire.MsgOperation, env.RoomID, env.ClientID, out)
		if err != nil {
			logger.Warn("hub: encode rebased op: %v", err)
			return
		}
		rs.broadcastAll(rebroadcast)
	}
}

func sendError(t *transport.WSTransport, cause error) {
	t.Send(wire.MsgError, wire.ErrorPayload{Message: cause.Error()})
}

func leaveEnvelope(roomID, clientID string) wire.Envelope {
	payload := wire.PresencePayload{Type: wire.PresenceLeave, Presence: wire.UserPresenceWire{ClientID: clientID}}
	env, _ := wire.New(wire.MsgPresence, roomID, clientID, payload)
	return env
}
