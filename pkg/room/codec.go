package room

import (
	"time"

	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/awareness"
	"github.com/loomroom/loom/pkg/crdt"
	"github.com/loomroom/loom/pkg/ot"
	"github.com/loomroom/loom/pkg/presence"
)

// This file translates the in-process types owned by pkg/crdt,
// pkg/ot, pkg/awareness, and pkg/presence into the wire shapes defined
// in internal/wire, and back. Those four packages never import
// internal/wire themselves; on the client side Room does the
// translation for them.

func itemIDToWire(id crdt.ItemID) wire.ItemID {
	return wire.ItemID{Client: string(id.Client), Clock: uint64(id.Clock)}
}

func itemIDFromWire(id wire.ItemID) crdt.ItemID {
	return crdt.ItemID{Client: crdt.ClientID(id.Client), Clock: crdt.Clock(id.Clock)}
}

func itemToWire(it crdt.Item) wire.Item {
	w := wire.Item{
		ID:      itemIDToWire(it.ID),
		Parent:  it.Parent,
		Content: it.Content,
		Deleted: it.Deleted,
		Length:  uint64(it.Length),
	}
	if it.Origin != nil {
		o := itemIDToWire(*it.Origin)
		w.Origin = &o
	}
	if it.RightOrigin != nil {
		r := itemIDToWire(*it.RightOrigin)
		w.RightOrigin = &r
	}
	w.ParentSub = it.ParentSub
	return w
}

func itemFromWire(w wire.Item) crdt.Item {
	it := crdt.Item{
		ID:      itemIDFromWire(w.ID),
		Parent:  w.Parent,
		Content: w.Content,
		Deleted: w.Deleted,
		Length:  w.Length,
	}
	if w.Origin != nil {
		o := itemIDFromWire(*w.Origin)
		it.Origin = &o
	}
	if w.RightOrigin != nil {
		r := itemIDFromWire(*w.RightOrigin)
		it.RightOrigin = &r
	}
	it.ParentSub = w.ParentSub
	return it
}

func deleteSetToWire(ds crdt.DeleteSet) map[string][]wire.DeleteRange {
	out := make(map[string][]wire.DeleteRange, len(ds))
	for client, ranges := range ds {
		wr := make([]wire.DeleteRange, len(ranges))
		for i, r := range ranges {
			wr[i] = wire.DeleteRange{Start: uint64(r.Start), Length: uint64(r.Length)}
		}
		out[string(client)] = wr
	}
	return out
}

func deleteSetFromWire(m map[string][]wire.DeleteRange) crdt.DeleteSet {
	ds := make(crdt.DeleteSet, len(m))
	for client, ranges := range m {
		cr := make([]crdt.DeleteRange, len(ranges))
		for i, r := range ranges {
			cr[i] = crdt.DeleteRange{Start: crdt.Clock(r.Start), Length: crdt.Clock(r.Length)}
		}
		ds[crdt.ClientID(client)] = cr
	}
	return ds
}

func updateToWire(u crdt.Update) wire.CRDTUpdate {
	items := make([]wire.Item, len(u.Items))
	for i, it := range u.Items {
		items[i] = itemToWire(it)
	}
	return wire.CRDTUpdate{Items: items, DeleteSet: deleteSetToWire(u.Deletes)}
}

func updateFromWire(w wire.CRDTUpdate) crdt.Update {
	items := make([]crdt.Item, len(w.Items))
	for i, it := range w.Items {
		items[i] = itemFromWire(it)
	}
	return crdt.Update{Items: items, Deletes: deleteSetFromWire(w.DeleteSet)}
}

func stateVectorToWire(sv crdt.StateVector) map[string]uint64 {
	out := make(map[string]uint64, len(sv))
	for client, clock := range sv {
		out[string(client)] = uint64(clock)
	}
	return out
}

func stateVectorFromWire(m map[string]uint64) crdt.StateVector {
	sv := make(crdt.StateVector, len(m))
	for client, clock := range m {
		sv[crdt.ClientID(client)] = crdt.Clock(clock)
	}
	return sv
}

func awarenessStateToWire(s awareness.State) wire.AwarenessState {
	return wire.AwarenessState{
		ClientID:  s.ClientID,
		Clock:     s.Clock,
		State:     s.State,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

func awarenessStateFromWire(w wire.AwarenessState) awareness.State {
	return awareness.State{
		ClientID:  w.ClientID,
		Clock:     w.Clock,
		State:     w.State,
		Timestamp: msToTime(w.Timestamp),
	}
}

func awarenessStatesToWire(states []awareness.State) []wire.AwarenessState {
	out := make([]wire.AwarenessState, len(states))
	for i, s := range states {
		out[i] = awarenessStateToWire(s)
	}
	return out
}

func presenceToWire(p presence.UserPresence) wire.UserPresenceWire {
	return wire.UserPresenceWire{
		ClientID: p.ClientID,
		Name:     p.Name,
		Color:    p.Color,
		Status:   string(p.Status),
		LastSeen: p.LastSeen.UnixMilli(),
	}
}

func presenceFromWire(w wire.UserPresenceWire) presence.UserPresence {
	return presence.UserPresence{
		ClientID: w.ClientID,
		Name:     w.Name,
		Color:    w.Color,
		Status:   presence.Status(w.Status),
		LastSeen: msToTime(w.LastSeen),
	}
}

func presencesToWire(ps []presence.UserPresence) []wire.UserPresenceWire {
	out := make([]wire.UserPresenceWire, len(ps))
	for i, p := range ps {
		out[i] = presenceToWire(p)
	}
	return out
}

func presencePayloadToWire(ev presence.Event) wire.PresencePayload {
	return wire.PresencePayload{
		Type:     wire.PresenceKind(ev.Kind),
		Presence: presenceToWire(ev.Presence),
	}
}

func presenceEventFromWire(w wire.PresencePayload) presence.Event {
	return presence.Event{
		Kind:     string(w.Type),
		Presence: presenceFromWire(w.Presence),
	}
}

// otPayload is the `operation` envelope payload carried in OT mode. It
// reuses OperationSeq's own flat-array MarshalJSON/UnmarshalJSON rather
// than a separate tagged-union op type, since the sequence already
// defines the wire-accurate encoding the rest of the OT engine assumes.
type otPayload struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"clientId"`
	Revision  int              `json:"revision"`
	Ops       *ot.OperationSeq `json:"ops"`
	Timestamp int64            `json:"timestamp"`
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
