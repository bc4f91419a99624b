package hub

import (
	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/crdt"
)

// Like pkg/room/codec.go, this file is the only place in pkg/hub that
// knows about internal/wire's shapes: the hub is the other end of the
// wire protocol (the server-side peer edge), so it needs its own
// translation between wire types and the crdt.Doc it keeps
// server-side.

func itemIDToWire(id crdt.ItemID) wire.ItemID {
	return wire.ItemID{Client: string(id.Client), Clock: uint64(id.Clock)}
}

func itemIDFromWire(id wire.ItemID) crdt.ItemID {
	return crdt.ItemID{Client: crdt.ClientID(id.Client), Clock: crdt.Clock(id.Clock)}
}

func itemToWire(it crdt.Item) wire.Item {
	w := wire.Item{
		ID:        itemIDToWire(it.ID),
		Parent:    it.Parent,
		ParentSub: it.ParentSub,
		Content:   it.Content,
		Deleted:   it.Deleted,
		Length:    uint64(it.Length),
	}
	if it.Origin != nil {
		o := itemIDToWire(*it.Origin)
		w.Origin = &o
	}
	if it.RightOrigin != nil {
		r := itemIDToWire(*it.RightOrigin)
		w.RightOrigin = &r
	}
	return w
}

func itemFromWire(w wire.Item) crdt.Item {
	it := crdt.Item{
		ID:        itemIDFromWire(w.ID),
		Parent:    w.Parent,
		ParentSub: w.ParentSub,
		Content:   w.Content,
		Deleted:   w.Deleted,
		Length:    w.Length,
	}
	if w.Origin != nil {
		o := itemIDFromWire(*w.Origin)
		it.Origin = &o
	}
	if w.RightOrigin != nil {
		r := itemIDFromWire(*w.RightOrigin)
		it.RightOrigin = &r
	}
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
