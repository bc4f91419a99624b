// Package crdt implements the convergent replicated document described in
// named Text/Array/Map containers over a flat item store,
// integrated with a YATA-style ordering rule and replicated via
// (items, delete-set) updates.
package crdt

import (
	"errors"
	"fmt"
	"sync"
)

// ErrWrongContainerType is returned when a name already bound to one
// container kind is accessed as another.
var ErrWrongContainerType = errors.New("crdt: name bound to a different container type")

// ErrIntegrationStalled is emitted when a batch of remote items can't
// reach a fixed point because some referent never arrives.
var ErrIntegrationStalled = errors.New("crdt: update could not be integrated: missing referent")

// UpdateListener observes every local mutation and every remote apply.
type UpdateListener func(Update)

// Update is a serializable diff of items plus delete-set ranges, and is
// also used as the in-process delta passed to UpdateListener.
type Update struct {
	Items   []Item
	Deletes DeleteSet
}

// Unsubscribe cancels a listener registration.
type Unsubscribe func()

// Doc is a single CRDT document replica.
type Doc struct {
	mu sync.Mutex

	clientID ClientID
	clock    Clock

	items     map[ItemID]*Item
	sequences map[string][]ItemID // slot key -> items in integration order

	sv StateVector
	ds DeleteSet

	kinds map[string]ContainerKind // parent name -> bound container kind

	pending []Item // items deferred awaiting causal referents

	listeners []UpdateListener

	textListeners  map[string][]func(TextChange)
	arrayListeners map[string][]func(ArrayChange)
	mapListeners   map[string][]func(MapChange)
}

// NewDoc creates an empty document owned by clientID.
func NewDoc(clientID ClientID) *Doc {
	return &Doc{
		clientID:       clientID,
		items:          make(map[ItemID]*Item),
		sequences:      make(map[string][]ItemID),
		sv:             make(StateVector),
		ds:             make(DeleteSet),
		kinds:          make(map[string]ContainerKind),
		textListeners:  make(map[string][]func(TextChange)),
		arrayListeners: make(map[string][]func(ArrayChange)),
		mapListeners:   make(map[string][]func(MapChange)),
	}
}

// ClientID returns the document's owning client identity.
func (d *Doc) ClientID() ClientID { return d.clientID }

// StateVector returns a copy of the current causal frontier.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Clone()
}

// OnUpdate registers a listener invoked after every local mutation and
// remote apply with the effective delta.
func (d *Doc) OnUpdate(fn UpdateListener) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
	idx := len(d.listeners) - 1
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.listeners[idx] = nil
	}
}

func (d *Doc) notify(u Update) {
	for _, fn := range d.listeners {
		if fn != nil {
			fn(u)
		}
	}
}

// bindKind records (or validates) the container kind bound to a parent
// name. Mismatched access is a programmer error.
func (d *Doc) bindKind(parent string, kind ContainerKind) {
	if existing, ok := d.kinds[parent]; ok {
		if existing != kind {
			panic(fmt.Sprintf("%v: %q is bound to %s, not %s", ErrWrongContainerType, parent, existing, kind))
		}
		return
	}
	d.kinds[parent] = kind
}

func (d *Doc) nextID() ItemID {
	id := ItemID{Client: d.clientID, Clock: d.clock}
	d.clock++
	return id
}

func slotKey(parent string, sub *string) string {
	if sub == nil {
		return parent
	}
	return parent + "\x00" + *sub
}

// visibleSequence returns the non-deleted item IDs in a slot, in
// integration order.
func (d *Doc) visibleSequence(slot string) []ItemID {
	seq := d.sequences[slot]
	out := make([]ItemID, 0, len(seq))
	for _, id := range seq {
		it := d.items[id]
		if it != nil && !it.Deleted {
			out = append(out, id)
		}
	}
	return out
}

// GetUpdate returns every item beyond target's recorded clock per
// client, together with the full delete set. With target == nil,
// returns the full document state (used for first-connect catch-up).
func (d *Doc) GetUpdate(target StateVector) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	var items []Item
	for id, it := range d.items {
		if target != nil && target.Has(id.Client, id.Clock+1) {
			continue
		}
		items = append(items, it.clone())
	}
	return Update{Items: items, Deletes: d.ds.Clone()}
}

// ApplyUpdate integrates a remote update.
// Items already present in the document are ignored as
// already-integrated. Out-of-causal-order items are deferred and
// retried to a fixed point; any that still lack a referent when the
// queue stops making progress are kept pending, retried on the next
// ApplyUpdate call, and ErrIntegrationStalled is returned. Items
// integrated earlier in the same call and the update's delete set stay
// applied; the batch is not rolled back.
func (d *Doc) ApplyUpdate(u Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	integrated, err := d.integrateWithDeferral(u.Items)
	d.applyDeleteSet(u.Deletes)

	if len(integrated) > 0 || len(u.Deletes) > 0 {
		d.notify(Update{Items: integrated, Deletes: u.Deletes})
	}
	if err != nil {
		return err
	}
	return nil
}

// localInsertAt inserts content between the visible items at index-1
// and index within the named slot's visible sequence.
func (d *Doc) localInsertAt(parent string, sub *string, index int, content []byte) (Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := slotKey(parent, sub)
	visible := d.visibleSequence(slot)
	if index < 0 || index > len(visible) {
		return Item{}, errors.New("crdt: index out of range")
	}

	var origin, rightOrigin *ItemID
	if index > 0 {
		o := visible[index-1]
		origin = &o
	}
	if index < len(visible) {
		r := visible[index]
		rightOrigin = &r
	}

	id := d.nextID()
	it := Item{ID: id, Origin: origin, RightOrigin: rightOrigin, Parent: parent, ParentSub: sub, Content: content, Length: 1}
	d.integrate(it)

	d.notify(Update{Items: []Item{it}, Deletes: DeleteSet{}})
	return it, nil
}

// localDeleteAt marks the item at a visible index within the named slot
// as deleted and records the deletion in the delete set.
func (d *Doc) localDeleteAt(parent string, sub *string, index int) (Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := slotKey(parent, sub)
	visible := d.visibleSequence(slot)
	if index < 0 || index >= len(visible) {
		return Item{}, errors.New("crdt: index out of range")
	}

	id := visible[index]
	it := d.items[id]
	it.Deleted = true
	d.ds.Add(id.Client, id.Clock, 1)

	deleted := it.clone()
	d.notify(Update{Items: nil, Deletes: DeleteSet{id.Client: []DeleteRange{{Start: id.Clock, Length: 1}}}})
	return deleted, nil
}

// localDeleteAllInSlot marks every currently-visible item in a Map key's
// slot as deleted.
func (d *Doc) localDeleteAllInSlot(parent string, sub *string) []Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := slotKey(parent, sub)
	var deleted []Item
	ds := DeleteSet{}
	for _, id := range d.visibleSequence(slot) {
		it := d.items[id]
		it.Deleted = true
		ds.Add(id.Client, id.Clock, 1)
		deleted = append(deleted, it.clone())
	}
	if len(deleted) > 0 {
		d.notify(Update{Items: nil, Deletes: ds})
	}
	return deleted
}

// winningMapItem returns the visible item with the greatest ItemID
// under the total order for a Map slot, or nil if the key holds nothing.
func (d *Doc) winningMapItem(parent, key string) *Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := slotKey(parent, &key)
	var winner *Item
	for _, id := range d.visibleSequence(slot) {
		it := d.items[id]
		if winner == nil || it.ID.Greater(winner.ID) {
			winner = it
		}
	}
	if winner == nil {
		return nil
	}
	w := winner.clone()
	return &w
}

// mapKeys returns the set of keys with at least one visible item under
// the given parent.
func (d *Doc) mapKeys(parent string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := map[string]bool{}
	var keys []string
	for slot, seq := range d.sequences {
		prefix := parent + "\x00"
		if len(slot) <= len(prefix) || slot[:len(prefix)] != prefix {
			continue
		}
		key := slot[len(prefix):]
		if seen[key] {
			continue
		}
		for _, id := range seq {
			if it := d.items[id]; it != nil && !it.Deleted {
				seen[key] = true
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}
