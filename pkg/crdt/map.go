package crdt

import "encoding/json"

// Map is a named container scoping operations to items with
// parent == name and a non-nil parentSub. Concurrent writes
// to the same key resolve by total ItemID order, not by
// the origin-based YATA rule used for Text/Array, since a key has no
// meaningful "position" to preserve.
type Map struct {
	doc    *Doc
	parent string
}

// GetMap returns a handle scoped to name, binding it to KindMap for the
// document's lifetime.
func (d *Doc) GetMap(name string) *Map {
	d.mu.Lock()
	d.bindKind(name, KindMap)
	d.mu.Unlock()
	return &Map{doc: d, parent: name}
}

// Has reports whether key currently holds a value.
func (m *Map) Has(key string) bool {
	return m.doc.winningMapItem(m.parent, key) != nil
}

// Get decodes the current winning value for key into out. Returns
// false if key is unset.
func (m *Map) Get(key string, out interface{}) (bool, error) {
	it := m.doc.winningMapItem(m.parent, key)
	if it == nil {
		return false, nil
	}
	if err := json.Unmarshal(it.Content, out); err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns every key currently holding a value, in no particular
// order.
func (m *Map) Keys() []string {
	return m.doc.mapKeys(m.parent)
}

// Set assigns value to key. Any items concurrently written to the same
// key that lose the total-order comparison remain in the store as
// tombstone-free losers, invisible via Get/Keys but still replicated so
// every replica converges on the same winner.
func (m *Map) Set(key string, value interface{}) error {
	content, err := json.Marshal(value)
	if err != nil {
		return err
	}
	sub := key
	if _, err := m.doc.localInsertAt(m.parent, &sub, len(m.doc.visibleSequence(slotKey(m.parent, &sub))), content); err != nil {
		return err
	}
	m.doc.fireMap(m.parent, MapChange{Key: key, Action: "set", Value: value})
	return nil
}

// Delete removes key, marking every current item under that key as
// deleted.
func (m *Map) Delete(key string) {
	sub := key
	deleted := m.doc.localDeleteAllInSlot(m.parent, &sub)
	if len(deleted) > 0 {
		m.doc.fireMap(m.parent, MapChange{Key: key, Action: "delete"})
	}
}

// OnChange subscribes to post-mutation key changes.
func (m *Map) OnChange(fn func(MapChange)) Unsubscribe {
	return m.doc.onMap(m.parent, fn)
}
