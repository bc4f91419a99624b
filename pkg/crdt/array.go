package crdt

import (
	"encoding/json"
	"errors"
)

// Array is a named container scoping operations to items with
// parent == name, materializing an ordered sequence of opaque values.
// Each element is stored as one item holding its JSON-marshaled value,
// so concurrent inserts interleave under the same YATA rule used for
// Text.
type Array struct {
	doc    *Doc
	parent string
}

// GetArray returns a handle scoped to name, binding it to KindArray for
// the document's lifetime.
func (d *Doc) GetArray(name string) *Array {
	d.mu.Lock()
	d.bindKind(name, KindArray)
	d.mu.Unlock()
	return &Array{doc: d, parent: name}
}

// Length returns the number of visible elements.
func (a *Array) Length() int {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	return len(a.doc.visibleSequence(slotKey(a.parent, nil)))
}

// Get decodes the element at index into out.
func (a *Array) Get(index int, out interface{}) error {
	a.doc.mu.Lock()
	slot := slotKey(a.parent, nil)
	visible := a.doc.visibleSequence(slot)
	if index < 0 || index >= len(visible) {
		a.doc.mu.Unlock()
		return errors.New("crdt: index out of range")
	}
	content := a.doc.items[visible[index]].Content
	a.doc.mu.Unlock()
	return json.Unmarshal(content, out)
}

// Values decodes every visible element in order.
func (a *Array) Values() ([]json.RawMessage, error) {
	a.doc.mu.Lock()
	slot := slotKey(a.parent, nil)
	visible := a.doc.visibleSequence(slot)
	out := make([]json.RawMessage, len(visible))
	for i, id := range visible {
		out[i] = append(json.RawMessage{}, a.doc.items[id].Content...)
	}
	a.doc.mu.Unlock()
	return out, nil
}

// Insert inserts values starting at index.
func (a *Array) Insert(index int, values ...interface{}) error {
	decoded := make([]interface{}, len(values))
	for i, v := range values {
		content, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := a.doc.localInsertAt(a.parent, nil, index+i, content); err != nil {
			return err
		}
		decoded[i] = v
	}
	if len(values) > 0 {
		a.doc.fireArray(a.parent, ArrayChange{Index: index, Inserted: decoded})
	}
	return nil
}

// Push appends values to the end of the array.
func (a *Array) Push(values ...interface{}) error {
	return a.Insert(a.Length(), values...)
}

// Delete removes length elements starting at index.
func (a *Array) Delete(index, length int) error {
	for i := 0; i < length; i++ {
		if _, err := a.doc.localDeleteAt(a.parent, nil, index); err != nil {
			return err
		}
	}
	if length > 0 {
		a.doc.fireArray(a.parent, ArrayChange{Index: index, Deleted: length})
	}
	return nil
}

// OnChange subscribes to post-mutation array deltas.
func (a *Array) OnChange(fn func(ArrayChange)) Unsubscribe {
	return a.doc.onArray(a.parent, fn)
}
