package crdt

import (
	"errors"
	"strings"
)

// Text is a named container scoping operations to items with
// parent == name, materializing a linear character sequence.
type Text struct {
	doc    *Doc
	parent string
}

// GetText returns a handle scoped to name, binding it to KindText for
// the document's lifetime.
func (d *Doc) GetText(name string) *Text {
	d.mu.Lock()
	d.bindKind(name, KindText)
	d.mu.Unlock()
	return &Text{doc: d, parent: name}
}

// Length returns the number of visible characters.
func (t *Text) Length() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return len(t.doc.visibleSequence(slotKey(t.parent, nil)))
}

// String materializes the current text.
func (t *Text) String() string {
	t.doc.mu.Lock()
	slot := slotKey(t.parent, nil)
	ids := t.doc.visibleSequence(slot)
	var b strings.Builder
	for _, id := range ids {
		b.Write(t.doc.items[id].Content)
	}
	t.doc.mu.Unlock()
	return b.String()
}

// Insert inserts s at index.
func (t *Text) Insert(index int, s string) error {
	for i, r := range []rune(s) {
		if _, err := t.doc.localInsertAt(t.parent, nil, index+i, []byte(string(r))); err != nil {
			return err
		}
	}
	if len(s) > 0 {
		t.doc.fireText(t.parent, TextChange{Index: index, Inserted: s})
	}
	return nil
}

// Delete removes length characters starting at index.
func (t *Text) Delete(index, length int) error {
	for i := 0; i < length; i++ {
		if _, err := t.doc.localDeleteAt(t.parent, nil, index); err != nil {
			return err
		}
	}
	if length > 0 {
		t.doc.fireText(t.parent, TextChange{Index: index, Deleted: length})
	}
	return nil
}

// DeltaOp is one insert/delete/retain step of a delta applied via
// ApplyDelta. Attributes are carried through to subscribers but are not
// merged or persisted per item.
type DeltaOp struct {
	Retain     int
	Insert     string
	Delete     int
	Attributes map[string]interface{}
}

// ApplyDelta applies a sequence of insert/delete/retain ops, in order,
// against the current text.
func (t *Text) ApplyDelta(ops []DeltaOp) error {
	cursor := 0
	for _, op := range ops {
		switch {
		case op.Retain > 0:
			cursor += op.Retain
		case op.Insert != "":
			if err := t.Insert(cursor, op.Insert); err != nil {
				return err
			}
			cursor += len([]rune(op.Insert))
		case op.Delete > 0:
			if err := t.Delete(cursor, op.Delete); err != nil {
				return err
			}
		default:
			return errors.New("crdt: empty delta op")
		}
	}
	return nil
}

// OnChange subscribes to post-mutation text deltas.
func (t *Text) OnChange(fn func(TextChange)) Unsubscribe {
	return t.doc.onText(t.parent, fn)
}
