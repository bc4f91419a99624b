package crdt

import "testing"

func TestTextInsertDelete(t *testing.T) {
	doc := NewDoc("A")
	text := doc.GetText("content")

	if err := text.Insert(0, "Hello"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := text.String(); got != "Hello" {
		t.Fatalf("got %q, want %q", got, "Hello")
	}

	if err := text.Delete(1, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := text.String(); got != "Ho" {
		t.Fatalf("got %q, want %q", got, "Ho")
	}
}

func TestTextOnChange(t *testing.T) {
	doc := NewDoc("A")
	text := doc.GetText("content")

	var got TextChange
	text.OnChange(func(ch TextChange) { got = ch })

	text.Insert(0, "Hi")
	if got.Index != 0 || got.Inserted != "Hi" {
		t.Fatalf("unexpected change: %+v", got)
	}

	text.Delete(0, 1)
	if got.Index != 0 || got.Deleted != 1 {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestArrayPushAndGet(t *testing.T) {
	doc := NewDoc("A")
	arr := doc.GetArray("tasks")

	if err := arr.Push("Task 1", "Task 2"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if arr.Length() != 2 {
		t.Fatalf("length = %d, want 2", arr.Length())
	}

	var v string
	if err := arr.Get(1, &v); err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "Task 2" {
		t.Fatalf("got %q, want %q", v, "Task 2")
	}
}

func TestArrayDelete(t *testing.T) {
	doc := NewDoc("A")
	arr := doc.GetArray("tasks")
	arr.Push("a", "b", "c")

	if err := arr.Delete(1, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if arr.Length() != 2 {
		t.Fatalf("length = %d, want 2", arr.Length())
	}
	var first, second string
	arr.Get(0, &first)
	arr.Get(1, &second)
	if first != "a" || second != "c" {
		t.Fatalf("got %q,%q want a,c", first, second)
	}
}

func TestMapSetGetDelete(t *testing.T) {
	doc := NewDoc("A")
	m := doc.GetMap("config")

	if err := m.Set("theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	var v string
	ok, err := m.Get("theme", &v)
	if err != nil || !ok || v != "dark" {
		t.Fatalf("got (%v,%v,%q), want (true,nil,dark)", ok, err, v)
	}

	m.Delete("theme")
	if m.Has("theme") {
		t.Fatal("theme should be gone after delete")
	}
}

func TestBindKindMismatchPanics(t *testing.T) {
	doc := NewDoc("A")
	doc.GetText("content")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on container-kind mismatch")
		}
	}()
	doc.GetArray("content")
}

func TestGetUpdateAndApplyUpdateRoundTrip(t *testing.T) {
	a := NewDoc("A")
	b := NewDoc("B")

	textA := a.GetText("content")
	textA.Insert(0, "Hello")

	u := a.GetUpdate(nil)
	if err := b.ApplyUpdate(u); err != nil {
		t.Fatalf("apply: %v", err)
	}

	textB := b.GetText("content")
	if got := textB.String(); got != "Hello" {
		t.Fatalf("got %q, want %q", got, "Hello")
	}
}

func TestApplyUpdateIdempotent(t *testing.T) {
	a := NewDoc("A")
	b := NewDoc("B")

	a.GetText("content").Insert(0, "Hello")
	u := a.GetUpdate(nil)

	if err := b.ApplyUpdate(u); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := b.ApplyUpdate(u); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if got := b.GetText("content").String(); got != "Hello" {
		t.Fatalf("got %q, want %q", got, "Hello")
	}
}

func TestDeleteSetAppliedAheadOfItem(t *testing.T) {
	a := NewDoc("A")
	textA := a.GetText("content")
	textA.Insert(0, "Hello")
	deleteUpdate := a.GetUpdate(nil)
	textA.Delete(0, 1)
	fullUpdate := a.GetUpdate(nil)
	_ = deleteUpdate

	b := NewDoc("B")
	// Apply only the delete-set portion (simulating a delete arriving
	// before the insert it targets) then the items.
	if err := b.ApplyUpdate(Update{Deletes: fullUpdate.Deletes}); err != nil {
		t.Fatalf("apply delete-only: %v", err)
	}
	if err := b.ApplyUpdate(Update{Items: fullUpdate.Items}); err != nil {
		t.Fatalf("apply items: %v", err)
	}

	if got := b.GetText("content").String(); got != "ello" {
		t.Fatalf("got %q, want %q", got, "ello")
	}
}
