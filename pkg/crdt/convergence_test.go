package crdt

import (
	"math/rand"
	"testing"
)

// TestConvergenceAcrossReplicas is the CRDT convergence
// property: N replicas apply independently-generated local mutations,
// exchange updates in a shuffled order such that every replica
// eventually observes every other replica's update, and all replicas
// must materialize identical text.
func TestConvergenceAcrossReplicas(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const numReplicas = 5
	const opsPerReplica = 8

	docs := make([]*Doc, numReplicas)
	for i := range docs {
		docs[i] = NewDoc(ClientID(string(rune('A' + i))))
	}

	for _, d := range docs {
		text := d.GetText("content")
		for i := 0; i < opsPerReplica; i++ {
			n := text.Length()
			idx := 0
			if n > 0 {
				idx = rng.Intn(n + 1)
			}
			if n > 0 && rng.Intn(3) == 0 {
				delIdx := rng.Intn(n)
				text.Delete(delIdx, 1)
				continue
			}
			text.Insert(idx, string(rune('a'+rng.Intn(26))))
		}
	}

	updates := make([]Update, numReplicas)
	for i, d := range docs {
		updates[i] = d.GetUpdate(nil)
	}

	order := rng.Perm(numReplicas)
	for _, d := range docs {
		for _, j := range order {
			if err := d.ApplyUpdate(updates[j]); err != nil {
				t.Fatalf("apply failed: %v", err)
			}
		}
	}

	want := docs[0].GetText("content").String()
	for i, d := range docs[1:] {
		if got := d.GetText("content").String(); got != want {
			t.Fatalf("replica %d diverged: got %q, want %q", i+1, got, want)
		}
	}
}

// TestIdempotenceOfRepeatedApply is the CRDT idempotence
// property.
func TestIdempotenceOfRepeatedApply(t *testing.T) {
	a := NewDoc("A")
	text := a.GetText("content")
	text.Insert(0, "Hello, World")
	text.Delete(5, 2)

	u := a.GetUpdate(nil)

	b := NewDoc("B")
	once := func() string {
		d := NewDoc("B")
		d.ApplyUpdate(u)
		return d.GetText("content").String()
	}
	want := once()

	for i := 0; i < 3; i++ {
		if err := b.ApplyUpdate(u); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if got := b.GetText("content").String(); got != want {
			t.Fatalf("apply %d: got %q, want %q", i, got, want)
		}
	}
}
