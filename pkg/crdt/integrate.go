package crdt

// ready reports whether an item's origin and rightOrigin (if any) are
// already present in the document, i.e. it can be integrated without
// forward references.
func (d *Doc) ready(it Item) bool {
	if it.Origin != nil {
		if _, ok := d.items[*it.Origin]; !ok {
			return false
		}
	}
	if it.RightOrigin != nil {
		if _, ok := d.items[*it.RightOrigin]; !ok {
			return false
		}
	}
	return true
}

// integrate places item into its slot sequence following the YATA rule
// and registers it in the flat item store.
// Callers must have already verified d.ready(item).
func (d *Doc) integrate(it Item) {
	slot := slotKey(it.Parent, it.ParentSub)
	seq := d.sequences[slot]

	start := 0
	if it.Origin != nil {
		if idx, ok := indexOf(seq, *it.Origin); ok {
			start = idx + 1
		}
	}
	end := len(seq)
	if it.RightOrigin != nil {
		if idx, ok := indexOf(seq, *it.RightOrigin); ok {
			end = idx
		}
	}

	pos := start
	for i := start; i < end; i++ {
		x := seq[i]
		xItem := d.items[x]

		xOriginPos := originPos(seq, xItem.Origin)
		iOriginPos := originPos(seq, it.Origin)

		switch {
		case xOriginPos < iOriginPos:
			// X's origin is strictly to the left of I's origin: I goes before X.
			goto insert
		case xOriginPos == iOriginPos:
			// Tie: break by clientId, lexicographic ascending.
			if xItem.ID.Client < it.ID.Client {
				pos = i + 1
			} else if xr, ir := xItem.RightOrigin, it.RightOrigin; xr == ir || (xr != nil && ir != nil && *xr == *ir) {
				goto insert
			}
		default:
			// X's origin lies in the part of the gap already scanned: I goes
			// after X unless X hangs off an item I already goes before.
			if xOriginPos < pos {
				pos = i + 1
			}
		}
	}

insert:
	seq = append(seq, ItemID{})
	copy(seq[pos+1:], seq[pos:])
	seq[pos] = it.ID
	d.sequences[slot] = seq

	stored := it.clone()
	d.items[it.ID] = &stored
	d.sv.Observe(it.ID.Client, it.ID.Clock+1)
}

// indexOf returns the position of id within seq.
func indexOf(seq []ItemID, id ItemID) (int, bool) {
	for i, x := range seq {
		if x == id {
			return i, true
		}
	}
	return -1, false
}

// originPos returns the position of an (possibly nil) origin reference
// within seq, treating "no origin" (start-of-sequence) as position -1
// so it always compares as leftmost.
func originPos(seq []ItemID, origin *ItemID) int {
	if origin == nil {
		return -1
	}
	if idx, ok := indexOf(seq, *origin); ok {
		return idx
	}
	return -1
}

// integrateWithDeferral integrates a batch of items, deferring any whose
// referents are not yet present and retrying in a fixed-point loop.
// Items already present in the item store are skipped as
// already-integrated, making repeated application of the same update
// idempotent.
func (d *Doc) integrateWithDeferral(items []Item) ([]Item, error) {
	queue := append([]Item{}, d.pending...)
	queue = append(queue, items...)
	d.pending = nil

	var integrated []Item
	for {
		progressed := false
		var stillPending []Item
		for _, it := range queue {
			if _, ok := d.items[it.ID]; ok {
				// Already integrated: idempotent no-op.
				continue
			}
			if !d.ready(it) {
				stillPending = append(stillPending, it)
				continue
			}
			d.integrate(it)
			if d.isMarkedDeleted(it.ID) {
				d.items[it.ID].Deleted = true
			}
			integrated = append(integrated, it)
			progressed = true
		}
		queue = stillPending
		if len(queue) == 0 {
			return integrated, nil
		}
		if !progressed {
			d.pending = queue
			return integrated, ErrIntegrationStalled
		}
	}
}

// applyDeleteSet marks referenced items as deleted. A clock range
// covering an item not yet integrated still applies once that item
// arrives, because d.ds itself is consulted at integration time via
// isMarkedDeleted.
func (d *Doc) applyDeleteSet(ds DeleteSet) {
	d.ds.Merge(ds)
	for client, ranges := range ds {
		for _, r := range ranges {
			for c := r.Start; c < r.Start+r.Length; c++ {
				id := ItemID{Client: client, Clock: c}
				if it, ok := d.items[id]; ok {
					it.Deleted = true
				}
			}
		}
	}
}

// isMarkedDeleted reports whether id falls within the document's delete
// set, used right after integrating a freshly-arrived item so deletes
// that raced ahead of their target still take effect.
func (d *Doc) isMarkedDeleted(id ItemID) bool {
	return d.ds.Contains(id.Client, id.Clock)
}
