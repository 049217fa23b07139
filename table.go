//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Endpoint slot table.
//

package wiresim

import "iter"

// table maps small integer slots to attached ports, reusing the
// lowest free slot first so slot numbers stay small and stable.
//
// A table is not safe for concurrent use: the [*Medium] serializes
// access to it.
type table struct {
	// count is the number of occupied slots.
	count int

	// slots maps each slot index to its port, nil when free.
	slots []*port
}

// newTable creates a [*table] with the given number of slots.
func newTable(capacity int) *table {
	return &table{
		count: 0,
		slots: make([]*port, capacity),
	}
}

// add stores pt into the lowest free slot and returns the slot
// index, or [ErrCapacity] when every slot is taken, in which case
// the table is unchanged.
func (t *table) add(pt *port) (int, error) {
	for slot, cur := range t.slots {
		if cur == nil {
			t.slots[slot] = pt
			t.count++
			return slot, nil
		}
	}
	return 0, ErrCapacity
}

// lookup returns the port at the given slot, or nil when the slot is
// free or out of range.
func (t *table) lookup(slot int) *port {
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}
	return t.slots[slot]
}

// remove frees the given slot and returns its former port, or
// [ErrUnknownSlot] when the slot is free or out of range.
func (t *table) remove(slot int) (*port, error) {
	pt := t.lookup(slot)
	if pt == nil {
		return nil, ErrUnknownSlot
	}
	t.slots[slot] = nil
	t.count--
	return pt, nil
}

// len returns the number of occupied slots.
func (t *table) len() int {
	return t.count
}

// all returns an iterator over the occupied slots in ascending slot
// order. Mutating the table while iterating is undefined.
func (t *table) all() iter.Seq2[int, *port] {
	return func(yield func(int, *port) bool) {
		for slot, pt := range t.slots {
			if pt == nil {
				continue
			}
			if !yield(slot, pt) {
				return
			}
		}
	}
}

// reset frees every slot.
func (t *table) reset() {
	for slot := range t.slots {
		t.slots[slot] = nil
	}
	t.count = 0
}
