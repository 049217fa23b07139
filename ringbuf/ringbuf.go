// SPDX-License-Identifier: GPL-3.0-or-later

// Package ringbuf implements a bounded FIFO queue of bytes.
//
// A [*Ring] tracks its occupancy with an explicit counter rather than
// by comparing cursors, so a full ring and an empty ring are never
// ambiguous and every allocated byte is usable.
package ringbuf

import (
	"errors"

	"github.com/rbmk-project/common/runtimex"
)

// ErrCapacity means the requested capacity is not positive.
var ErrCapacity = errors.New("ringbuf: capacity must be positive")

// Ring is a bounded FIFO queue of bytes backed by a circular array.
// Writes beyond the available free space are truncated rather than
// overwriting unread bytes.
//
// A Ring is not safe for concurrent use: callers sharing a Ring
// across goroutines provide their own locking.
//
// Construct using [New].
type Ring struct {
	// buf is the backing array.
	buf []byte

	// count is the number of unread bytes inside buf.
	count int

	// rpos is the index of the next byte to read.
	rpos int

	// wpos is the index of the next byte to write.
	wpos int
}

// New creates a [*Ring] holding up to capacity bytes. New returns
// [ErrCapacity] when capacity is zero or negative.
func New(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrCapacity
	}
	ring := &Ring{
		buf:   make([]byte, capacity),
		count: 0,
		rpos:  0,
		wpos:  0,
	}
	return ring, nil
}

// Cap returns the total capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of unread bytes.
func (r *Ring) Len() int {
	return r.count
}

// Free returns the number of bytes the ring still accepts.
func (r *Ring) Free() int {
	return len(r.buf) - r.count
}

// IsEmpty returns whether the ring contains no unread bytes.
func (r *Ring) IsEmpty() bool {
	return r.count <= 0
}

// Items returns how many complete items of the given size currently
// sit inside the ring. Items panics if itemSize is not positive.
func (r *Ring) Items(itemSize int) int {
	runtimex.Assert(itemSize > 0, "ringbuf: itemSize must be positive")
	return r.count / itemSize
}

// TryWrite copies as many bytes of data as fit into the ring and
// returns how many it accepted, which is zero when the ring is full
// and less than len(data) when data does not fit entirely. TryWrite
// never blocks and never overwrites unread bytes.
func (r *Ring) TryWrite(data []byte) int {
	count := min(len(data), r.Free())
	if count <= 0 {
		return 0
	}
	first := min(count, len(r.buf)-r.wpos)
	copy(r.buf[r.wpos:], data[:first])
	copy(r.buf, data[first:count]) // wrap around
	r.wpos = (r.wpos + count) % len(r.buf)
	r.count += count
	return count
}

// TryRead moves up to len(buf) bytes out of the ring into buf and
// returns how many bytes it moved, which is zero when the ring is
// empty. TryRead never blocks.
func (r *Ring) TryRead(buf []byte) int {
	count := min(len(buf), r.count)
	if count <= 0 {
		return 0
	}
	first := min(count, len(r.buf)-r.rpos)
	copy(buf[:first], r.buf[r.rpos:])
	copy(buf[first:count], r.buf) // wrap around
	r.rpos = (r.rpos + count) % len(r.buf)
	r.count -= count
	return count
}

// Close releases the backing array and resets the cursors, after
// which the ring reads and writes zero bytes. Close is idempotent,
// is safe to call on a nil receiver, and never fails.
func (r *Ring) Close() error {
	if r != nil {
		r.buf = nil
		r.count = 0
		r.rpos = 0
		r.wpos = 0
	}
	return nil
}
