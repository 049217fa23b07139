//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Half-duplex byte pipe.
//

package wiresim

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/rbmk-project/wiresim/ringbuf"
)

// pipe is one direction of an attachment: a bounded byte queue with
// blocking I/O, deadlines, an independent half close for each side,
// and occupancy hooks for readiness tracking.
//
// The zero value is invalid; construct using [newPipe].
type pipe struct {
	// mu protects ring and serializes the occupancy hooks, so
	// their invocation order matches the occupancy transitions.
	mu sync.Mutex

	// onDrained, if not nil, runs under mu whenever a read leaves
	// or finds the queue empty.
	onDrained func()

	// onReadable, if not nil, runs under mu whenever a write makes
	// the queue transition from empty to non-empty.
	onReadable func()

	// rd is the read deadline.
	rd *deadline

	// rdone is closed when the read side shuts down.
	rdone chan struct{}

	// rdoneOnce ensures we close rdone just once.
	rdoneOnce sync.Once

	// ring is the bounded byte queue.
	ring *ringbuf.Ring

	// rwait pings a blocked [*pipe.Read] after a write.
	rwait chan struct{}

	// wd is the write deadline.
	wd *deadline

	// wdone is closed when the write side shuts down.
	wdone chan struct{}

	// wdoneOnce ensures we close wdone just once.
	wdoneOnce sync.Once

	// wwait pings a blocked [*pipe.Write] after a read.
	wwait chan struct{}
}

// newPipe creates a [*pipe] queueing up to capacity bytes.
func newPipe(capacity int) (*pipe, error) {
	ring, err := ringbuf.New(capacity)
	if err != nil {
		return nil, err
	}
	p := &pipe{
		mu:         sync.Mutex{},
		onDrained:  nil,
		onReadable: nil,
		rd:         newDeadline(),
		rdone:      make(chan struct{}),
		rdoneOnce:  sync.Once{},
		ring:       ring,
		rwait:      make(chan struct{}, 1),
		wd:         newDeadline(),
		wdone:      make(chan struct{}),
		wdoneOnce:  sync.Once{},
		wwait:      make(chan struct{}, 1),
	}
	return p, nil
}

// Read moves bytes out of the pipe into buf. Read blocks until at
// least one byte is available, then returns how many bytes it moved,
// which may be less than len(buf). Read fails with [net.ErrClosed]
// after [*pipe.closeRead], [io.EOF] once the pipe is empty after
// [*pipe.closeWrite], and [os.ErrDeadlineExceeded] when the read
// deadline expires.
func (p *pipe) Read(buf []byte) (int, error) {
	if len(buf) <= 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		switch {
		case isClosedChan(p.rdone):
			p.mu.Unlock()
			return 0, net.ErrClosed
		case isClosedChan(p.rd.Wait()):
			p.mu.Unlock()
			return 0, os.ErrDeadlineExceeded
		}
		if count := p.ring.TryRead(buf); count > 0 {
			if p.ring.IsEmpty() && p.onDrained != nil {
				p.onDrained()
			}
			p.mu.Unlock()
			p.wakeWriter()
			return count, nil
		}
		if isClosedChan(p.wdone) {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if p.onDrained != nil {
			p.onDrained()
		}
		p.mu.Unlock()
		select {
		case <-p.rwait:
		case <-p.rdone:
		case <-p.wdone:
		case <-p.rd.Wait():
		}
	}
}

// tryRead moves up to len(buf) bytes out of the pipe without ever
// blocking. It returns (0, nil) when no bytes are pending, and fails
// with [io.EOF] when additionally the write side is shut down and
// with [net.ErrClosed] after [*pipe.closeRead]. A tryRead observing
// the pipe empty always runs the onDrained hook, so stale readiness
// heals on the first drain.
func (p *pipe) tryRead(buf []byte) (int, error) {
	p.mu.Lock()
	if isClosedChan(p.rdone) {
		p.mu.Unlock()
		return 0, net.ErrClosed
	}
	count := p.ring.TryRead(buf)
	if p.ring.IsEmpty() && p.onDrained != nil {
		p.onDrained()
	}
	eof := count <= 0 && isClosedChan(p.wdone)
	p.mu.Unlock()
	if count > 0 {
		p.wakeWriter()
	}
	if eof {
		return 0, io.EOF
	}
	return count, nil
}

// Write copies data into the pipe, blocking while the queue is full,
// and returns once every byte is queued. Write fails with
// [net.ErrClosed] after [*pipe.closeWrite], with [EPIPE] after
// [*pipe.closeRead], and with [os.ErrDeadlineExceeded] when the
// write deadline expires, in each case returning how many bytes it
// queued before failing.
func (p *pipe) Write(data []byte) (int, error) {
	var written int
	for {
		p.mu.Lock()
		switch {
		case isClosedChan(p.wdone):
			p.mu.Unlock()
			return written, net.ErrClosed
		case isClosedChan(p.rdone):
			p.mu.Unlock()
			return written, EPIPE
		case isClosedChan(p.wd.Wait()):
			p.mu.Unlock()
			return written, os.ErrDeadlineExceeded
		}
		if count := p.ring.TryWrite(data[written:]); count > 0 {
			if p.ring.Len() == count && p.onReadable != nil {
				p.onReadable()
			}
			written += count
			p.mu.Unlock()
			p.wakeReader()
			if written >= len(data) {
				return written, nil
			}
			continue
		}
		if len(data) <= 0 {
			p.mu.Unlock()
			return 0, nil
		}
		p.mu.Unlock()
		select {
		case <-p.wwait:
		case <-p.wdone:
		case <-p.rdone:
		case <-p.wd.Wait():
		}
	}
}

// tryWrite copies data into the pipe without ever blocking. When
// data does not fit whole, tryWrite copies nothing and fails with
// [ENOBUFS], so the queue never contains a truncated transmission.
// It fails like [*pipe.Write] when a side is shut down.
func (p *pipe) tryWrite(data []byte) (int, error) {
	p.mu.Lock()
	switch {
	case isClosedChan(p.wdone):
		p.mu.Unlock()
		return 0, net.ErrClosed
	case isClosedChan(p.rdone):
		p.mu.Unlock()
		return 0, EPIPE
	}
	if p.ring.Free() < len(data) {
		p.mu.Unlock()
		return 0, ENOBUFS
	}
	count := p.ring.TryWrite(data)
	if count > 0 && p.ring.Len() == count && p.onReadable != nil {
		p.onReadable()
	}
	p.mu.Unlock()
	if count > 0 {
		p.wakeReader()
	}
	return count, nil
}

// closeRead shuts down the read side: reads fail with
// [net.ErrClosed], writes fail with [EPIPE], and the backing queue
// is released along with any bytes still inside it. closeRead is
// idempotent.
func (p *pipe) closeRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rdoneOnce.Do(func() {
		close(p.rdone)
		p.ring.Close()
	})
}

// closeWrite shuts down the write side: writes fail with
// [net.ErrClosed] while reads drain the remaining bytes and then get
// [io.EOF]. closeWrite is idempotent.
func (p *pipe) closeWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wdoneOnce.Do(func() {
		close(p.wdone)
	})
}

// wakeReader pings a blocked [*pipe.Read], if any.
func (p *pipe) wakeReader() {
	select {
	case p.rwait <- struct{}{}:
	default:
	}
}

// wakeWriter pings a blocked [*pipe.Write], if any.
func (p *pipe) wakeWriter() {
	select {
	case p.wwait <- struct{}{}:
	default:
	}
}
