//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Endpoint and port: the two halves of an attachment.
//

package wiresim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Addr is the bus address of an endpoint.
type Addr struct {
	// Bus is the medium name.
	Bus string

	// Slot is the endpoint slot, or negative for the bus itself.
	Slot int
}

var _ net.Addr = Addr{}

// Network implements [net.Addr].
func (a Addr) Network() string {
	return "wire"
}

// String implements [net.Addr].
func (a Addr) String() string {
	if a.Slot < 0 {
		return a.Bus
	}
	return fmt.Sprintf("%s:%d", a.Bus, a.Slot)
}

// port is the medium-facing half of an attachment: propagation ticks
// drain pending bytes out of the inbound pipe and deliver relayed
// bytes into the outbound pipe.
type port struct {
	// inbound carries bytes from the endpoint to the medium.
	inbound *pipe

	// outbound carries bytes from the medium to the endpoint.
	outbound *pipe

	// slot is the table slot of this attachment.
	slot int
}

// drain moves up to len(buf) pending bytes from the endpoint into
// buf without ever blocking, returning (0, nil) when none are
// pending.
func (pt *port) drain(buf []byte) (int, error) {
	return pt.inbound.tryRead(buf)
}

// deliver queues data for the endpoint to read. A zero timeout
// blocks until the endpoint queue has space, a positive timeout
// additionally fails with [os.ErrDeadlineExceeded] after that long,
// and a negative timeout never blocks and fails with [ENOBUFS] when
// data does not fit whole. Canceling ctx unblocks deliver, which
// then fails with the context error.
func (pt *port) deliver(ctx context.Context, data []byte, timeout time.Duration) error {
	if timeout < 0 {
		_, err := pt.outbound.tryWrite(data)
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	// Arming the deadline also clears any stale expiry left over
	// from a previously canceled context.
	pt.outbound.wd.Set(deadline)
	stop := context.AfterFunc(ctx, func() {
		pt.outbound.wd.Set(time.Now())
	})
	defer stop()
	if _, err := pt.outbound.Write(data); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Close shuts down the medium-facing half: pending inbound bytes are
// discarded, endpoint writes fail with [EPIPE], and endpoint reads
// drain the outbound queue and then get [io.EOF]. Close is
// idempotent and never fails.
func (pt *port) Close() error {
	pt.inbound.closeRead()
	pt.outbound.closeWrite()
	return nil
}

// Endpoint is the external half of an attachment: a [net.Conn] whose
// writes enter the medium and whose reads return the bytes the
// medium relayed from the other attached endpoints.
//
// Bytes written here reach the other endpoints only when a
// propagation tick runs; see [*Medium.Propagate] and [*Medium.Run].
//
// An Endpoint is safe for concurrent use.
type Endpoint struct {
	// inbound carries bytes from the endpoint to the medium.
	inbound *pipe

	// laddr is the endpoint address.
	laddr Addr

	// outbound carries bytes from the medium to the endpoint.
	outbound *pipe
}

var _ net.Conn = &Endpoint{}

// Read implements [net.Conn]. Read blocks until the medium relays
// bytes to this endpoint and fails with [os.ErrDeadlineExceeded]
// past the read deadline. Read returns [io.EOF] once the queue
// drains after [*Medium.Detach] or [*Medium.Shutdown], and fails
// with [net.ErrClosed] after [*Endpoint.Close].
func (ep *Endpoint) Read(buf []byte) (int, error) {
	return ep.outbound.Read(buf)
}

// Write implements [net.Conn]. Write queues data for the next
// propagation tick, blocking while the queue is full, and returns
// once every byte is queued. Write fails with [EPIPE] after
// [*Medium.Detach] or [*Medium.Shutdown], with [net.ErrClosed]
// after [*Endpoint.Close], and with [os.ErrDeadlineExceeded] past
// the write deadline.
func (ep *Endpoint) Write(data []byte) (int, error) {
	return ep.inbound.Write(data)
}

// Close implements [net.Conn]. Close shuts down the external half:
// subsequent reads and writes on the endpoint fail, while bytes it
// already queued still propagate. Close does not free the slot, so
// the medium keeps relaying to this endpoint and reports the
// resulting delivery failures until [*Medium.Detach] runs. Close is
// idempotent and never fails.
func (ep *Endpoint) Close() error {
	ep.inbound.closeWrite()
	ep.outbound.closeRead()
	return nil
}

// LocalAddr implements [net.Conn].
func (ep *Endpoint) LocalAddr() net.Addr {
	return ep.laddr
}

// RemoteAddr implements [net.Conn]. The remote address is the bus
// itself, since a broadcast medium has no single peer.
func (ep *Endpoint) RemoteAddr() net.Addr {
	return Addr{Bus: ep.laddr.Bus, Slot: -1}
}

// Slot returns the slot the medium assigned to this endpoint, which
// is the index [*Medium.Detach] and [*DeliveryError] refer to.
func (ep *Endpoint) Slot() int {
	return ep.laddr.Slot
}

// SetDeadline implements [net.Conn].
func (ep *Endpoint) SetDeadline(t time.Time) error {
	ep.SetReadDeadline(t)
	ep.SetWriteDeadline(t)
	return nil
}

// SetReadDeadline implements [net.Conn].
func (ep *Endpoint) SetReadDeadline(t time.Time) error {
	ep.outbound.rd.Set(t)
	return nil
}

// SetWriteDeadline implements [net.Conn].
func (ep *Endpoint) SetWriteDeadline(t time.Time) error {
	ep.inbound.wd.Set(t)
	return nil
}
