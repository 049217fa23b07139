// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package wiresim simulates a shared physical-layer medium.

An arbitrary number of independent endpoints attach to a virtual
broadcast bus: bytes written by one endpoint are relayed verbatim to
every other attached endpoint, the way a shared wire would carry them.
The package exists to feed synthetic byte streams between protocol
stacks under test without real hardware and without real sockets.

# Usage and Features

The [New] function creates a new [*Medium]. After [*Medium.Configure],
each [*Medium.Attach] call connects a fresh endpoint to the bus and
returns its external half, an [*Endpoint] implementing [net.Conn],
which the caller reads and writes like any other connection.

The medium performs no background scheduling of its own. Each
[*Medium.Propagate] call is a single propagation tick: it polls a
readiness multiplexer for endpoints with pending bytes, drains them in
bounded chunks, and fans each chunk out to every other attached
endpoint. Callers invoke Propagate from their own event loop, or use
[*Medium.Run], which blocks waiting for readiness and keeps
propagating until its context is done.

Delivery failures do not abort a tick. The relay keeps serving the
remaining recipients and reports each failed one through a
[*DeliveryError], so callers can tell a slow reader, a disconnected
peer, and an invalid argument apart, and, say, [*Medium.Detach] a
misbehaving endpoint instead of tearing down the whole bus.

Subpackages provide the building blocks: [wiresim/ringbuf] implements
the bounded byte queues endpoints are made of, [wiresim/mux]
implements readiness tracking, and [wiresim/phy] defines the device
capability interface through which protocol stacks address either this
simulator or real hardware.

The errors returned by this package are the same [syscall.Errno]
values the standard library and the kernel would produce in similar
cases (we use the [x/sys] repository to pull system-dependent error
values).
*/
package wiresim
