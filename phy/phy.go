// SPDX-License-Identifier: GPL-3.0-or-later

// Package phy defines how protocol stacks address a physical layer.
//
// A [Device] is the capability surface of a physical-layer byte
// device: anything that moves raw bytes qualifies, for example a
// simulated medium endpoint, a [net.Conn], or a serial port handle.
// The [Read] and [Write] helpers validate their arguments before
// delegating, so protocol code driving a device obtained from
// elsewhere fails with [EINVAL] instead of panicking.
package phy

import "io"

// Device is the capability a physical layer offers to the protocol
// stack above it: moving raw bytes in and out and releasing the
// underlying resources.
type Device interface {
	io.Reader
	io.Writer
	io.Closer
}

// Read fills buf with bytes received by the device. Read fails with
// [EINVAL] when dev is nil or buf is empty and delegates to dev
// otherwise. Rejecting empty buffers keeps a zero return unambiguous:
// zero bytes from a device mean orderly closure, never a no-op read.
func Read(dev Device, buf []byte) (int, error) {
	if dev == nil || len(buf) <= 0 {
		return 0, EINVAL
	}
	return dev.Read(buf)
}

// Write sends data through the device. Write fails with [EINVAL]
// when dev is nil or data is empty and delegates to dev otherwise.
func Write(dev Device, data []byte) (int, error) {
	if dev == nil || len(data) <= 0 {
		return 0, EINVAL
	}
	return dev.Write(data)
}
