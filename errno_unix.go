//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Portable definition of system errors - Unix.
//

//go:build unix

package wiresim

import "golang.org/x/sys/unix"

// Errors that may be returned by this package.
const (
	EINVAL  = unix.EINVAL
	ENOBUFS = unix.ENOBUFS
	EPIPE   = unix.EPIPE
)
