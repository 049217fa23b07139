//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Portable definition of system errors - Windows.
//

//go:build windows

package wiresim

import "golang.org/x/sys/windows"

// Errors that may be returned by this package. Winsock has no broken
// pipe condition and reports writing to a gone peer as a reset.
const (
	EINVAL  = windows.WSAEINVAL
	ENOBUFS = windows.WSAENOBUFS
	EPIPE   = windows.WSAECONNRESET
)
