//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Portable definition of system errors - Windows.
//

//go:build windows

package phy

import "golang.org/x/sys/windows"

// Errors that may be returned by this package.
const (
	EINVAL = windows.WSAEINVAL
)
