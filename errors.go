//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Error definitions.
//

package wiresim

import (
	"errors"
	"fmt"
)

// Errors returned by [*Medium] operations.
var (
	// ErrCapacity means the endpoint table is full.
	ErrCapacity = errors.New("wiresim: too many attached endpoints")

	// ErrConfigured means the medium is already configured.
	ErrConfigured = errors.New("wiresim: medium already configured")

	// ErrNotConfigured means the medium is not configured yet.
	ErrNotConfigured = errors.New("wiresim: medium not configured")

	// ErrPropagating means a propagation tick is in flight.
	ErrPropagating = errors.New("wiresim: propagation in progress")

	// ErrShutDown means the medium has shut down.
	ErrShutDown = errors.New("wiresim: medium has shut down")

	// ErrUnknownSlot means the slot is free or out of range.
	ErrUnknownSlot = errors.New("wiresim: unknown endpoint slot")
)

// DeliveryError reports a relay failure for a single recipient.
//
// A failed recipient does not abort the propagation tick: the relay
// keeps serving the remaining recipients and [*Medium.Propagate]
// joins one DeliveryError per failed recipient into its return
// value, which callers unpack using [errors.As].
type DeliveryError struct {
	// Slot is the slot index of the failed recipient.
	Slot int

	// Err is the underlying delivery error.
	Err error
}

var _ error = &DeliveryError{}

// Error implements error.
func (err *DeliveryError) Error() string {
	return fmt.Sprintf("wiresim: delivering to endpoint %d: %s", err.Slot, err.Err.Error())
}

// Unwrap allows [errors.Is] and [errors.As] to see the underlying error.
func (err *DeliveryError) Unwrap() error {
	return err.Err
}
