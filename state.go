//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Medium lifecycle states.
//

package wiresim

// State is the lifecycle state of a [*Medium].
type State int

const (
	// StateUnconfigured is the state of a [*Medium] fresh out of
	// [New]: no multiplexer and no endpoint table exist yet and
	// every operation except [*Medium.Configure] fails.
	StateUnconfigured = State(iota)

	// StateConfigured means [*Medium.Configure] succeeded and the
	// medium accepts [*Medium.Attach] and [*Medium.Propagate].
	StateConfigured

	// StateRunning means at least one propagation tick ran since
	// the last [*Medium.Configure].
	StateRunning

	// StateShutDown means [*Medium.Shutdown] ran: every endpoint
	// is closed and only [*Medium.Configure] revives the medium.
	StateShutDown
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateShutDown:
		return "shutdown"
	default:
		return "invalid"
	}
}
