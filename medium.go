//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Virtual shared medium.
//

package wiresim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/wiresim/mux"
)

// Default configuration values used by [Config].
const (
	// DefaultChunkSize is the default relay granularity in bytes.
	DefaultChunkSize = 4096

	// DefaultMaxEndpoints is the default endpoint table size.
	DefaultMaxEndpoints = 256

	// DefaultName is the default bus name.
	DefaultName = "wire0"

	// DefaultQueueSize is the default per-direction endpoint queue
	// capacity in bytes.
	DefaultQueueSize = 65536
)

// Config configures a [*Medium]. The zero value is ready to use and
// selects the documented defaults.
type Config struct {
	// ChunkSize is the relay granularity in bytes: a propagation
	// tick drains and fans out pending bytes at most this many at
	// a time. Zero means [DefaultChunkSize].
	ChunkSize int

	// Logger is the OPTIONAL structured logger. A nil Logger
	// disables logging.
	Logger *slog.Logger

	// MaxEndpoints is the maximum number of concurrently attached
	// endpoints. Zero means [DefaultMaxEndpoints].
	MaxEndpoints int

	// Name is the bus name appearing in endpoint addresses. Empty
	// means [DefaultName].
	Name string

	// QueueSize is the per-direction queue capacity in bytes of
	// each endpoint. Zero means [DefaultQueueSize].
	QueueSize int

	// TimeNow is an OPTIONAL func to obtain the current time,
	// which helps with testing. Nil means [time.Now].
	TimeNow func() time.Time

	// WriteTimeout bounds how long a propagation tick may block
	// delivering a chunk to a slow endpoint. Zero means block
	// until the recipient queue has space or the context is done.
	// A negative value means never block: a recipient whose queue
	// cannot take a whole chunk fails with [ENOBUFS] instead.
	WriteTimeout time.Duration
}

// validate returns an [EINVAL] wrapped error when cfg is invalid.
func (cfg *Config) validate() error {
	if cfg.ChunkSize < 0 {
		return fmt.Errorf("%w: ChunkSize is negative", EINVAL)
	}
	if cfg.MaxEndpoints < 0 {
		return fmt.Errorf("%w: MaxEndpoints is negative", EINVAL)
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("%w: QueueSize is negative", EINVAL)
	}
	return nil
}

// chunkSize returns the configured or default chunk size.
func (cfg *Config) chunkSize() int {
	if cfg.ChunkSize > 0 {
		return cfg.ChunkSize
	}
	return DefaultChunkSize
}

// maxEndpoints returns the configured or default endpoint cap.
func (cfg *Config) maxEndpoints() int {
	if cfg.MaxEndpoints > 0 {
		return cfg.MaxEndpoints
	}
	return DefaultMaxEndpoints
}

// name returns the configured or default bus name.
func (cfg *Config) name() string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return DefaultName
}

// queueSize returns the configured or default queue capacity.
func (cfg *Config) queueSize() int {
	if cfg.QueueSize > 0 {
		return cfg.QueueSize
	}
	return DefaultQueueSize
}

// Medium is a virtual shared medium: a broadcast bus relaying the
// bytes written by each attached endpoint to all the others.
//
// Construct using [New], then call [*Medium.Configure]. The medium
// never schedules itself: bytes move only when the owner calls
// [*Medium.Propagate] or runs [*Medium.Run].
//
// The medium serializes its lifecycle internally: attach, detach,
// and shutdown exclude each other and fail with [ErrPropagating]
// rather than blocking while a propagation tick is in flight.
// [*Medium.Shutdown] may therefore stop a [*Medium.Run] loop blocked
// in another goroutine. The [*Endpoint] values the medium hands out
// are safe for concurrent use like any [net.Conn].
type Medium struct {
	// config is the configuration provided to [New].
	config Config

	// mu protects the fields that follow it.
	mu sync.Mutex

	// mux tracks which endpoints have pending bytes.
	mux *mux.Mux

	// propagating guards against overlapping propagation ticks.
	propagating bool

	// scratch is the relay chunk buffer.
	scratch []byte

	// state is the lifecycle state.
	state State

	// table holds the attached ports.
	table *table
}

var _ io.Closer = &Medium{}

// New creates a new [*Medium] in [StateUnconfigured] with the given
// configuration. A nil config selects all defaults.
func New(config *Config) *Medium {
	if config == nil {
		config = &Config{}
	}
	return &Medium{
		config:      *config,
		mu:          sync.Mutex{},
		mux:         nil,
		propagating: false,
		scratch:     nil,
		state:       StateUnconfigured,
		table:       nil,
	}
}

// Configure validates the configuration and builds the endpoint
// table and the readiness multiplexer, moving the medium to
// [StateConfigured]. Configure fails with an [EINVAL] wrapped error
// when the configuration is invalid and with [ErrConfigured] when
// the medium is already configured. Configure also revives a medium
// after [*Medium.Shutdown].
func (m *Medium) Configure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateConfigured, StateRunning:
		return ErrConfigured
	}
	if err := m.config.validate(); err != nil {
		return err
	}
	m.mux = mux.New()
	m.table = newTable(m.config.maxEndpoints())
	m.scratch = make([]byte, m.config.chunkSize())
	m.state = StateConfigured
	m.logInfo("configureDone",
		slog.String("name", m.config.name()),
		slog.Int("maxEndpoints", m.config.maxEndpoints()),
		slog.Int("queueSize", m.config.queueSize()),
		slog.Int("chunkSize", m.config.chunkSize()),
		slog.Time("t", m.timeNow()),
	)
	return nil
}

// Attach connects a new endpoint to the bus and returns its external
// half. The endpoint takes the lowest free slot. Attach fails with
// [ErrCapacity] when the endpoint table is full and with
// [ErrPropagating] during a propagation tick, in both cases leaving
// the medium unchanged.
func (m *Medium) Attach() (*Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOperationalLocked(); err != nil {
		return nil, err
	}
	if m.propagating {
		return nil, ErrPropagating
	}
	t0 := m.timeNow()
	inbound, err := newPipe(m.config.queueSize())
	if err != nil {
		return nil, err
	}
	outbound, err := newPipe(m.config.queueSize())
	if err != nil {
		return nil, err
	}
	pt := &port{inbound: inbound, outbound: outbound, slot: 0}
	slot, err := m.table.add(pt)
	if err != nil {
		m.logInfo("attachFailed",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Int("endpoints", m.table.len()),
			slog.Time("t0", t0),
			slog.Time("t", m.timeNow()),
		)
		return nil, err
	}
	pt.slot = slot
	tok := mux.Token(slot)
	if err := m.mux.Register(tok); err != nil {
		m.table.remove(slot)
		return nil, err
	}
	inbound.onReadable = func() { m.mux.Signal(tok) }
	inbound.onDrained = func() { m.mux.Clear(tok) }
	ep := &Endpoint{
		inbound:  inbound,
		laddr:    Addr{Bus: m.config.name(), Slot: slot},
		outbound: outbound,
	}
	m.logInfo("attachDone",
		slog.Int("slot", slot),
		slog.Int("endpoints", m.table.len()),
		slog.Time("t0", t0),
		slog.Time("t", m.timeNow()),
	)
	return ep, nil
}

// Detach disconnects the endpoint at the given slot and frees the
// slot for reuse by later [*Medium.Attach] calls. The detached
// endpoint reads the bytes already queued for it and then [io.EOF],
// and its writes fail with [EPIPE]. Detach fails with
// [ErrUnknownSlot] when the slot is free or out of range and with
// [ErrPropagating] during a propagation tick.
func (m *Medium) Detach(slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOperationalLocked(); err != nil {
		return err
	}
	if m.propagating {
		return ErrPropagating
	}
	if m.table.lookup(slot) == nil {
		return ErrUnknownSlot
	}
	t0 := m.timeNow()
	if err := m.mux.Deregister(mux.Token(slot)); err != nil {
		return err
	}
	pt, err := m.table.remove(slot)
	if err != nil {
		return err
	}
	pt.Close()
	m.logInfo("detachDone",
		slog.Int("slot", slot),
		slog.Int("endpoints", m.table.len()),
		slog.Time("t0", t0),
		slog.Time("t", m.timeNow()),
	)
	return nil
}

// Propagate runs a single propagation tick: it snapshots which
// endpoints have pending bytes, drains each of them in chunks, and
// delivers every chunk to every other attached endpoint. A failing
// recipient does not stop the tick: Propagate records one
// [*DeliveryError] per failed recipient, skips it for the rest of
// the tick, and keeps serving the others, returning the joined
// failures at the end.
//
// Propagate fails with [ErrPropagating] when a tick is already in
// flight and, when ctx is done, stops early and includes the context
// error in the joined result. The first tick moves the medium to
// [StateRunning].
func (m *Medium) Propagate(ctx context.Context) error {
	if err := m.beginPropagate(); err != nil {
		return err
	}
	defer m.endPropagate()
	t0 := m.timeNow()
	ready := m.mux.Poll()
	var (
		byteCount int64
		errs      *multierror.Error
		failed    = make(map[int]bool)
	)
	for _, tok := range ready {
		if ctx.Err() != nil {
			break
		}
		sender := m.table.lookup(int(tok))
		if sender == nil {
			continue
		}
		for {
			count, err := sender.drain(m.scratch)
			if count > 0 {
				byteCount += int64(count)
				errs = m.broadcast(ctx, sender.slot, m.scratch[:count], failed, errs)
			}
			if count <= 0 || err != nil {
				break
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		errs = multierror.Append(errs, ctxErr)
	}
	err := errs.ErrorOrNil()
	if len(ready) > 0 || err != nil {
		m.logInfoCtx(ctx, "propagateDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Int("readyCount", len(ready)),
			slog.Int64("byteCount", byteCount),
			slog.Time("t0", t0),
			slog.Time("t", m.timeNow()),
		)
	}
	return err
}

// beginPropagate transitions into a propagation tick. While the tick
// is in flight the lifecycle cannot change, so the tick body may read
// the table without holding mu.
func (m *Medium) beginPropagate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOperationalLocked(); err != nil {
		return err
	}
	if m.propagating {
		return ErrPropagating
	}
	m.propagating = true
	m.state = StateRunning
	return nil
}

// endPropagate marks the in-flight propagation tick as finished.
func (m *Medium) endPropagate() {
	m.mu.Lock()
	m.propagating = false
	m.mu.Unlock()
}

// broadcast delivers chunk to every attached endpoint except the
// sender, skipping recipients that already failed during this tick,
// and appends one [*DeliveryError] per new failure to errs.
func (m *Medium) broadcast(ctx context.Context, sender int, chunk []byte,
	failed map[int]bool, errs *multierror.Error) *multierror.Error {
	for slot, pt := range m.table.all() {
		if slot == sender || failed[slot] {
			continue
		}
		err := pt.deliver(ctx, chunk, m.config.WriteTimeout)
		if err == nil {
			continue
		}
		failed[slot] = true
		errs = multierror.Append(errs, &DeliveryError{Slot: slot, Err: err})
		m.logInfoCtx(ctx, "deliverFailed",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Int("sender", sender),
			slog.Int("slot", slot),
			slog.Time("t", m.timeNow()),
		)
	}
	return errs
}

// Run blocks waiting for endpoints with pending bytes and propagates
// until ctx is done, packaging the wait-then-propagate event loop so
// callers do not need to write their own. Run returns nil when ctx
// is done or the medium shuts down, and the first propagation error
// otherwise, in which case the owner may, say, [*Medium.Detach] the
// failed recipients and call Run again.
func (m *Medium) Run(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkOperationalLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	mx := m.mux
	m.mu.Unlock()
	for {
		if _, err := mx.Wait(ctx); err != nil {
			switch {
			case errors.Is(err, mux.ErrClosed):
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return nil
			default:
				return err
			}
		}
		if err := m.Propagate(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, ErrShutDown):
				return nil
			default:
				return err
			}
		}
	}
}

// Shutdown closes every attached endpoint and the multiplexer and
// moves the medium to [StateShutDown], joining and returning the
// close errors, if any. Endpoints drain their queued bytes and then
// read [io.EOF], and their writes fail with [EPIPE]. Shutdown on a
// medium already shut down is a no-op returning nil, and
// [*Medium.Configure] revives the medium afterwards. Shutdown fails
// with [ErrPropagating] during a propagation tick.
func (m *Medium) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateUnconfigured:
		return ErrNotConfigured
	case StateShutDown:
		return nil
	}
	if m.propagating {
		return ErrPropagating
	}
	t0 := m.timeNow()
	count := m.table.len()
	var errv []error
	for _, pt := range m.table.all() {
		if err := pt.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	m.table.reset()
	if err := m.mux.Close(); err != nil {
		errv = append(errv, err)
	}
	m.state = StateShutDown
	err := errors.Join(errv...)
	m.logInfo("shutdownDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Int("endpoints", count),
		slog.Time("t0", t0),
		slog.Time("t", m.timeNow()),
	)
	return err
}

// Close implements [io.Closer]. Close is like [*Medium.Shutdown]
// except that closing a never-configured medium is a no-op returning
// nil, so a Close may unconditionally sit in a defer.
func (m *Medium) Close() error {
	if err := m.Shutdown(); !errors.Is(err, ErrNotConfigured) {
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Medium) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoints returns the number of currently attached endpoints.
func (m *Medium) Endpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table == nil {
		return 0
	}
	return m.table.len()
}

// Name returns the bus name.
func (m *Medium) Name() string {
	return m.config.name()
}

// checkOperationalLocked returns an error unless the current
// lifecycle state accepts attach, detach, and propagate operations.
// The caller MUST hold mu.
func (m *Medium) checkOperationalLocked() error {
	switch m.state {
	case StateUnconfigured:
		return ErrNotConfigured
	case StateShutDown:
		return ErrShutDown
	default:
		return nil
	}
}

// timeNow returns the current time using the configured clock.
func (m *Medium) timeNow() time.Time {
	if m.config.TimeNow != nil {
		return m.config.TimeNow()
	}
	return time.Now()
}

// logInfo emits an event through the optional structured logger.
func (m *Medium) logInfo(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Info(msg, args...)
	}
}

// logInfoCtx is like [*Medium.logInfo] but with a context.
func (m *Medium) logInfoCtx(ctx context.Context, msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.InfoContext(ctx, msg, args...)
	}
}
