//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
//
// Device wrapper.
//

package phy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// Wrapper wraps [Device] values to emit structured logs tracking
// each I/O operation, which helps when debugging a protocol stack
// against a simulated physical layer.
type Wrapper struct {
	// Logger is the OPTIONAL structured logger. A nil Logger
	// means [*Wrapper.Wrap] returns devices unwrapped.
	Logger *slog.Logger

	// TimeNow is an OPTIONAL func to obtain the current time,
	// which helps with testing. Nil means [time.Now].
	TimeNow func() time.Time
}

// Wrap wraps dev to emit a structured log around each operation.
// Wrap returns dev unchanged when dev is nil or no logger is
// configured.
func (w *Wrapper) Wrap(ctx context.Context, dev Device) Device {
	if dev == nil || w.Logger == nil {
		return dev
	}
	return &deviceWrapper{
		closeonce: sync.Once{},
		ctx:       ctx,
		dev:       dev,
		wrapper:   w,
	}
}

// timeNow returns the current time using the configured clock.
func (w *Wrapper) timeNow() time.Time {
	if w.TimeNow != nil {
		return w.TimeNow()
	}
	return time.Now()
}

// deviceWrapper wraps a [Device].
type deviceWrapper struct {
	ctx       context.Context // only used for logging
	closeonce sync.Once
	dev       Device
	wrapper   *Wrapper
}

// Close implements [Device].
func (d *deviceWrapper) Close() (err error) {
	d.closeonce.Do(func() {
		t0 := d.wrapper.timeNow()
		d.wrapper.Logger.InfoContext(
			d.ctx,
			"closeStart",
			slog.Time("t", t0),
		)

		err = d.dev.Close()

		d.wrapper.Logger.InfoContext(
			d.ctx,
			"closeDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", d.wrapper.timeNow()),
		)
	})
	return
}

// Read implements [Device].
func (d *deviceWrapper) Read(buf []byte) (int, error) {
	t0 := d.wrapper.timeNow()
	d.wrapper.Logger.InfoContext(
		d.ctx,
		"readStart",
		slog.Int("ioBufferSize", len(buf)),
		slog.Time("t", t0),
	)

	count, err := d.dev.Read(buf)

	d.wrapper.Logger.InfoContext(
		d.ctx,
		"readDone",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Time("t0", t0),
		slog.Time("t", d.wrapper.timeNow()),
	)

	return count, err
}

// Write implements [Device].
func (d *deviceWrapper) Write(data []byte) (int, error) {
	t0 := d.wrapper.timeNow()
	d.wrapper.Logger.InfoContext(
		d.ctx,
		"writeStart",
		slog.Int("ioBufferSize", len(data)),
		slog.Time("t", t0),
	)

	count, err := d.dev.Write(data)

	d.wrapper.Logger.InfoContext(
		d.ctx,
		"writeDone",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Time("t0", t0),
		slog.Time("t", d.wrapper.timeNow()),
	)

	return count, err
}
