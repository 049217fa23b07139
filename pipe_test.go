// SPDX-License-Identifier: GPL-3.0-or-later

package wiresim

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewPipe(t *testing.T) {
	t.Run("rejects a non-positive capacity", func(t *testing.T) {
		p, err := newPipe(0)
		assert.Error(t, err)
		assert.Nil(t, p)
	})
}

func TestPipeReadWrite(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)

		count, err := p.Write([]byte("hello"))
		require.NoError(t, err)
		require.Equal(t, 5, count)

		buf := make([]byte, 16)
		count, err = p.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), buf[:count])
	})

	t.Run("read with an empty buffer", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		count, err := p.Read(nil)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("read blocks until a write arrives", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(16)
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(func() error {
			time.Sleep(50 * time.Millisecond)
			_, err := p.Write([]byte{42})
			return err
		})

		buf := make([]byte, 4)
		count, err := p.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, byte(42), buf[0])
		require.NoError(t, g.Wait())
	})

	t.Run("write blocks until reads free space", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(4)
		require.NoError(t, err)

		// The pipe holds 4 bytes, so writing 10 must block until
		// the reader drains; every byte must arrive in order.
		data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
		var g errgroup.Group
		g.Go(func() error {
			count, err := p.Write(data)
			assert.Equal(t, len(data), count)
			return err
		})

		var recv []byte
		buf := make([]byte, 4)
		for len(recv) < len(data) {
			count, err := p.Read(buf)
			require.NoError(t, err)
			recv = append(recv, buf[:count]...)
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, data, recv)
	})
}

func TestPipeConcurrentTransfer(t *testing.T) {
	defer leaktest.Check(t)()

	// An odd pipe size forces frequent wraparound.
	p, err := newPipe(7)
	require.NoError(t, err)

	const total = 4096
	data := make([]byte, total)
	for idx := range data {
		data[idx] = byte(idx % 251)
	}

	var g errgroup.Group
	g.Go(func() error {
		count, err := p.Write(data)
		assert.Equal(t, total, count)
		return err
	})

	var recv []byte
	buf := make([]byte, 16)
	for len(recv) < total {
		count, err := p.Read(buf)
		require.NoError(t, err)
		recv = append(recv, buf[:count]...)
	}
	require.NoError(t, g.Wait())
	if diff := cmp.Diff(data, recv); diff != "" {
		t.Fatalf("unexpected bytes (-want +got):\n%s", diff)
	}
}

func TestPipeDeadline(t *testing.T) {
	t.Run("expired read deadline", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		_, err = p.Write([]byte{1})
		require.NoError(t, err)

		// An expired deadline beats available data.
		p.rd.Set(time.Now().Add(-time.Second))
		count, err := p.Read(make([]byte, 4))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		assert.Equal(t, 0, count)
	})

	t.Run("read deadline expires while blocked", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(16)
		require.NoError(t, err)

		p.rd.Set(time.Now().Add(50 * time.Millisecond))
		count, err := p.Read(make([]byte, 4))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		assert.Equal(t, 0, count)
	})

	t.Run("write deadline expires while blocked", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(2)
		require.NoError(t, err)
		_, err = p.Write([]byte{1, 2})
		require.NoError(t, err)

		p.wd.Set(time.Now().Add(50 * time.Millisecond))
		count, err := p.Write([]byte{3, 4})
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		assert.Equal(t, 0, count)
	})

	t.Run("clearing the deadline re-arms the pipe", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)

		p.rd.Set(time.Now().Add(-time.Second))
		_, err = p.Write([]byte{1})
		require.NoError(t, err)
		_, err = p.Read(make([]byte, 4))
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)

		p.rd.Set(time.Time{})
		count, err := p.Read(make([]byte, 4))
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestPipeCloseWrite(t *testing.T) {
	t.Run("reads drain then see EOF", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		_, err = p.Write([]byte("tail"))
		require.NoError(t, err)

		p.closeWrite()

		_, err = p.Write([]byte("more"))
		assert.ErrorIs(t, err, net.ErrClosed)

		buf := make([]byte, 16)
		count, err := p.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte("tail"), buf[:count])

		_, err = p.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
		_, err = p.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("wakes a blocked reader", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(16)
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(func() error {
			time.Sleep(50 * time.Millisecond)
			p.closeWrite()
			return nil
		})

		_, err = p.Read(make([]byte, 4))
		assert.ErrorIs(t, err, io.EOF)
		require.NoError(t, g.Wait())
	})

	t.Run("is idempotent", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		p.closeWrite()
		p.closeWrite()
	})
}

func TestPipeCloseRead(t *testing.T) {
	t.Run("discards pending bytes", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		_, err = p.Write([]byte("lost"))
		require.NoError(t, err)

		p.closeRead()

		count, err := p.Read(make([]byte, 16))
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.Equal(t, 0, count)

		count, err = p.Write([]byte("x"))
		assert.ErrorIs(t, err, EPIPE)
		assert.Equal(t, 0, count)
	})

	t.Run("wakes a blocked writer", func(t *testing.T) {
		defer leaktest.Check(t)()
		p, err := newPipe(4)
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(func() error {
			time.Sleep(50 * time.Millisecond)
			p.closeRead()
			return nil
		})

		// The first 4 bytes fit, then the writer blocks until
		// the read side shuts down under it.
		count, err := p.Write([]byte{0, 1, 2, 3, 4, 5})
		assert.ErrorIs(t, err, EPIPE)
		assert.Equal(t, 4, count)
		require.NoError(t, g.Wait())
	})

	t.Run("is idempotent", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		p.closeRead()
		p.closeRead()
	})
}

func TestPipeTryRead(t *testing.T) {
	t.Run("empty pipe moves nothing", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		count, err := p.tryRead(make([]byte, 4))
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("moves pending bytes", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		_, err = p.Write([]byte{1, 2, 3})
		require.NoError(t, err)

		buf := make([]byte, 2)
		count, err := p.tryRead(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, buf[:count])

		count, err = p.tryRead(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, buf[:count])
	})

	t.Run("drains before reporting EOF", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		_, err = p.Write([]byte{9})
		require.NoError(t, err)
		p.closeWrite()

		buf := make([]byte, 4)
		count, err := p.tryRead(buf)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = p.tryRead(buf)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 0, count)
	})

	t.Run("fails after the read side closed", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		p.closeRead()
		count, err := p.tryRead(make([]byte, 4))
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.Equal(t, 0, count)
	})
}

func TestPipeTryWrite(t *testing.T) {
	t.Run("accepts what fits", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		count, err := p.tryWrite([]byte{1, 2, 3})
		assert.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("rejects what does not fit whole", func(t *testing.T) {
		p, err := newPipe(4)
		require.NoError(t, err)

		// Nothing is queued on failure: a recipient never sees a
		// truncated transmission.
		count, err := p.tryWrite([]byte{1, 2, 3, 4, 5, 6})
		assert.ErrorIs(t, err, ENOBUFS)
		assert.Equal(t, 0, count)

		count, err = p.tryWrite([]byte{1, 2, 3, 4})
		assert.NoError(t, err)
		assert.Equal(t, 4, count)

		count, err = p.tryWrite([]byte{5})
		assert.ErrorIs(t, err, ENOBUFS)
		assert.Equal(t, 0, count)
	})

	t.Run("fails after a side closed", func(t *testing.T) {
		p, err := newPipe(16)
		require.NoError(t, err)
		p.closeRead()
		_, err = p.tryWrite([]byte{1})
		assert.ErrorIs(t, err, EPIPE)

		q, err := newPipe(16)
		require.NoError(t, err)
		q.closeWrite()
		_, err = q.tryWrite([]byte{1})
		assert.ErrorIs(t, err, net.ErrClosed)
	})
}

func TestPipeHooks(t *testing.T) {
	t.Run("onReadable fires on the empty to non-empty transition", func(t *testing.T) {
		p, err := newPipe(8)
		require.NoError(t, err)
		var readable int
		p.onReadable = func() { readable++ }

		_, err = p.Write([]byte{1})
		require.NoError(t, err)
		assert.Equal(t, 1, readable)

		// Writing to a non-empty pipe is not a transition.
		_, err = p.Write([]byte{2})
		require.NoError(t, err)
		assert.Equal(t, 1, readable)

		count, err := p.tryRead(make([]byte, 8))
		require.NoError(t, err)
		require.Equal(t, 2, count)

		_, err = p.Write([]byte{3})
		require.NoError(t, err)
		assert.Equal(t, 2, readable)
	})

	t.Run("onDrained fires when a read leaves the pipe empty", func(t *testing.T) {
		p, err := newPipe(8)
		require.NoError(t, err)
		var drained int
		p.onDrained = func() { drained++ }

		_, err = p.Write([]byte{1, 2})
		require.NoError(t, err)

		count, err := p.tryRead(make([]byte, 1))
		require.NoError(t, err)
		require.Equal(t, 1, count)
		assert.Equal(t, 0, drained)

		count, err = p.tryRead(make([]byte, 1))
		require.NoError(t, err)
		require.Equal(t, 1, count)
		assert.Equal(t, 1, drained)
	})

	t.Run("tryRead on an empty pipe heals stale readiness", func(t *testing.T) {
		p, err := newPipe(8)
		require.NoError(t, err)
		var drained int
		p.onDrained = func() { drained++ }

		count, err := p.tryRead(make([]byte, 4))
		require.NoError(t, err)
		require.Equal(t, 0, count)
		assert.Equal(t, 1, drained)
	})
}
