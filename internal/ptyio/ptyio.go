// Package ptyio mirrors the live reading stream onto a pseudo-terminal so that
// serial tools (screen, minicom, serial plotters) can attach to it as if it were
// the sensor's own serial port.
//
//	m, err := ptyio.NewMirror(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	fmt.Println("attach to", m.TTYName()) // e.g. /dev/pts/5
//	m.Start(ctx, pipeline.Subscribe(64).C())
//
// Writes never block the stream: lines go through a byte ring and the oldest
// bytes are dropped when no one drains the terminal.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/vibro/internal/groutine"
	"github.com/srg/vibro/internal/reading"
	"golang.org/x/term"
)

const (
	// DefaultBufferSize is the byte capacity of the write ring.
	DefaultBufferSize = 4096
	// DefaultPollTimeoutMs is how long an idle writer sleeps between ring checks.
	DefaultPollTimeoutMs = 50
)

// Options configure a Mirror. Zero values use the defaults above.
type Options struct {
	BufferSize    int
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Stats provides runtime counters.
type Stats struct {
	QueueLen     int
	QueueCap     int
	Lines        uint64
	BytesWritten uint64
	BytesDropped uint64
}

// Mirror owns a PTY pair and writes one decimal value per line to the master.
type Mirror struct {
	logger        *logrus.Logger
	master        *os.File
	tty           *os.File
	ttyName       string
	pollTimeoutMs int

	buf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed  atomic.Bool
	lines   atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// NewMirror opens a PTY pair in raw mode and starts the writer.
func NewMirror(opts Options) (*Mirror, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	master, tty, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		logger:        logger,
		master:        master,
		tty:           tty,
		ttyName:       tty.Name(),
		pollTimeoutMs: opts.PollTimeoutMs,
		buf:           ringbuffer.New(opts.BufferSize),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.wg.Add(1)
	groutine.Go(ctx, "pty-mirror-write-loop", func(ctx context.Context) {
		defer m.wg.Done()
		m.writeLoop()
	})

	logger.WithField("tty", m.ttyName).Info("PTY mirror ready")
	return m, nil
}

// Start copies readings from src to the terminal until ctx is done or src closes.
func (m *Mirror) Start(ctx context.Context, src <-chan reading.Reading) {
	m.wg.Add(1)
	groutine.Go(ctx, "pty-mirror-feed", func(ctx context.Context) {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case r, ok := <-src:
				if !ok {
					return
				}
				if _, err := m.WriteReading(r); err != nil {
					return
				}
			}
		}
	})
}

// WriteReading queues "<value>\n". A short count means the ring overflowed.
func (m *Mirror) WriteReading(r reading.Reading) (int, error) {
	line := strconv.AppendInt(make([]byte, 0, 12), int64(r.Value), 10)
	line = append(line, '\n')
	n, err := m.Write(line)
	if err == nil {
		m.lines.Add(1)
	}
	return n, err
}

// Write queues raw bytes for the terminal without blocking.
func (m *Mirror) Write(data []byte) (int, error) {
	if m.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := m.buf.TryWrite(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return 0, err
	}
	if written < len(data) {
		dropped := len(data) - written
		m.dropped.Add(uint64(dropped))
		m.logger.WithFields(logrus.Fields{
			"tty":     m.ttyName,
			"dropped": dropped,
		}).Debug("PTY mirror buffer full, nobody is reading the terminal")
	}
	return written, nil
}

// writeLoop drains the ring into the master. The master stays in the runtime
// poller (its Fd is never taken) so that Close unblocks a pending Write.
func (m *Mirror) writeLoop() {
	idle := time.Duration(m.pollTimeoutMs) * time.Millisecond
	chunk := make([]byte, 1024)

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		n, err := m.buf.TryRead(chunk)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}

		for offset := 0; offset < n; {
			w, err := m.master.Write(chunk[offset:n])
			if w > 0 {
				offset += w
				m.written.Add(uint64(w))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, syscall.EIO):
				m.logger.Debug("PTY mirror write loop exiting: master closed")
				return
			default:
				m.logger.WithError(err).Warn("PTY mirror write loop exiting")
				return
			}
		}
	}
}

// TTYName returns the slave path to attach to.
func (m *Mirror) TTYName() string {
	return m.ttyName
}

func (m *Mirror) Stats() Stats {
	return Stats{
		QueueLen:     m.buf.Length(),
		QueueCap:     m.buf.Capacity(),
		Lines:        m.lines.Load(),
		BytesWritten: m.written.Load(),
		BytesDropped: m.dropped.Load(),
	}
}

// Close stops the goroutines and closes both ends of the PTY.
func (m *Mirror) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()

	var errs []error
	if err := m.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	m.wg.Wait()
	if err := m.tty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}
	return errors.Join(errs...)
}

// openRaw creates a PTY pair with the slave in raw mode so values pass through untouched.
func openRaw() (master, tty *os.File, err error) {
	master, tty, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		_ = master.Close()
		_ = tty.Close()
		return nil, nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", tty.Name(), err)
	}
	return master, tty, nil
}
