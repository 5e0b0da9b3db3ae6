// Package drain consumes a child process's output channel so the child never
// blocks on a full pipe.
//
// A Drain reads until end-of-stream whether or not anyone wants the bytes.
// In quiet mode chunks are discarded after the read; otherwise they are
// forwarded to a sink. Read failures end the drain quietly because a broken
// pipe usually just means the process went away.
package drain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultChunkSize is the read buffer size used when Config.ChunkSize is 0.
const DefaultChunkSize = 32 * 1024

// Config holds configuration for creating a new Drain.
type Config struct {
	// Name identifies the channel in logs and stats ("stdout", "stderr").
	Name string

	// Source is the readable end of the child's output channel.
	// The Drain owns it and closes it on exit if it is an io.Closer.
	Source io.Reader

	// Sink receives forwarded chunks. Ignored when Quiet is set.
	Sink io.Writer

	// Quiet discards every chunk after it has been read.
	Quiet bool

	Logger    *slog.Logger
	ChunkSize int

	// OnChunk, if set, is called with the size of every read that returned
	// data, on the drain goroutine.
	OnChunk func(n int)
}

// Drain continuously reads one byte stream.
type Drain struct {
	name      string
	source    io.Reader
	sink      io.Writer
	quiet     bool
	logger    *slog.Logger
	chunkSize int
	onChunk   func(n int)

	started    atomic.Bool
	cancelled  atomic.Bool
	cancelOnce sync.Once
	done       chan struct{}

	// Stats (atomic for thread-safety)
	bytesRead      atomic.Int64
	bytesForwarded atomic.Int64
	chunks         atomic.Int64
	readErrors     atomic.Int64
	sinkFailed     atomic.Bool
}

// deadliner is implemented by *os.File pipes; expiring the deadline unblocks
// a pending Read.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// New creates a Drain. The drain does nothing until Start or Run is called.
func New(cfg Config) *Drain {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	sink := cfg.Sink
	if sink == nil {
		sink = io.Discard
	}

	return &Drain{
		name:      cfg.Name,
		source:    cfg.Source,
		sink:      sink,
		quiet:     cfg.Quiet,
		logger:    logger,
		chunkSize: chunkSize,
		onChunk:   cfg.OnChunk,
		done:      make(chan struct{}),
	}
}

// Start runs the drain in its own goroutine.
// Returns false if the drain was already started.
func (d *Drain) Start() bool {
	if !d.started.CompareAndSwap(false, true) {
		return false
	}
	go d.run()
	return true
}

// Run reads until end-of-stream or cancellation, blocking the caller.
// Calling Run on a drain that was already started returns immediately.
func (d *Drain) Run() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.run()
}

func (d *Drain) run() {
	defer close(d.done)
	defer d.finish()

	d.logger.Debug("drain_started", "stream", d.name, "quiet", d.quiet)

	buf := make([]byte, d.chunkSize)
	for {
		if d.cancelled.Load() {
			return
		}

		n, err := d.source.Read(buf)
		if n > 0 {
			d.bytesRead.Add(int64(n))
			d.chunks.Add(1)
			if d.onChunk != nil {
				d.onChunk(n)
			}
			d.forward(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
		case d.cancelled.Load():
			// Deadline expiry or close triggered by Cancel.
		default:
			d.readErrors.Add(1)
			d.logger.Warn("drain_read_failed",
				"stream", d.name,
				"error", err,
				"bytes_read", d.bytesRead.Load(),
			)
		}
		return
	}
}

// forward writes a chunk to the sink. After the first sink failure the drain
// keeps reading but stops forwarding.
func (d *Drain) forward(chunk []byte) {
	if d.quiet || d.sinkFailed.Load() {
		return
	}
	n, err := d.sink.Write(chunk)
	d.bytesForwarded.Add(int64(n))
	if err != nil {
		d.sinkFailed.Store(true)
		d.logger.Warn("drain_sink_failed",
			"stream", d.name,
			"error", err,
		)
	}
}

// finish flushes a line-buffering sink and releases the source.
func (d *Drain) finish() {
	if f, ok := d.sink.(interface{ Flush() error }); ok && !d.quiet {
		if err := f.Flush(); err != nil {
			d.logger.Debug("drain_flush_failed", "stream", d.name, "error", err)
		}
	}
	if c, ok := d.source.(io.Closer); ok {
		c.Close()
	}

	d.logger.Debug("drain_finished",
		"stream", d.name,
		"bytes_read", d.bytesRead.Load(),
		"chunks", d.chunks.Load(),
		"cancelled", d.cancelled.Load(),
	)
}

// Cancel asks the drain to stop at its next read boundary and does not wait.
// A read blocked on a pipe is interrupted through its read deadline, or by
// closing the source when deadlines are unsupported.
func (d *Drain) Cancel() {
	d.cancelOnce.Do(func() {
		d.cancelled.Store(true)

		if dl, ok := d.source.(deadliner); ok {
			err := dl.SetReadDeadline(time.Now())
			if err == nil {
				return
			}
			d.logger.Debug("drain_deadline_failed", "stream", d.name, "error", err)
		}
		if c, ok := d.source.(io.Closer); ok {
			c.Close()
		}
	})
}

// Wait blocks until the drain has finished or ctx is done.
// It returns ctx.Err() when the wait was abandoned.
func (d *Drain) Wait(ctx context.Context) error {
	// A finished drain wins over an already expired ctx.
	if d.Finished() {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the drain has finished.
func (d *Drain) Done() <-chan struct{} {
	return d.done
}

// Finished reports whether the drain has returned.
func (d *Drain) Finished() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Name returns the stream name.
func (d *Drain) Name() string {
	return d.name
}

// Stats is a point-in-time snapshot of a drain.
type Stats struct {
	Name           string
	BytesRead      int64
	BytesForwarded int64
	Chunks         int64
	ReadErrors     int64
	SinkFailed     bool
	Cancelled      bool
	Finished       bool
}

// Stats returns a snapshot of the drain's counters.
func (d *Drain) Stats() Stats {
	return Stats{
		Name:           d.name,
		BytesRead:      d.bytesRead.Load(),
		BytesForwarded: d.bytesForwarded.Load(),
		Chunks:         d.chunks.Load(),
		ReadErrors:     d.readErrors.Load(),
		SinkFailed:     d.sinkFailed.Load(),
		Cancelled:      d.cancelled.Load(),
		Finished:       d.Finished(),
	}
}
