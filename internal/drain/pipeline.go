package drain

import (
	"sync"
	"sync/atomic"
)

// DefaultPipelineBuffer is the number of lines a Pipeline queues before it
// starts dropping.
const DefaultPipelineBuffer = 1000

// Pipeline decouples a drain from a slow LineHandler. Lines are queued on a
// bounded channel and handed to the handler by a single consumer goroutine;
// when the queue is full the line is dropped and counted. The drain never
// waits on the handler, so a slow logger or dashboard cannot back up the
// child's pipe.
//
// Lifecycle:
//
//	p := NewPipeline("stderr", handler, 0)
//	go p.Run()
//	sink := NewLineWriter(p) // drain sink
//	// ... drain joined ...
//	p.Close()                // waits for queued lines to be handled
type Pipeline struct {
	stream  string
	handler LineHandler

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	lines  chan string
	done   chan struct{}

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesHandled atomic.Int64
}

// NewPipeline creates a pipeline delivering to h. bufferSize < 1 selects
// DefaultPipelineBuffer.
func NewPipeline(stream string, h LineHandler, bufferSize int) *Pipeline {
	if bufferSize < 1 {
		bufferSize = DefaultPipelineBuffer
	}
	return &Pipeline{
		stream:  stream,
		handler: h,
		lines:   make(chan string, bufferSize),
		done:    make(chan struct{}),
	}
}

// HandleLine queues a line, dropping it if the queue is full.
func (p *Pipeline) HandleLine(line string) {
	p.FeedLine(line)
}

// FeedLine queues a line. Returns false if it was dropped. Lines fed after
// Close are dropped.
func (p *Pipeline) FeedLine(line string) bool {
	p.linesRead.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.linesDropped.Add(1)
		return false
	}
	select {
	case p.lines <- line:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// Run consumes queued lines until Close. Must run in its own goroutine.
func (p *Pipeline) Run() {
	defer close(p.done)
	for line := range p.lines {
		p.handler.HandleLine(line)
		p.linesHandled.Add(1)
	}
}

// Close stops accepting lines and waits for Run to hand over the rest.
// Safe to call more than once; Run must have been started.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.lines)
	}
	p.mu.Unlock()
	<-p.done
}

// PipelineStats reports pipeline health.
type PipelineStats struct {
	Stream  string
	Read    int64
	Dropped int64
	Handled int64
}

// Stats returns the pipeline's counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Stream:  p.stream,
		Read:    p.linesRead.Load(),
		Dropped: p.linesDropped.Load(),
		Handled: p.linesHandled.Load(),
	}
}

// DropRate returns the fraction of lines dropped (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}
