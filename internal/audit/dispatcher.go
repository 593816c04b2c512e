package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls the async dispatch buffer.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher decouples audit persistence from the authentication hot
// path. Events flow through a buffered channel into a single worker
// goroutine; when the buffer is full the dispatcher either drops with
// accounting or applies caller backpressure, per DropIfFull. A nil
// Dispatcher is valid and silently discards everything.
type Dispatcher struct {
	sink       Sink
	events     chan Event
	quit       chan struct{}
	dropIfFull bool

	dropped  atomic.Uint64
	stopping atomic.Bool
	stop     sync.Once
	worker   sync.WaitGroup
}

// NewDispatcher starts the worker. Returns nil when auditing is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1
	}

	d := &Dispatcher{
		sink:       sink,
		events:     make(chan Event, buffer),
		quit:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.worker.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.worker.Done()

	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still buffered at shutdown.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit hands an event to the worker. It never blocks past ctx when the
// buffer is full, and never blocks at all in drop mode.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.events <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops the worker after flushing the buffer. Safe to call more
// than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stop.Do(func() {
		d.stopping.Store(true)
		close(d.quit)
		d.worker.Wait()
	})
}

// Dropped reports how many events were lost to backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
