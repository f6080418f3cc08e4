package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled bool
	// BufferSize is the number of events queued before Emit starts dropping.
	BufferSize int
}

// Dispatcher hands events to a sink on a single background goroutine.
// Emit never waits on the sink: an event that does not fit in the queue is
// counted and discarded. A nil *Dispatcher is valid and drops everything.
type Dispatcher struct {
	sink  Sink
	queue chan Event
	stop  chan struct{}

	worker  sync.WaitGroup
	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:  sink,
		queue: make(chan Event, max(cfg.BufferSize, 1)),
		stop:  make(chan struct{}),
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.worker.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.flush()
			return
		}
	}
}

// flush delivers whatever was queued before Close.
func (d *Dispatcher) flush() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// A panicking sink must not take the delivery goroutine down with it.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		_ = recover()
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event and returns immediately. The timestamp is filled in
// when unset. Events emitted after Close are dropped.
func (d *Dispatcher) Emit(_ context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closing.Load() {
		d.dropped.Add(1)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and drains the queue into the sink.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
