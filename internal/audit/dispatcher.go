package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Logger receives sink panics and the drop summary written on Close.
	Logger *slog.Logger
}

// eventOther buckets drops of event types the lifecycle does not define.
const eventOther = "other"

var lifecycleEvents = []string{
	EventLogin,
	EventLoginPassword,
	EventRefresh,
	EventLogout,
	EventAuthenticate,
	EventSecondFactor,
	EventSecretEnrolled,
}

// Dispatcher hands lifecycle events to a sink from one background worker,
// in emission order. A sink that panics loses only the event it was given.
type Dispatcher struct {
	sink   Sink
	queue  chan Event
	stop   chan struct{}
	worker sync.WaitGroup
	drop   bool
	logger *slog.Logger

	closing atomic.Bool
	once    sync.Once

	// drops is keyed by event type and never written after construction.
	drops      map[string]*atomic.Uint64
	sinkPanics atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled; a nil *Dispatcher is
// safe to use and does nothing.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	drops := make(map[string]*atomic.Uint64, len(lifecycleEvents)+1)
	for _, typ := range append(lifecycleEvents, eventOther) {
		drops[typ] = new(atomic.Uint64)
	}

	d := &Dispatcher{
		sink:   sink,
		queue:  make(chan Event, size),
		stop:   make(chan struct{}),
		drop:   cfg.DropIfFull,
		logger: logger,
		drops:  drops,
	}
	d.worker.Add(1)
	go d.work()
	return d
}

func (d *Dispatcher) work() {
	defer d.worker.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkPanics.Add(1)
			d.logger.Error("audit sink panicked", "event", event.EventType, "panic", r)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

func (d *Dispatcher) countDrop(eventType string) {
	counter, ok := d.drops[eventType]
	if !ok {
		counter = d.drops[eventOther]
	}
	counter.Add(1)
}

// Emit queues event. With DropIfFull a full buffer drops the event and
// counts it under its type; otherwise Emit waits for room until ctx is done
// or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.drop {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.countDrop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close flushes buffered events, stops the worker and logs a drop summary
// when anything was lost. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.worker.Wait()

		if dropped := d.DroppedByType(); len(dropped) > 0 {
			attrs := make([]any, 0, 2*len(dropped))
			for typ, n := range dropped {
				attrs = append(attrs, typ, n)
			}
			d.logger.Warn("audit events dropped", slog.Group("dropped", attrs...))
		}
	})
}

// Dropped returns the number of events dropped on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var total uint64
	for _, counter := range d.drops {
		total += counter.Load()
	}
	return total
}

// DroppedByType returns the non-zero drop counts keyed by event type.
// Unknown types are reported as "other".
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	for typ, counter := range d.drops {
		if n := counter.Load(); n > 0 {
			out[typ] = n
		}
	}
	return out
}

// SinkPanics returns how many events were lost to a panicking sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.sinkPanics.Load()
}
