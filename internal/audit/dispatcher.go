package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrDrainTimeout is returned by Shutdown when queued events were abandoned.
var ErrDrainTimeout = errors.New("audit drain deadline exceeded")

// DropReason says why an event never reached the sink.
type DropReason string

const (
	DropBufferFull DropReason = "buffer_full"
	DropClosed     DropReason = "closed"
	DropCanceled   DropReason = "canceled"
	DropAbandoned  DropReason = "abandoned"
)

// Config controls buffering, shutdown and drop reporting.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull drops on a full buffer instead of blocking the caller.
	DropIfFull bool

	// MustDeliver marks event types that block on a full buffer even with
	// DropIfFull. They can still be lost to a canceled context or Close.
	MustDeliver func(eventType string) bool

	// OnDrop runs synchronously for every lost event.
	OnDrop func(event Event, reason DropReason)

	// Now stamps events without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher relays events to a sink on one goroutine, in emit order.
type Dispatcher struct {
	cfg  Config
	sink Sink

	// mu orders sends on queue against its close; emitters hold it shared.
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	stop   chan struct{}

	finished  chan struct{}
	abandon   atomic.Bool
	closeOnce sync.Once

	dropped atomic.Uint64
	dropMu  sync.Mutex
	byType  map[string]uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		byType:   make(map[string]uint64),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)
	for event := range d.queue {
		if d.abandon.Load() {
			d.drop(event, DropAbandoned)
			continue
		}
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event, stamping an ID and timestamp when missing.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, DropClosed)
		return
	}

	if d.cfg.DropIfFull && !d.mustDeliver(event.EventType) {
		select {
		case d.queue <- event:
		default:
			d.drop(event, DropBufferFull)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event, DropCanceled)
	case <-d.stop:
		d.drop(event, DropClosed)
	}
}

func (d *Dispatcher) mustDeliver(eventType string) bool {
	return d.cfg.MustDeliver != nil && d.cfg.MustDeliver(eventType)
}

func (d *Dispatcher) drop(event Event, reason DropReason) {
	d.dropped.Add(1)
	d.dropMu.Lock()
	d.byType[event.EventType]++
	d.dropMu.Unlock()
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(event, reason)
	}
}

// Shutdown stops accepting events and waits until the queue reaches the sink
// or ctx ends. On ctx expiry the remaining events are dropped as abandoned
// and ErrDrainTimeout is returned; a sink stuck in Emit is not interrupted.
// Later calls return nil immediately.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	first := false
	d.closeOnce.Do(func() {
		first = true
		close(d.stop)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	if !first {
		return nil
	}

	select {
	case <-d.finished:
		return nil
	case <-ctx.Done():
		d.abandon.Store(true)
		return ErrDrainTimeout
	}
}

// Close is Shutdown without a deadline.
func (d *Dispatcher) Close() {
	_ = d.Shutdown(context.Background())
}

// Dropped returns the total number of lost events.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType returns lost event counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	out := make(map[string]uint64, len(d.byType))
	for k, v := range d.byType {
		out[k] = v
	}
	return out
}
