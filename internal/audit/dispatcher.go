package audit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the queue is full instead of blocking the caller.
	DropIfFull bool
}

// secretKeys are metadata key fragments that never leave the process.
var secretKeys = []string{"token", "password", "secret", "code_verifier"}

// Dispatcher relays events to a Sink on its own goroutine. A nil Dispatcher
// accepts and discards everything.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool
	drained    chan struct{}
	dropped    atomic.Uint64

	// mu orders Emit against Close so nothing is sent on a closed queue.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		dropIfFull: cfg.DropIfFull,
		drained:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.drained)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. Metadata whose key names a credential is removed first.
// In blocking mode Emit waits for queue space or ctx.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event.Metadata = redact(event.Metadata)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops intake and returns once every queued event reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.drained
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.drained
}

// Dropped counts events lost to a full queue or a cancelled caller.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func redact(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return meta
	}
	var out map[string]string
	for k := range meta {
		if !isSecretKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(meta))
			for k2, v := range meta {
				out[k2] = v
			}
		}
		delete(out, k)
	}
	if out == nil {
		return meta
	}
	return out
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
