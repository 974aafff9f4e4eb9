package trading

import (
	"context"
	"sync"
	"time"

	"github.com/vikasavnish/autotrade/internal/metrics"
)

// DispatchState is the lifecycle of a dispatcher's ticker.
type DispatchState int

const (
	Stopped DispatchState = iota
	Running
)

func (s DispatchState) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "STOPPED"
}

// Dispatcher is a FIFO drained at most limit() items per tick. The ticker
// starts on the first Enqueue and stops once the queue is empty. Each item is
// handled in its own goroutine so a slow submission never delays a tick.
type Dispatcher[T any] struct {
	name     string
	ctx      context.Context
	interval time.Duration
	limit    func() int
	handle   func(ctx context.Context, item T)

	// key identifies items that must not be queued twice while pending; an
	// empty key opts the item out.
	key func(T) string

	mu      sync.Mutex
	queue   []T
	pending map[string]struct{}
	state   DispatchState
	stop    chan struct{}

	wg sync.WaitGroup
}

func NewDispatcher[T any](ctx context.Context, name string, interval time.Duration, limit func() int, handle func(context.Context, T)) *Dispatcher[T] {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher[T]{
		name:     name,
		ctx:      ctx,
		interval: interval,
		limit:    limit,
		handle:   handle,
		pending:  make(map[string]struct{}),
	}
}

// WithKey enables de-duplication by key.
func (d *Dispatcher[T]) WithKey(key func(T) string) *Dispatcher[T] {
	d.key = key
	return d
}

// Enqueue appends items and makes sure the ticker runs. It returns how many
// were accepted.
func (d *Dispatcher[T]) Enqueue(items ...T) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	accepted := 0
	for _, it := range items {
		if k := d.keyOf(it); k != "" {
			if _, dup := d.pending[k]; dup {
				continue
			}
			d.pending[k] = struct{}{}
		}
		d.queue = append(d.queue, it)
		accepted++
	}
	metrics.QueueDepth.WithLabelValues(d.name).Set(float64(len(d.queue)))

	if len(d.queue) > 0 && d.state == Stopped {
		d.state = Running
		d.stop = make(chan struct{})
		go d.loop(d.stop)
	}
	return accepted
}

func (d *Dispatcher[T]) loop(stop chan struct{}) {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-d.ctx.Done():
			d.Stop()
			return
		case <-t.C:
			d.Tick()
		}
	}
}

// Tick drains one batch and launches its submissions.
func (d *Dispatcher[T]) Tick() int {
	d.mu.Lock()
	n := 1
	if d.limit != nil {
		if l := d.limit(); l > 0 {
			n = l
		}
	}
	if n > len(d.queue) {
		n = len(d.queue)
	}
	batch := make([]T, n)
	copy(batch, d.queue[:n])
	d.queue = d.queue[n:]
	if len(d.queue) == 0 {
		d.queue = nil
		d.stopLocked()
	}
	metrics.QueueDepth.WithLabelValues(d.name).Set(float64(len(d.queue)))
	d.wg.Add(len(batch))
	d.mu.Unlock()

	for _, it := range batch {
		go func(it T) {
			defer d.wg.Done()
			defer d.release(it)
			d.handle(d.ctx, it)
		}(it)
	}
	return len(batch)
}

// Stop halts the ticker and discards queued items. In-flight submissions
// finish on their own.
func (d *Dispatcher[T]) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := len(d.queue)
	for _, it := range d.queue {
		if k := d.keyOf(it); k != "" {
			delete(d.pending, k)
		}
	}
	d.queue = nil
	d.stopLocked()
	metrics.QueueDepth.WithLabelValues(d.name).Set(0)
	return dropped
}

func (d *Dispatcher[T]) stopLocked() {
	if d.state == Running {
		close(d.stop)
		d.state = Stopped
	}
}

func (d *Dispatcher[T]) release(it T) {
	k := d.keyOf(it)
	if k == "" {
		return
	}
	d.mu.Lock()
	delete(d.pending, k)
	d.mu.Unlock()
}

func (d *Dispatcher[T]) keyOf(it T) string {
	if d.key == nil {
		return ""
	}
	return d.key(it)
}

// Pending reports whether an item with key is queued or in flight.
func (d *Dispatcher[T]) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher[T]) State() DispatchState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Wait blocks until every launched submission has returned.
func (d *Dispatcher[T]) Wait() {
	d.wg.Wait()
}
