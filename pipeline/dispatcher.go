package pipeline

import (
	"context"
	"sync"
)

// Dispatcher is the home execution context of one stream.
//
// Work posted from any goroutine runs one item at a time on the goroutine
// that called Run, in posting order. Filters post every backend callback
// here before touching their own state, so they need no locks.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	exited bool
	wake   chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
	}
}

// Post schedules fn on the home goroutine. It never blocks, including when
// called from the home goroutine itself. After Exit, posted work is dropped.
func (d *Dispatcher) Post(fn func()) {
	d.mu.Lock()
	if d.exited {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes posted work until done reports true or ctx is cancelled.
// done is checked on the home goroutine after every item.
func (d *Dispatcher) Run(ctx context.Context, done func() bool) error {
	for {
		for {
			if done() {
				return nil
			}
			fn, ok := d.next()
			if !ok {
				break
			}
			fn()
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Exit drops queued work and makes later Posts no-ops.
func (d *Dispatcher) Exit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exited = true
	d.queue = nil
}

// Pending returns the number of queued items.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) next() (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, false
	}
	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return fn, true
}
