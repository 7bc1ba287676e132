package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrLoopStopped is returned when work is submitted to a loop that has been stopped.
var ErrLoopStopped = errors.New("control loop stopped")

// Ctx proves that the holder is running on the control loop goroutine.
// Its zero value is never handed out; only Loop constructs one.
type Ctx struct {
	loop *Loop
}

// Loop returns the loop this context belongs to.
func (c *Ctx) Loop() *Loop {
	return c.loop
}

// Loop is a single goroutine executing submitted tasks in FIFO order.
// The queue is unbounded so that tasks may submit follow-up tasks without
// blocking the loop itself.
type Loop struct {
	ctx     *Ctx
	queue   []func(*Ctx)
	wake    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewLoop creates a loop. Call Start before submitting work that must run.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	l.ctx = &Ctx{loop: l}
	return l
}

// Start launches the loop goroutine. Calling Start more than once is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// Submit enqueues fn to run on the loop. It never blocks on fn and returns
// false when the loop has already been stopped.
func (l *Loop) Submit(fn func(*Ctx)) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return. If ctx ends first,
// Call returns ctx.Err() and fn still runs once the loop reaches it.
func (l *Loop) Call(ctx context.Context, fn func(*Ctx) error) error {
	result := make(chan error, 1)
	if !l.Submit(func(c *Ctx) { result <- fn(c) }) {
		return ErrLoopStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further submissions, runs everything already queued and
// waits for the loop goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	started := l.started
	l.mu.Unlock()

	if !started {
		close(l.done)
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}

		if len(batch) == 0 {
			if stopped {
				return
			}
			<-l.wake
		}
	}
}

// exec keeps a panicking task from taking the whole loop down.
func (l *Loop) exec(fn func(*Ctx)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[control] task panicked: %v", fmt.Sprint(r))
		}
	}()
	fn(l.ctx)
}
