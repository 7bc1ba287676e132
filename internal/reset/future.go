package reset

import (
	"context"
	"sync"

	"github.com/dreamware/arena/internal/world"
)

// Future is the eventual result of a hard reset. It resolves exactly once and
// may be observed from any goroutine.
type Future struct {
	done chan struct{}
	env  world.Environment
	err  error
	once sync.Once
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(env world.Environment, err error) {
	f.once.Do(func() {
		f.env, f.err = env, err
		close(f.done)
	})
}

// Done is closed once the reset has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the reset finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) (world.Environment, error) {
	select {
	case <-f.done:
		return f.env, f.err
	case <-ctx.Done():
		return world.Environment{}, ctx.Err()
	}
}
