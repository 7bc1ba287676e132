package control

import (
	"log"
	"sync"
)

// Workers runs background tasks, one goroutine per task.
// Background tasks must not touch environments or clients.
type Workers struct {
	wg sync.WaitGroup
}

// NewWorkers creates an empty pool.
func NewWorkers() *Workers {
	return &Workers{}
}

// Go runs fn on a new goroutine.
func (w *Workers) Go(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[control] background task panicked: %v", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until every task started with Go has returned.
func (w *Workers) Wait() {
	w.wg.Wait()
}
