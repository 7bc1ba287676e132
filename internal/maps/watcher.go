package maps

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a Registry whenever its backing file changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	onReload func(n int, err error)
	closeCh  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Watch starts watching the directory containing the registry's file. The
// directory is watched rather than the file so that editors replacing the file
// by rename keep triggering reloads.
func Watch(registry *Registry, onReload func(n int, err error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(registry.Path())); err != nil {
		_ = w.Close()
		return nil, err
	}

	watcher := &Watcher{
		watcher:  w,
		registry: registry,
		onReload: onReload,
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	target := filepath.Clean(w.registry.Path())

	// Reload once the file has been quiet for reloadDebounce.
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			n, err := w.registry.Reload()
			if err != nil {
				log.Printf("[maps] reload after change failed: %v", err)
			}
			if w.onReload != nil {
				w.onReload(n, err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[maps] watcher error: %v", err)
		case <-w.closeCh:
			return
		}
	}
}
