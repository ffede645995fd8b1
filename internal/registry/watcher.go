// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for a burst of file events to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher hot-reloads a Catalog from its manifest directory and reports the
// resulting package changes.
type Watcher struct {
	catalog  *Catalog
	dir      string
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. A debounce of zero uses DefaultDebounce.
func NewWatcher(catalog *Catalog, dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		catalog:  catalog,
		dir:      dir,
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins watching. onChange is called from the watcher goroutine for
// every change produced by a reload.
func (w *Watcher) Start(onChange func(PackageChange)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("catalog watcher: watch %s: %w", w.dir, err)
	}
	w.watcher = fsw

	go w.loop(onChange)
	return nil
}

func (w *Watcher) loop(onChange func(PackageChange)) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugf("Catalog directory changed (%s)", event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			changes, err := w.catalog.Reload(w.dir)
			if err != nil {
				log.Errorf("Failed to reload catalog: %v", err)
				continue
			}
			log.Infof("Catalog reloaded, %d package changes", len(changes))
			for _, change := range changes {
				onChange(change)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Catalog watcher error: %v", err)
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Stop ends the watch loop and waits for it to exit. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.watcher == nil {
			return
		}
		<-w.done
		_ = w.watcher.Close()
	})
}
