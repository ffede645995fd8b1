// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package settings provides the per-user key/value store that persists the
// voice selection, together with change observers.
package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("settings: store closed")

// Observer is notified with the user whose value changed.
type Observer func(user int)

// Store is a per-user string settings store.
type Store interface {
	// Lookup returns the value and whether the key is set at all. A key set to ""
	// is distinct from a missing key.
	Lookup(ctx context.Context, key string, user int) (string, bool, error)
	PutString(ctx context.Context, key, value string, user int) error
	// Delete unsets key.
	Delete(ctx context.Context, key string, user int) error
	// Users returns the users that have key set, in ascending order.
	Users(ctx context.Context, key string) ([]int, error)
	// Watch registers fn for changes of key and returns a function that removes it.
	// Observers run asynchronously, in order, on a dispatcher goroutine.
	Watch(key string, fn Observer) (cancel func())
	Close() error
}

// GetString returns the value of key or "" when unset.
func GetString(ctx context.Context, s Store, key string, user int) (string, error) {
	v, _, err := s.Lookup(ctx, key, user)
	return v, err
}

type notification struct {
	key  string
	user int
}

type watch struct {
	id  string
	key string
	fn  Observer
}

// notifier fans out change notifications on a single goroutine so that a
// writer holding its own locks is never re-entered by an observer. Changes of
// the same key and user that are still waiting for delivery are coalesced;
// observers read the current value, so one delivery covers them all.
type notifier struct {
	mu      sync.RWMutex
	watches []*watch

	pendingMu sync.Mutex
	wake      *sync.Cond
	pending   []notification
	queued    map[notification]bool
	closed    bool

	done     chan struct{}
	stopOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		queued: make(map[notification]bool),
		done:   make(chan struct{}),
	}
	n.wake = sync.NewCond(&n.pendingMu)
	go n.run()
	return n
}

func (n *notifier) watch(key string, fn Observer) func() {
	w := &watch{id: uuid.NewString(), key: key, fn: fn}
	n.mu.Lock()
	n.watches = append(n.watches, w)
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, existing := range n.watches {
			if existing.id == w.id {
				n.watches = append(n.watches[:i], n.watches[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) notify(key string, user int) {
	note := notification{key: key, user: user}
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if n.closed || n.queued[note] {
		return
	}
	n.queued[note] = true
	n.pending = append(n.pending, note)
	n.wake.Signal()
}

// next blocks until a notification is pending. It returns false once the
// notifier is closed and drained.
func (n *notifier) next() (notification, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for len(n.pending) == 0 && !n.closed {
		n.wake.Wait()
	}
	if len(n.pending) == 0 {
		return notification{}, false
	}
	note := n.pending[0]
	n.pending = n.pending[1:]
	delete(n.queued, note)
	return note, true
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		note, ok := n.next()
		if !ok {
			return
		}
		n.deliver(note)
	}
}

func (n *notifier) deliver(note notification) {
	n.mu.RLock()
	active := make([]*watch, 0, len(n.watches))
	for _, w := range n.watches {
		if w.key == note.key {
			active = append(active, w)
		}
	}
	n.mu.RUnlock()

	for _, w := range active {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in settings observer for %s: %v", note.key, r)
				}
			}()
			w.fn(note.user)
		}()
	}
}

// close drains pending notifications and stops the dispatcher.
func (n *notifier) close() {
	n.stopOnce.Do(func() {
		n.pendingMu.Lock()
		n.closed = true
		n.wake.Broadcast()
		n.pendingMu.Unlock()
		<-n.done
	})
}
