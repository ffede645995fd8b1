// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps settings in memory. It is used when no database path is configured.
type MemoryStore struct {
	values   map[int]map[string]string
	mu       sync.RWMutex
	notifier *notifier
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[int]map[string]string),
		notifier: newNotifier(),
	}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(ctx context.Context, key string, user int) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.values[user][key]
	return v, ok, nil
}

// PutString implements Store.
func (s *MemoryStore) PutString(ctx context.Context, key, value string, user int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	userValues, ok := s.values[user]
	if !ok {
		userValues = make(map[string]string)
		s.values[user] = userValues
	}
	old, existed := userValues[key]
	userValues[key] = value
	s.mu.Unlock()

	if !existed || old != value {
		s.notifier.notify(key, user)
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string, user int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, existed := s.values[user][key]
	delete(s.values[user], key)
	s.mu.Unlock()

	if existed {
		s.notifier.notify(key, user)
	}
	return nil
}

// Users implements Store.
func (s *MemoryStore) Users(ctx context.Context, key string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var users []int
	for user, values := range s.values {
		if _, ok := values[key]; ok {
			users = append(users, user)
		}
	}
	sort.Ints(users)
	return users, nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(key string, fn Observer) func() {
	return s.notifier.watch(key, fn)
}

// Close stops observer delivery after flushing pending notifications.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notifier.close()
	return nil
}
