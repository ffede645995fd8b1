// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package keyphrase tracks keyphrase models loaded into the active voice
// implementation and stores enrolled models.
package keyphrase

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Sound trigger status codes.
const (
	StatusOK    = 0
	StatusError = -1
)

// SoundTrigger is the recognition engine that keyphrase models are loaded into.
type SoundTrigger interface {
	Unload(ctx context.Context, keyphraseID int) int
	StartRecognition(ctx context.Context, keyphraseID int, model *Model) int
	StopRecognition(ctx context.Context, keyphraseID int) int
}

// Registry is the set of keyphrase ids currently loaded in the sound trigger.
type Registry struct {
	trigger SoundTrigger
	mu      sync.Mutex
	loaded  map[int]struct{}
}

// NewRegistry creates an empty registry draining through trigger.
func NewRegistry(trigger SoundTrigger) *Registry {
	return &Registry{
		trigger: trigger,
		loaded:  make(map[int]struct{}),
	}
}

// MarkLoaded records that keyphraseID has been handed to the sound trigger.
func (r *Registry) MarkLoaded(keyphraseID int) {
	r.mu.Lock()
	r.loaded[keyphraseID] = struct{}{}
	r.mu.Unlock()
}

// MarkUnloaded forgets keyphraseID.
func (r *Registry) MarkUnloaded(keyphraseID int) {
	r.mu.Lock()
	delete(r.loaded, keyphraseID)
	r.mu.Unlock()
}

// Loaded returns the loaded ids in ascending order.
func (r *Registry) Loaded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of loaded ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loaded)
}

// DrainAll unloads every tracked id and empties the set. Unload failures are
// logged; the id is forgotten either way.
func (r *Registry) DrainAll(ctx context.Context) {
	for _, id := range r.Loaded() {
		if status := r.trigger.Unload(ctx, id); status != StatusOK {
			log.WithField("keyphrase", id).Warnf("Failed to unload keyphrase model, status %d", status)
		}
	}
	r.mu.Lock()
	r.loaded = make(map[int]struct{})
	r.mu.Unlock()
}
