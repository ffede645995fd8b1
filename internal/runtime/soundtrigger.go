// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
)

// LocalSoundTrigger keeps loaded keyphrase models in memory.
type LocalSoundTrigger struct {
	mu          sync.Mutex
	models      map[int]*keyphrase.Model
	recognizing map[int]bool
}

// NewLocalSoundTrigger creates an empty sound trigger.
func NewLocalSoundTrigger() *LocalSoundTrigger {
	return &LocalSoundTrigger{
		models:      make(map[int]*keyphrase.Model),
		recognizing: make(map[int]bool),
	}
}

// Unload implements keyphrase.SoundTrigger. Unloading an unknown id succeeds.
func (s *LocalSoundTrigger) Unload(ctx context.Context, keyphraseID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, keyphraseID)
	delete(s.recognizing, keyphraseID)
	return keyphrase.StatusOK
}

// StartRecognition implements keyphrase.SoundTrigger.
func (s *LocalSoundTrigger) StartRecognition(ctx context.Context, keyphraseID int, model *keyphrase.Model) int {
	if model == nil {
		return keyphrase.StatusError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[keyphraseID] = model
	s.recognizing[keyphraseID] = true
	log.WithField("keyphrase", keyphraseID).Debugf("Recognition started for %q", model.Text)
	return keyphrase.StatusOK
}

// StopRecognition implements keyphrase.SoundTrigger.
func (s *LocalSoundTrigger) StopRecognition(ctx context.Context, keyphraseID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recognizing[keyphraseID] {
		return keyphrase.StatusError
	}
	s.recognizing[keyphraseID] = false
	return keyphrase.StatusOK
}

// Loaded returns the ids of loaded models in ascending order.
func (s *LocalSoundTrigger) Loaded() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
