// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
	"github.com/traylinx/voiceswitch/internal/settings"
)

// unavailableStore fails every read while down is set.
type unavailableStore struct {
	*settings.MemoryStore
	down atomic.Bool
}

func (s *unavailableStore) Lookup(ctx context.Context, key string, user int) (string, bool, error) {
	if s.down.Load() {
		return "", false, errors.New("settings backend unavailable")
	}
	return s.MemoryStore.Lookup(ctx, key, user)
}

func completesWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("controller lock still held")
	}
}

func TestUpdate_PanicReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	var changed []*events.Event
	var mu sync.Mutex
	f.bus.Subscribe(events.EventImplementationChanged, func(evt *events.Event) {
		mu.Lock()
		changed = append(changed, evt)
		mu.Unlock()
	})

	f.launcher.mu.Lock()
	f.launcher.panicStart[voiceY.Flatten()] = true
	f.launcher.mu.Unlock()
	f.setInteractor(t, 0, &voiceY)

	var err error
	assert.NotPanics(t, func() {
		err = f.c.Update(f.ctx, func(tx *Txn) error {
			tx.SwitchIfNeeded(false)
			return nil
		})
	})
	assert.ErrorContains(t, err, "launcher crashed")
	assert.Equal(t, []string{"shutdown:com.x/.Voice@0"}, f.journal.take())

	completesWithin(t, time.Second, func() {
		assert.Equal(t, 0, f.c.CurrentUser())
		assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	})
	mu.Lock()
	require.Len(t, changed, 1, "the interrupted transition is still published")
	assert.Equal(t, string(StateEmpty), changed[0].State)
	mu.Unlock()

	f.launcher.mu.Lock()
	delete(f.launcher.panicStart, voiceY.Flatten())
	f.launcher.mu.Unlock()
	completesWithin(t, time.Second, func() { f.c.SwitchIfNeeded(f.ctx, false) })
	assert.Equal(t, []string{"start:com.y/.Voice@0"}, f.journal.take())
	assert.Equal(t, "com.y/.Voice", f.c.Snapshot().Active)
}

func TestSwitchIfNeeded_CanceledContextKeepsImplementation(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.c.SwitchIfNeeded(ctx, false)

	assert.Empty(t, f.journal.take())
	snap := f.c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, "com.x/.Voice", snap.Active)
}

func TestClearSelection_CanceledContextCompletes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.InitForUser(f.ctx, 0))
	require.NotNil(t, f.selection(t, 0).Interactor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.c.ClearSelection(ctx, 0))
	assert.Equal(t, component.Selection{}, f.selection(t, 0))
}

func TestSwitchIfNeeded_SettingsReadFailureKeepsState(t *testing.T) {
	var store *unavailableStore
	f := newFixture(t, func(o *Options) {
		store = &unavailableStore{MemoryStore: o.Store.(*settings.MemoryStore)}
		o.Store = store
	})
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	store.down.Store(true)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.SwitchIfNeeded(f.ctx, true)
	assert.Empty(t, f.journal.take())
	assert.Equal(t, "com.x/.Voice", f.c.Snapshot().Active)

	store.down.Store(false)
	f.setInteractor(t, 0, &voiceY)
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.Equal(t, []string{"shutdown:com.x/.Voice@0", "start:com.y/.Voice@0"}, f.journal.take())
}

func TestDeleteKeyphraseModel_UnmarksWithoutEnrollment(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Models = openModels(t) })
	f.c.keyphrases.MarkLoaded(5)

	status, err := f.c.DeleteKeyphraseModel(f.ctx, 5, "en-US")
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusError, status, "nothing was enrolled")
	assert.Empty(t, f.c.Snapshot().LoadedKeyphrases)
	assert.Equal(t, []string{"unload:5"}, f.journal.take())
}

// TestConcurrentTriggers fires triggers from several goroutines at once; run
// with -race.
func TestConcurrentTriggers(t *testing.T) {
	f := newFixture(t, nil)
	refs := []*component.Ref{&voiceX, &voiceY, nil, &voiceZ}
	users := []int{0, 10}

	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				switch (g + i) % 5 {
				case 0:
					_ = settings.PutRef(f.ctx, f.store, component.KeyInteractor, refs[i%len(refs)], users[i%2])
				case 1:
					f.c.SwitchIfNeeded(f.ctx, false)
				case 2:
					f.c.SetCurrentUser(f.ctx, users[(g+i)%2])
				case 3:
					f.c.keyphrases.MarkLoaded(i)
					f.c.ForceRestart(f.ctx)
				case 4:
					_ = f.c.Snapshot()
					_ = f.c.ActiveComponent()
				}
			}
		}(g)
	}
	wg.Wait()

	f.launcher.mu.Lock()
	overlaps := f.launcher.overlaps
	f.launcher.mu.Unlock()
	assert.Zero(t, overlaps, "a start happened while another implementation was live")

	snap := f.c.Snapshot()
	live := f.launcher.liveHandles()
	assert.LessOrEqual(t, len(live), 1)
	diff := snap.Starts - snap.Shutdowns
	assert.Contains(t, []uint64{0, 1}, diff)
	assert.Equal(t, uint64(len(live)), diff)
	if snap.State == StateActive {
		require.Len(t, live, 1)
		assert.Equal(t, snap.User, live[0].user)
	}
}
