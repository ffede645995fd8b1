// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSwitchIfNeeded_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)

	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.SwitchIfNeeded(f.ctx, false)

	assert.Equal(t, []string{"start:com.x/.Voice@0"}, f.journal.take())
	snap := f.c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, "com.x/.Voice", snap.Active)
	assert.Equal(t, uint64(1), snap.Starts)
	assert.Equal(t, uint64(0), snap.Shutdowns)
	assert.Equal(t, uint64(2), snap.NoOps)
}

func TestSwitchIfNeeded_CleanupBeforeSwap(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	f.c.keyphrases.MarkLoaded(3)
	f.c.keyphrases.MarkLoaded(1)
	f.setInteractor(t, 0, &voiceY)
	f.c.SwitchIfNeeded(f.ctx, false)

	assert.Equal(t, []string{
		"unload:1",
		"unload:3",
		"shutdown:com.x/.Voice@0",
		"start:com.y/.Voice@0",
	}, f.journal.take())
	assert.Empty(t, f.c.Snapshot().LoadedKeyphrases)
	assert.Len(t, f.launcher.liveHandles(), 1)
}

func TestSwitchIfNeeded_ClearedInteractorStops(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.keyphrases.MarkLoaded(9)

	f.setInteractor(t, 0, nil)
	f.c.SwitchIfNeeded(f.ctx, false)

	assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	assert.Nil(t, f.c.ActiveComponent())
	assert.Empty(t, f.launcher.liveHandles())
	assert.Equal(t, 0, f.c.keyphrases.Len())
}

func TestSwitchIfNeeded_Force(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	f.c.SwitchIfNeeded(f.ctx, true)
	assert.Equal(t, []string{"shutdown:com.x/.Voice@0", "start:com.x/.Voice@0"}, f.journal.take())
}

func TestSwitchIfNeeded_UninstalledOrMalformed(t *testing.T) {
	f := newFixture(t, nil)
	gone := component.NewRef("com.gone", ".Voice")
	f.setInteractor(t, 0, &gone)
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.Equal(t, StateEmpty, f.c.Snapshot().State)

	require.NoError(t, f.store.PutString(f.ctx, component.KeyInteractor, "not-a-component", 0))
	f.c.SwitchIfNeeded(f.ctx, true)
	assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	assert.Empty(t, f.journal.take())
}

func TestSwitchIfNeeded_ShutdownFailureDoesNotBlockStart(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.launcher.shutdownErr = errors.New("service did not respond")

	f.setInteractor(t, 0, &voiceY)
	f.c.SwitchIfNeeded(f.ctx, false)

	assert.Equal(t, "com.y/.Voice", f.c.Snapshot().Active)
}

func TestSwitchIfNeeded_StartFailureLeavesEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.launcher.failStart["com.x/.Voice"] = true
	f.setInteractor(t, 0, &voiceX)

	f.c.SwitchIfNeeded(f.ctx, false)
	snap := f.c.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Equal(t, uint64(1), snap.StartFailures)

	// the next trigger tries again
	delete(f.launcher.failStart, "com.x/.Voice")
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.Equal(t, StateActive, f.c.Snapshot().State)
}

func TestSwitchIfNeeded_NonSystemExplicitChoiceStarts(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceZ)
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.Equal(t, "com.z/.Voice", f.c.Snapshot().Active)
}

func TestSwitchIfNeeded_SafeMode(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SafeMode = true })
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, true)
	assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	assert.True(t, f.c.Snapshot().SafeMode)
	assert.Empty(t, f.journal.take())
}

func TestSetCurrentUser(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.setInteractor(t, 10, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	f.c.SetCurrentUser(f.ctx, 10)
	assert.Equal(t, []string{"shutdown:com.x/.Voice@0", "start:com.x/.Voice@10"}, f.journal.take(),
		"same component for another user is a new implementation")
	snap := f.c.Snapshot()
	assert.Equal(t, 10, snap.User)
	require.NotNil(t, snap.ActiveUser)
	assert.Equal(t, 10, *snap.ActiveUser)

	f.c.SetCurrentUser(f.ctx, 11)
	assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	assert.Equal(t, 11, f.c.CurrentUser())
}

func TestForceRestart(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.keyphrases.MarkLoaded(4)
	f.journal.take()

	f.c.ForceRestart(f.ctx)
	assert.Equal(t, []string{"unload:4", "shutdown:com.x/.Voice@0", "start:com.x/.Voice@0"}, f.journal.take())
	assert.Len(t, f.launcher.liveHandles(), 1)
}

func TestImplementationChangedEvents(t *testing.T) {
	f := newFixture(t, nil)
	var mu sync.Mutex
	var got []*events.Event
	f.bus.Subscribe(events.EventImplementationChanged, func(evt *events.Event) {
		// the controller lock is released before delivery
		_ = f.c.CurrentUser()
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.setInteractor(t, 0, nil)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.SwitchIfNeeded(f.ctx, true)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "com.x/.Voice", got[0].Component)
	assert.Equal(t, string(StateActive), got[0].State)
	assert.Equal(t, "", got[1].Component)
	assert.Equal(t, string(StateEmpty), got[1].State)
}

func TestSessionOperations(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.c.ShowSession(f.ctx, nil))
	assert.False(t, f.c.HideSession(f.ctx))
	assert.False(t, f.c.IsSessionRunning())
	assert.False(t, f.c.ActiveSupportsAssist())
	assert.ErrorIs(t, f.c.SetUIHints(f.ctx, []byte(`{}`)), ErrNoActiveImplementation)

	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.True(t, f.c.ActiveSupportsAssist())
	assert.False(t, f.c.ActiveSupportsLaunchFromKeyguard())

	var hints []byte
	f.bus.Subscribe(events.EventUIHintsChanged, func(evt *events.Event) { hints = evt.Hints })
	assert.True(t, f.c.ShowSession(f.ctx, map[string]interface{}{"a": 1}))
	assert.True(t, f.c.IsSessionRunning())
	assert.True(t, f.c.Snapshot().SessionRunning)
	require.NoError(t, f.c.SetUIHints(f.ctx, []byte(`{"hint":true}`)))
	assert.JSONEq(t, `{"hint":true}`, string(hints))
	assert.True(t, f.c.HideSession(f.ctx))
}

func openModels(t *testing.T) *keyphrase.ModelStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := keyphrase.NewModelStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func TestKeyphraseOperations(t *testing.T) {
	models := openModels(t)
	f := newFixture(t, func(o *Options) { o.Models = models })

	_, err := f.c.StartRecognition(f.ctx, 1, "en-US")
	assert.ErrorIs(t, err, ErrNoActiveImplementation)

	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.journal.take()

	status, err := f.c.StartRecognition(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusError, status, "no enrolled model")
	assert.Empty(t, f.c.Snapshot().LoadedKeyphrases)

	status, err = f.c.UpdateKeyphraseModel(f.ctx, &keyphrase.Model{KeyphraseID: 1, Locale: "en-US", Text: "hey x", ModelID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusOK, status)
	assert.Equal(t, 1, f.launcher.liveHandles()[0].models)

	enrolled, err := f.c.IsEnrolled(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.True(t, enrolled)

	// loaded even though the sound trigger fails
	f.trigger.startStatus = keyphrase.StatusError
	status, err = f.c.StartRecognition(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusError, status)
	assert.Equal(t, []int{1}, f.c.Snapshot().LoadedKeyphrases)

	status, err = f.c.StopRecognition(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusOK, status)

	f.setInteractor(t, 0, &voiceY)
	f.c.SwitchIfNeeded(f.ctx, false)
	assert.Equal(t, []string{"recognize:1", "stop:1", "unload:1", "shutdown:com.x/.Voice@0", "start:com.y/.Voice@0"}, f.journal.take())

	status, err = f.c.DeleteKeyphraseModel(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusOK, status)
	status, err = f.c.DeleteKeyphraseModel(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.Equal(t, keyphrase.StatusError, status)

	enrolled, err = f.c.IsEnrolled(f.ctx, 1, "en-US")
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	f.setInteractor(t, 0, &voiceX)
	f.c.SwitchIfNeeded(f.ctx, false)
	f.c.keyphrases.MarkLoaded(2)

	f.c.Shutdown(f.ctx)
	assert.Equal(t, StateEmpty, f.c.Snapshot().State)
	assert.Empty(t, f.launcher.liveHandles())
	assert.Equal(t, 0, f.c.keyphrases.Len())
}
