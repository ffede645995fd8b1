// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
	"github.com/traylinx/voiceswitch/internal/registry"
	"github.com/traylinx/voiceswitch/internal/resolver"
	"github.com/traylinx/voiceswitch/internal/settings"
)

// journal records collaborator calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries
	j.entries = nil
	return out
}

type fakeLauncher struct {
	j           *journal
	mu          sync.Mutex
	live        map[*fakeHandle]struct{}
	failStart   map[string]bool
	panicStart  map[string]bool
	shutdownErr error
	// overlaps counts starts made while another handle was still live.
	overlaps int
}

func (l *fakeLauncher) Start(_ context.Context, ref component.Ref, user int) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panicStart[ref.Flatten()] {
		panic("launcher crashed starting " + ref.Flatten())
	}
	if len(l.live) > 0 {
		l.overlaps++
	}
	if l.failStart[ref.Flatten()] {
		l.j.add("start-failed:%s@%d", ref, user)
		return nil, fmt.Errorf("cannot bind %s", ref)
	}
	l.j.add("start:%s@%d", ref, user)
	h := &fakeHandle{l: l, ref: ref, user: user}
	l.live[h] = struct{}{}
	return h, nil
}

func (l *fakeLauncher) liveHandles() []*fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*fakeHandle, 0, len(l.live))
	for h := range l.live {
		out = append(out, h)
	}
	return out
}

type fakeHandle struct {
	l       *fakeLauncher
	ref     component.Ref
	user    int
	session bool
	models  int
}

func (h *fakeHandle) Shutdown(context.Context) error {
	h.l.mu.Lock()
	delete(h.l.live, h)
	err := h.l.shutdownErr
	h.l.mu.Unlock()
	h.l.j.add("shutdown:%s@%d", h.ref, h.user)
	return err
}

func (h *fakeHandle) ShowSession(context.Context, map[string]interface{}) bool {
	h.session = true
	return true
}

func (h *fakeHandle) HideSession(context.Context) bool {
	was := h.session
	h.session = false
	return was
}

func (h *fakeHandle) SessionRunning() bool { return h.session }

func (h *fakeHandle) SoundModelsChanged(context.Context) { h.models++ }

type fakeTrigger struct {
	j           *journal
	startStatus int
}

func (f *fakeTrigger) Unload(_ context.Context, id int) int {
	f.j.add("unload:%d", id)
	return keyphrase.StatusOK
}

func (f *fakeTrigger) StartRecognition(_ context.Context, id int, _ *keyphrase.Model) int {
	f.j.add("recognize:%d", id)
	return f.startStatus
}

func (f *fakeTrigger) StopRecognition(_ context.Context, id int) int {
	f.j.add("stop:%d", id)
	return keyphrase.StatusOK
}

type fixture struct {
	ctx      context.Context
	catalog  *registry.Catalog
	store    *settings.MemoryStore
	launcher *fakeLauncher
	trigger  *fakeTrigger
	journal  *journal
	bus      *events.Bus
	c        *Controller
}

var (
	voiceX = component.NewRef("com.x", ".Voice")
	recX   = component.NewRef("com.x", ".Rec")
	voiceY = component.NewRef("com.y", ".Voice")
	recY   = component.NewRef("com.y", ".Rec")
	voiceZ = component.NewRef("com.z", ".Voice")
)

func voicePackage(pkg string, system bool, withRecognizer bool) *registry.Manifest {
	voice := registry.ComponentManifest{Class: ".Voice", Capabilities: []string{"interaction"}, SupportsAssist: true}
	m := &registry.Manifest{Package: pkg, System: system}
	if withRecognizer {
		voice.Recognizer = ".Rec"
		m.Services = append(m.Services, registry.ComponentManifest{Class: ".Rec", Capabilities: []string{"recognition"}})
	}
	m.Services = append([]registry.ComponentManifest{voice}, m.Services...)
	return m
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		catalog: registry.NewCatalog(),
		store:   settings.NewMemoryStore(),
		journal: &journal{},
		bus:     events.NewBus(),
	}
	t.Cleanup(func() {
		_ = f.store.Close()
		f.bus.Shutdown()
	})
	for _, m := range []*registry.Manifest{
		voicePackage("com.x", true, true),
		voicePackage("com.y", true, true),
		voicePackage("com.z", false, false),
	} {
		_, err := f.catalog.Install(m)
		require.NoError(t, err)
	}
	f.launcher = &fakeLauncher{j: f.journal, live: make(map[*fakeHandle]struct{}), failStart: make(map[string]bool), panicStart: make(map[string]bool)}
	f.trigger = &fakeTrigger{j: f.journal}

	res, err := resolver.New(f.catalog, "")
	require.NoError(t, err)
	opts := Options{
		Store:        f.store,
		Candidates:   res,
		Launcher:     f.launcher,
		SoundTrigger: f.trigger,
		Bus:          f.bus,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.c, err = New(opts)
	require.NoError(t, err)
	return f
}

func (f *fixture) setInteractor(t *testing.T, user int, ref *component.Ref) {
	t.Helper()
	require.NoError(t, settings.PutRef(f.ctx, f.store, component.KeyInteractor, ref, user))
}

func (f *fixture) selection(t *testing.T, user int) component.Selection {
	t.Helper()
	sel, err := settings.LoadSelection(f.ctx, f.store, user)
	require.NoError(t, err)
	return sel
}
