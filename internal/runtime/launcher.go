// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtime provides in-process host adapters for voice interaction
// implementations and the sound trigger.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/supervisor"
)

// LocalLauncher starts implementations as in-process handles.
type LocalLauncher struct {
	bus     *events.Bus
	mu      sync.RWMutex
	handles map[string]*LocalHandle
	// refuse lists components that fail to start.
	refuse map[component.Ref]error
}

// NewLocalLauncher creates a launcher; bus may be nil.
func NewLocalLauncher(bus *events.Bus) *LocalLauncher {
	return &LocalLauncher{
		bus:     bus,
		handles: make(map[string]*LocalHandle),
		refuse:  make(map[component.Ref]error),
	}
}

// Refuse makes subsequent starts of ref fail with err; a nil err clears it.
func (l *LocalLauncher) Refuse(ref component.Ref, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.refuse, ref)
		return
	}
	l.refuse[ref] = err
}

// Start implements supervisor.Launcher.
func (l *LocalLauncher) Start(ctx context.Context, ref component.Ref, user int) (supervisor.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.refuse[ref]; ok {
		return nil, fmt.Errorf("start %s: %w", ref, err)
	}
	h := &LocalHandle{
		ID:        uuid.NewString(),
		Ref:       ref,
		User:      user,
		StartedAt: time.Now(),
		launcher:  l,
	}
	l.handles[h.ID] = h
	log.WithFields(log.Fields{"handle": h.ID, "user": user}).Infof("Started voice interaction service %s", ref)
	return h, nil
}

// Running returns the handles that have not been shut down, oldest first.
func (l *LocalLauncher) Running() []*LocalHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*LocalHandle, 0, len(l.handles))
	for _, h := range l.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (l *LocalLauncher) release(id string) {
	l.mu.Lock()
	delete(l.handles, id)
	l.mu.Unlock()
}

// LocalHandle is a running in-process implementation.
type LocalHandle struct {
	ID        string
	Ref       component.Ref
	User      int
	StartedAt time.Time

	launcher     *LocalLauncher
	mu           sync.Mutex
	running      bool
	closed       bool
	modelChanges int
}

// Shutdown implements supervisor.Handle.
func (h *LocalHandle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("handle %s already shut down", h.ID)
	}
	h.closed = true
	wasRunning := h.running
	h.running = false
	h.mu.Unlock()

	if wasRunning {
		h.publish(events.EventSessionHidden)
	}
	h.launcher.release(h.ID)
	log.WithField("handle", h.ID).Infof("Shut down voice interaction service %s", h.Ref)
	return nil
}

// ShowSession implements supervisor.Handle.
func (h *LocalHandle) ShowSession(ctx context.Context, args map[string]interface{}) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.running = true
	h.mu.Unlock()
	h.publish(events.EventSessionShown)
	return true
}

// HideSession implements supervisor.Handle.
func (h *LocalHandle) HideSession(ctx context.Context) bool {
	h.mu.Lock()
	if h.closed || !h.running {
		h.mu.Unlock()
		return false
	}
	h.running = false
	h.mu.Unlock()
	h.publish(events.EventSessionHidden)
	return true
}

// SessionRunning implements supervisor.Handle.
func (h *LocalHandle) SessionRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// SoundModelsChanged implements supervisor.SoundModelObserver.
func (h *LocalHandle) SoundModelsChanged(ctx context.Context) {
	h.mu.Lock()
	h.modelChanges++
	h.mu.Unlock()
	log.WithField("handle", h.ID).Debug("Sound models changed")
}

// ModelChanges returns how many sound model change notifications were received.
func (h *LocalHandle) ModelChanges() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.modelChanges
}

// publish is asynchronous: handles are driven while the controller lock is held.
func (h *LocalHandle) publish(t events.Type) {
	if h.launcher.bus == nil {
		return
	}
	h.launcher.bus.PublishAsync(&events.Event{Type: t, User: h.User, Component: h.Ref.Flatten()})
}
