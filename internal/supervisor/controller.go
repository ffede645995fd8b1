// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor owns the single active voice interaction implementation
// and switches it when the persisted selection, the current user or the
// installed packages change.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
	"github.com/traylinx/voiceswitch/internal/settings"
)

// ErrNoActiveImplementation is returned by operations that need a running implementation.
var ErrNoActiveImplementation = errors.New("supervisor: no active implementation")

// Options configures a Controller.
type Options struct {
	Store        settings.Store
	Candidates   CandidateSource
	Launcher     Launcher
	SoundTrigger keyphrase.SoundTrigger
	// Models is optional; without it no keyphrase is ever enrolled.
	Models *keyphrase.ModelStore
	// Bus is optional.
	Bus *events.Bus

	// SafeMode turns SwitchIfNeeded into a no-op.
	SafeMode bool
	// DisableService prevents any interactor from being selected automatically
	// and clears an existing one on InitForUser.
	DisableService bool
	// ForceInteractorPackage, when set, wins over the persisted interactor on InitForUser.
	ForceInteractorPackage string
	InitialUser            int
}

// Controller is the lifecycle state machine. All mutating operations run
// under a single mutex; events are published after it is released.
type Controller struct {
	store      settings.Store
	candidates CandidateSource
	launcher   Launcher
	trigger    keyphrase.SoundTrigger
	models     *keyphrase.ModelStore
	keyphrases *keyphrase.Registry
	bus        *events.Bus

	safeMode       bool
	disableService bool
	forcePackage   string

	mu     sync.Mutex
	user   int
	active *activeImpl
	stats  counters
}

type counters struct {
	starts        uint64
	startFailures uint64
	shutdowns     uint64
	noops         uint64
}

// New creates a Controller in the EMPTY state.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Candidates == nil || opts.Launcher == nil || opts.SoundTrigger == nil {
		return nil, fmt.Errorf("supervisor: store, candidates, launcher and sound trigger are required")
	}
	return &Controller{
		store:          opts.Store,
		candidates:     opts.Candidates,
		launcher:       opts.Launcher,
		trigger:        opts.SoundTrigger,
		models:         opts.Models,
		keyphrases:     keyphrase.NewRegistry(opts.SoundTrigger),
		bus:            opts.Bus,
		safeMode:       opts.SafeMode,
		disableService: opts.DisableService,
		forcePackage:   opts.ForceInteractorPackage,
		user:           opts.InitialUser,
	}, nil
}

// Txn gives access to controller operations while the controller lock is held.
// It must not be used after the function passed to Update returns.
type Txn struct {
	ctx     context.Context
	c       *Controller
	pending []*events.Event
}

// Update runs fn under the controller lock and publishes the resulting events
// once the lock is released. A started sequence always runs to completion:
// fn sees ctx without its cancellation. A panic in fn is returned as an error.
func (c *Controller) Update(ctx context.Context, fn func(tx *Txn) error) (err error) {
	tx := &Txn{ctx: context.WithoutCancel(ctx), c: c}
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		before := tx.ActiveComponent()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Panic in voice interaction controller: %v", r)
				err = fmt.Errorf("supervisor: panic: %v", r)
				if !before.Equal(tx.ActiveComponent()) {
					tx.changed(before)
				}
			}
		}()
		err = fn(tx)
	}()

	c.publish(tx.pending...)
	return err
}

func (c *Controller) publish(evts ...*events.Event) {
	if c.bus == nil {
		return
	}
	for _, evt := range evts {
		c.bus.Publish(evt)
	}
}

// Store returns the settings store the controller reads the selection from.
func (tx *Txn) Store() settings.Store {
	return tx.c.store
}

// Context returns the context Update was called with.
func (tx *Txn) Context() context.Context {
	return tx.ctx
}

// CurrentUser returns the controller's current user.
func (tx *Txn) CurrentUser() int {
	return tx.c.user
}

// ActiveComponent returns the running implementation's ref, or nil.
func (tx *Txn) ActiveComponent() *component.Ref {
	if tx.c.active == nil {
		return nil
	}
	ref := tx.c.active.ref
	return &ref
}

// SetCurrentUser changes the current user without switching.
func (tx *Txn) SetCurrentUser(user int) {
	tx.c.user = user
}

// SwitchIfNeeded reconciles the running implementation with the persisted
// interactor of the current user. Unless force is set, nothing happens when the
// right implementation is already running for the right user.
func (tx *Txn) SwitchIfNeeded(force bool) {
	c := tx.c
	if c.safeMode {
		log.Debug("Safe mode, not switching voice interaction implementation")
		return
	}

	desired, err := c.desiredLocked(tx.ctx)
	if err != nil {
		log.WithError(err).WithField("user", c.user).Warn("Unable to read voice interaction service setting, keeping current state")
		return
	}
	var desiredRef *component.Ref
	if desired != nil {
		desiredRef = &desired.Ref
	}

	if !force && c.active != nil && c.active.user == c.user && desiredRef.Equal(&c.active.ref) {
		c.stats.noops++
		return
	}
	if !force && c.active == nil && desired == nil {
		// nothing running and nothing to run
		c.keyphrases.DrainAll(tx.ctx)
		c.stats.noops++
		return
	}

	previous := tx.ActiveComponent()
	c.keyphrases.DrainAll(tx.ctx)
	c.shutdownLocked(tx.ctx)
	if desired != nil {
		c.startLocked(tx.ctx, *desired)
	}
	if previous != nil || c.active != nil {
		tx.changed(previous)
	}
}

// ForceRestart tears down the running implementation unconditionally and
// starts a fresh one from the persisted selection.
func (tx *Txn) ForceRestart() {
	c := tx.c
	log.WithField("user", c.user).Infof("Force stopping current voice interactor %s", component.FlattenRef(tx.ActiveComponent()))
	previous := tx.ActiveComponent()
	c.keyphrases.DrainAll(tx.ctx)
	if c.active != nil {
		c.shutdownLocked(tx.ctx)
		tx.changed(previous)
	}
	tx.SwitchIfNeeded(true)
}

func (tx *Txn) changed(previous *component.Ref) {
	c := tx.c
	evt := &events.Event{
		Type:  events.EventImplementationChanged,
		User:  c.user,
		State: string(c.stateLocked()),
	}
	if c.active != nil {
		evt.Component = c.active.ref.Flatten()
	}
	log.WithFields(log.Fields{
		"user":     c.user,
		"previous": component.FlattenRef(previous),
		"current":  evt.Component,
	}).Info("Voice interaction implementation changed")
	tx.pending = append(tx.pending, evt)
}

// desiredLocked returns the installed service named by the current user's
// interactor setting, or nil. Only a failed settings read is an error.
func (c *Controller) desiredLocked(ctx context.Context) (*component.CandidateService, error) {
	raw, err := settings.GetString(ctx, c.store, component.KeyInteractor, c.user)
	if err != nil {
		return nil, err
	}
	ref, err := component.ParseRef(raw)
	if err != nil {
		log.Errorf("Bad voice interaction service name %q: %v", raw, err)
		return nil, nil
	}
	if ref == nil {
		return nil, nil
	}
	svc := c.candidates.Lookup(ctx, *ref, c.user)
	if svc == nil {
		log.WithField("user", c.user).Warnf("Voice interaction service %s is not installed", ref)
		return nil, nil
	}
	if svc.ParseError != "" {
		log.Warnf("Bad voice interaction service %s: %s", ref, svc.ParseError)
		return nil, nil
	}
	return svc, nil
}

func (c *Controller) shutdownLocked(ctx context.Context) {
	if c.active == nil {
		return
	}
	if err := c.active.handle.Shutdown(ctx); err != nil {
		log.WithError(err).Warnf("Failed to shut down voice interaction service %s", c.active.ref)
	}
	c.stats.shutdowns++
	c.active = nil
}

func (c *Controller) startLocked(ctx context.Context, svc component.CandidateService) {
	handle, err := c.launcher.Start(ctx, svc.Ref, c.user)
	if err != nil {
		c.stats.startFailures++
		log.WithError(err).WithField("user", c.user).Errorf("Failed to start voice interaction service %s", svc.Ref)
		return
	}
	c.stats.starts++
	c.active = &activeImpl{ref: svc.Ref, user: c.user, info: svc, handle: handle}
}

func (c *Controller) stateLocked() State {
	if c.active == nil {
		return StateEmpty
	}
	return StateActive
}

// SwitchIfNeeded locks the controller and reconciles the running implementation.
func (c *Controller) SwitchIfNeeded(ctx context.Context, force bool) {
	_ = c.Update(ctx, func(tx *Txn) error {
		tx.SwitchIfNeeded(force)
		return nil
	})
}

// SetCurrentUser makes user current and switches to that user's selection.
func (c *Controller) SetCurrentUser(ctx context.Context, user int) {
	_ = c.Update(ctx, func(tx *Txn) error {
		tx.SetCurrentUser(user)
		tx.SwitchIfNeeded(false)
		return nil
	})
}

// CurrentUser returns the current user.
func (c *Controller) CurrentUser() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// ForceRestart restarts the running implementation from scratch.
func (c *Controller) ForceRestart(ctx context.Context) {
	_ = c.Update(ctx, func(tx *Txn) error {
		tx.ForceRestart()
		return nil
	})
}

// ActiveComponent returns the running implementation's ref, or nil.
func (c *Controller) ActiveComponent() *component.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	ref := c.active.ref
	return &ref
}

// ActiveSupportsAssist reports whether the running implementation handles assist.
func (c *Controller) ActiveSupportsAssist() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.info.SupportsAssist
}

// ActiveSupportsLaunchFromKeyguard reports whether the running implementation
// may be launched from the lock screen.
func (c *Controller) ActiveSupportsLaunchFromKeyguard() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.info.SupportsLaunchFromKeyguard
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State            State  `json:"state"`
	User             int    `json:"user"`
	Active           string `json:"active,omitempty"`
	ActiveUser       *int   `json:"active_user,omitempty"`
	SessionRunning   bool   `json:"session_running"`
	LoadedKeyphrases []int  `json:"loaded_keyphrases"`
	SafeMode         bool   `json:"safe_mode"`
	Starts           uint64 `json:"starts"`
	StartFailures    uint64 `json:"start_failures"`
	Shutdowns        uint64 `json:"shutdowns"`
	NoOps            uint64 `json:"noops"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:            c.stateLocked(),
		User:             c.user,
		LoadedKeyphrases: c.keyphrases.Loaded(),
		SafeMode:         c.safeMode,
		Starts:           c.stats.starts,
		StartFailures:    c.stats.startFailures,
		Shutdowns:        c.stats.shutdowns,
		NoOps:            c.stats.noops,
	}
	if c.active != nil {
		user := c.active.user
		s.Active = c.active.ref.Flatten()
		s.ActiveUser = &user
		s.SessionRunning = c.active.handle.SessionRunning()
	}
	return s
}

// Shutdown stops the running implementation, if any, and drains keyphrases.
func (c *Controller) Shutdown(ctx context.Context) {
	_ = c.Update(ctx, func(tx *Txn) error {
		// ctx keeps its deadline here so a stuck handle cannot block exit.
		previous := tx.ActiveComponent()
		c.keyphrases.DrainAll(ctx)
		if c.active != nil {
			c.shutdownLocked(ctx)
			tx.changed(previous)
		}
		return nil
	})
}
