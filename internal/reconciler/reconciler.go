// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reconciler maps external triggers (settings, users, packages, roles)
// onto lifecycle controller actions.
package reconciler

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/registry"
	"github.com/traylinx/voiceswitch/internal/role"
	"github.com/traylinx/voiceswitch/internal/settings"
	"github.com/traylinx/voiceswitch/internal/supervisor"
)

// Candidates is the resolution the reconciler needs.
type Candidates interface {
	ResolveInteractor(ctx context.Context, user int, preferredPackage string) *component.CandidateService
	ResolveRecognizer(ctx context.Context, user int, preferredPackage string) *component.Ref
}

// Reconciler dispatches triggers. Its methods are safe for concurrent use and
// never panic; failures are logged.
type Reconciler struct {
	controller *supervisor.Controller
	candidates Candidates
	projector  *role.Projector
	holders    role.HolderSource
}

// New creates a Reconciler.
func New(controller *supervisor.Controller, candidates Candidates, projector *role.Projector, holders role.HolderSource) *Reconciler {
	return &Reconciler{
		controller: controller,
		candidates: candidates,
		projector:  projector,
		holders:    holders,
	}
}

func recoverTrigger(name string) {
	if r := recover(); r != nil {
		log.Errorf("Panic in %s trigger: %v", name, r)
	}
}

// OnSettingsChanged reacts to an external change of the interactor setting.
func (r *Reconciler) OnSettingsChanged(ctx context.Context) {
	defer recoverTrigger("settings changed")
	r.controller.SwitchIfNeeded(ctx, false)
}

// OnUserSwitched makes user current.
func (r *Reconciler) OnUserSwitched(ctx context.Context, user int) {
	defer recoverTrigger("user switched")
	log.WithField("user", user).Info("User switched")
	r.controller.SetCurrentUser(ctx, user)
}

// OnUserUnlocked re-runs the per-user resolution, which may upgrade a
// recognizer-only selection now that the user's packages are readable.
func (r *Reconciler) OnUserUnlocked(ctx context.Context, user int) {
	defer recoverTrigger("user unlocked")
	err := r.controller.Update(ctx, func(tx *supervisor.Txn) error {
		if err := tx.InitForUser(user); err != nil {
			return err
		}
		tx.SwitchIfNeeded(false)
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("user", user).Error("Failed to initialize voice selection")
	}
}

// OnRoleHoldersChanged persists the selection implied by the new holders of
// roleName. Writing the interactor key triggers OnSettingsChanged; no switch
// happens here.
func (r *Reconciler) OnRoleHoldersChanged(ctx context.Context, roleName string, user int) {
	defer recoverTrigger("role holders changed")
	if roleName != role.RoleAssistant {
		return
	}
	holders, err := r.holders.RoleHolders(ctx, roleName, user)
	if err != nil {
		log.WithError(err).Errorf("Unable to read holders of role %s", roleName)
		return
	}
	if err := r.projector.Apply(ctx, roleName, user, holders); err != nil {
		log.WithError(err).Error("Failed to apply assistant role")
	}
}

// OnForceStop handles a force stop of pkgs for user. It returns whether one of
// them is the current interactor or recognizer. Nothing changes unless doit is set.
func (r *Reconciler) OnForceStop(ctx context.Context, user int, pkgs []string, doit bool) (hit bool) {
	defer recoverTrigger("force stop")
	err := r.controller.Update(ctx, func(tx *supervisor.Txn) error {
		sel, err := settings.LoadSelection(tx.Context(), tx.Store(), user)
		if err != nil {
			return err
		}
		hitInteractor, hitRecognizer := false, false
		for _, pkg := range pkgs {
			if sel.Interactor != nil && pkg == sel.Interactor.Package {
				hitInteractor = true
				break
			}
			if sel.Recognizer != nil && pkg == sel.Recognizer.Package {
				hitRecognizer = true
				break
			}
		}
		hit = hitInteractor || hitRecognizer
		switch {
		case hitInteractor && doit:
			tx.ForceRestart()
		case hitRecognizer && doit:
			log.WithField("user", user).Infof("Force stopping current voice recognizer %s", sel.Recognizer)
			return tx.InitSimpleRecognizer(nil, user)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to handle force stop")
	}
	return hit
}

// OnPackageModified handles component changes inside pkg for user. With no
// interactor selected, an interactor from pkg is adopted; otherwise the
// implementation restarts when its package or class changed.
func (r *Reconciler) OnPackageModified(ctx context.Context, user int, pkg string, classes []string) {
	defer recoverTrigger("package modified")
	err := r.controller.Update(ctx, func(tx *supervisor.Txn) error {
		ctx := tx.Context()
		current := tx.CurrentUser()
		if user != registry.AllUsers && user != current {
			// reconciled on the next user switch
			return nil
		}
		store := tx.Store()
		interactor, err := settings.GetRef(ctx, store, component.KeyInteractor, current)
		if err != nil {
			return err
		}
		if interactor == nil {
			info := r.candidates.ResolveInteractor(ctx, current, pkg)
			if info == nil {
				return nil
			}
			if err := settings.PutRef(ctx, store, component.KeyInteractor, &info.Ref, current); err != nil {
				return err
			}
			recognizer, err := settings.GetRef(ctx, store, component.KeyRecognizer, current)
			if err != nil {
				return err
			}
			if recognizer == nil && info.Recognizer != nil {
				return settings.PutRef(ctx, store, component.KeyRecognizer, info.Recognizer, current)
			}
			return nil
		}

		if len(classes) == 0 {
			if interactor.Package == pkg {
				tx.SwitchIfNeeded(true)
			}
			return nil
		}
		for _, class := range classes {
			if class == interactor.Class {
				tx.SwitchIfNeeded(true)
				break
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Errorf("Failed to handle modification of %s", pkg)
	}
}

// OnPackagesChanged reconciles the selection of change.User with packages
// that appeared or disappeared. A change for all users is applied to the
// current user and to every user with a persisted selection. It returns
// whether the change concerned a selection. Only the current user's
// implementation is switched.
func (r *Reconciler) OnPackagesChanged(ctx context.Context, change registry.PackageChange) (relevant bool) {
	defer recoverTrigger("packages changed")
	err := r.controller.Update(ctx, func(tx *supervisor.Txn) error {
		users := []int{change.User}
		if change.User == registry.AllUsers {
			var err error
			if users, err = selectionUsers(tx); err != nil {
				return err
			}
		}
		for _, user := range users {
			hit, err := r.packagesChangedLocked(tx, change, user)
			relevant = relevant || hit
			if err != nil {
				log.WithError(err).WithFields(log.Fields{"user": user, "packages": change.Packages}).Error("Failed to reconcile package change")
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("packages", change.Packages).Error("Failed to reconcile package change")
	}
	return relevant
}

// selectionUsers returns the current user followed by every other user with a
// persisted selection key.
func selectionUsers(tx *supervisor.Txn) ([]int, error) {
	current := tx.CurrentUser()
	seen := map[int]bool{current: true}
	var others []int
	for _, key := range []string{component.KeyInteractor, component.KeyRecognizer, component.KeyAssistant} {
		users, err := tx.Store().Users(tx.Context(), key)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			if !seen[user] {
				seen[user] = true
				others = append(others, user)
			}
		}
	}
	sort.Ints(others)
	return append([]int{current}, others...), nil
}

func (r *Reconciler) packagesChangedLocked(tx *supervisor.Txn, change registry.PackageChange, user int) (bool, error) {
	ctx := tx.Context()
	isCurrent := user == tx.CurrentUser()
	store := tx.Store()
	logger := log.WithFields(log.Fields{"user": user, "packages": change.Packages, "kind": change.Kind})

	sel, err := settings.LoadSelection(ctx, store, user)
	if err != nil {
		return false, err
	}

	if sel.Recognizer == nil {
		if change.Kind != registry.ChangeAppearing {
			return false, nil
		}
		rec := r.candidates.ResolveRecognizer(ctx, user, "")
		if rec == nil {
			return false, nil
		}
		logger.Infof("Recognizer %s became available", rec)
		return true, settings.PutRef(ctx, store, component.KeyRecognizer, rec, user)
	}

	if sel.Interactor != nil {
		pkg := sel.Interactor.Package
		if !change.Contains(pkg) {
			return false, nil
		}
		switch change.Kind {
		case registry.ChangeDisappearing:
			if change.Permanent {
				logger.Infof("Voice interaction service %s removed, falling back to defaults", sel.Interactor)
				if err := tx.ClearSelection(user); err != nil {
					return true, err
				}
				if err := tx.InitForUser(user); err != nil {
					return true, err
				}
			}
			if isCurrent {
				tx.SwitchIfNeeded(true)
			}
			return true, nil
		case registry.ChangeAppearing:
			if isCurrent {
				if active := tx.ActiveComponent(); active == nil || active.Package == pkg {
					tx.SwitchIfNeeded(true)
				}
			}
			return true, nil
		}
		// modifications of the interactor package are handled by OnPackageModified
		return false, nil
	}

	if sel.Assistant != nil && change.Removed() && change.Contains(sel.Assistant.Package) {
		logger.Infof("Assistant %s removed, falling back to defaults", sel.Assistant)
		if err := tx.ClearSelection(user); err != nil {
			return true, err
		}
		return true, tx.InitForUser(user)
	}

	recPkg := sel.Recognizer.Package
	if !change.Contains(recPkg) {
		return false, nil
	}
	switch change.Kind {
	case registry.ChangeDisappearing:
		rec := r.candidates.ResolveRecognizer(ctx, user, "")
		return true, settings.PutRef(ctx, store, component.KeyRecognizer, rec, user)
	case registry.ChangeModified:
		rec := r.candidates.ResolveRecognizer(ctx, user, recPkg)
		return true, settings.PutRef(ctx, store, component.KeyRecognizer, rec, user)
	}
	return false, nil
}

// HandleCatalogChange routes a catalog diff to the matching triggers.
func (r *Reconciler) HandleCatalogChange(ctx context.Context, change registry.PackageChange) {
	if change.Kind == registry.ChangeModified {
		for _, pkg := range change.Packages {
			r.OnPackageModified(ctx, change.User, pkg, change.Classes)
		}
	}
	r.OnPackagesChanged(ctx, change)
}
