// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/settings"
)

// InitForUser resolves and persists a complete selection for user. Settings
// that still point at installed components are left alone.
func (tx *Txn) InitForUser(user int) error {
	ctx, c := tx.ctx, tx.c
	logger := log.WithField("user", user)

	rawInteractor, interactorSet, err := c.store.Lookup(ctx, component.KeyInteractor, user)
	if err != nil {
		return err
	}
	curRecognizer, err := settings.GetRef(ctx, c.store, component.KeyRecognizer, user)
	if err != nil {
		return err
	}

	var info *component.CandidateService
	if !interactorSet && curRecognizer != nil && !c.disableService {
		// No interactor was ever recorded: prefer a full interactor shipped
		// alongside the current recognizer.
		info = c.candidates.ResolveInteractor(ctx, user, curRecognizer.Package)
		if info != nil {
			logger.Debugf("No interactor set, found %s next to recognizer", info.Ref)
			curRecognizer = nil
		}
	}

	if c.forcePackage != "" {
		if forced := c.candidates.ResolveInteractor(ctx, user, c.forcePackage); forced != nil {
			info = forced
			curRecognizer = nil
		}
	}

	if c.disableService && interactorSet && rawInteractor != "" {
		logger.Info("Voice interaction disabled, clearing interactor")
		if err := c.store.PutString(ctx, component.KeyInteractor, "", user); err != nil {
			return err
		}
		rawInteractor = ""
	}

	if curRecognizer != nil {
		curInteractor, errParse := component.ParseRef(rawInteractor)
		if errParse != nil {
			curInteractor = nil
		}
		recognizerOK := c.candidates.Installed(ctx, curRecognizer, user)
		if recognizerOK && (curInteractor == nil || c.candidates.Installed(ctx, curInteractor, user)) {
			logger.Debug("Current interactor and recognizer okay")
			return nil
		}
		logger.Infof("Bad recognizer %s or interactor %q, reinitializing", curRecognizer, rawInteractor)
	}

	if info == nil && !c.disableService {
		info = c.candidates.ResolveInteractor(ctx, user, "")
	}

	if info != nil {
		if err := settings.PutRef(ctx, c.store, component.KeyInteractor, &info.Ref, user); err != nil {
			return err
		}
		if info.Recognizer != nil {
			return settings.PutRef(ctx, c.store, component.KeyRecognizer, info.Recognizer, user)
		}
	}

	return tx.InitSimpleRecognizer(info, user)
}

// InitSimpleRecognizer persists the default recognizer for user. Unless info
// names a chosen interactor, the interactor is cleared too. Nothing is written
// when no recognizer is installed.
func (tx *Txn) InitSimpleRecognizer(info *component.CandidateService, user int) error {
	ctx, c := tx.ctx, tx.c
	rec := c.candidates.DefaultRecognizer(ctx, user)
	if rec == nil {
		return nil
	}
	if info == nil {
		if err := c.store.PutString(ctx, component.KeyInteractor, "", user); err != nil {
			return err
		}
	}
	return settings.PutRef(ctx, c.store, component.KeyRecognizer, rec, user)
}

// ClearSelection forgets the interactor, recognizer and assistant of user.
func (tx *Txn) ClearSelection(user int) error {
	return settings.ClearSelection(tx.ctx, tx.c.store, user)
}

// InitForUser locks the controller and runs the per-user resolution.
func (c *Controller) InitForUser(ctx context.Context, user int) error {
	return c.Update(ctx, func(tx *Txn) error {
		return tx.InitForUser(user)
	})
}

// InitSimpleRecognizer locks the controller and persists the default recognizer.
func (c *Controller) InitSimpleRecognizer(ctx context.Context, info *component.CandidateService, user int) error {
	return c.Update(ctx, func(tx *Txn) error {
		return tx.InitSimpleRecognizer(info, user)
	})
}

// ClearSelection locks the controller and clears user's selection.
func (c *Controller) ClearSelection(ctx context.Context, user int) error {
	return c.Update(ctx, func(tx *Txn) error {
		return tx.ClearSelection(user)
	})
}

// Selection returns the persisted selection of user.
func (c *Controller) Selection(ctx context.Context, user int) (component.Selection, error) {
	return settings.LoadSelection(ctx, c.store, user)
}

// VoicePackages initializes user and returns the package of its interactor, if any.
func (c *Controller) VoicePackages(ctx context.Context, user int) ([]string, error) {
	if err := c.InitForUser(ctx, user); err != nil {
		return nil, err
	}
	ref, err := settings.GetRef(ctx, c.store, component.KeyInteractor, user)
	if err != nil || ref == nil {
		return nil, err
	}
	return []string{ref.Package}, nil
}
