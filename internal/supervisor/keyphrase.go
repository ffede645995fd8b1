// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
)

// StartRecognition starts recognition of the current user's enrolled model for
// keyphraseID. The model is tracked as loaded even when the sound trigger
// reports a failure, so the next switch still unloads it.
func (c *Controller) StartRecognition(ctx context.Context, keyphraseID int, locale string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return keyphrase.StatusError, ErrNoActiveImplementation
	}
	model, err := c.modelLocked(ctx, keyphraseID, locale)
	if err != nil {
		return keyphrase.StatusError, err
	}
	if model == nil {
		log.WithField("keyphrase", keyphraseID).Warn("No matching sound model found in StartRecognition")
		return keyphrase.StatusError, nil
	}
	c.keyphrases.MarkLoaded(keyphraseID)
	return c.trigger.StartRecognition(ctx, keyphraseID, model), nil
}

// StopRecognition stops recognition of keyphraseID. The model stays loaded.
func (c *Controller) StopRecognition(ctx context.Context, keyphraseID int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return keyphrase.StatusError, ErrNoActiveImplementation
	}
	return c.trigger.StopRecognition(ctx, keyphraseID), nil
}

// DeleteKeyphraseModel unloads keyphraseID and deletes the current user's
// enrolled model. It returns StatusOK only when a model was deleted.
func (c *Controller) DeleteKeyphraseModel(ctx context.Context, keyphraseID int, locale string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status := c.trigger.Unload(ctx, keyphraseID); status != keyphrase.StatusOK {
		log.WithField("keyphrase", keyphraseID).Warnf("Unable to unload keyphrase model, status %d", status)
	}
	c.keyphrases.MarkUnloaded(keyphraseID)
	if c.models == nil {
		return keyphrase.StatusError, nil
	}
	deleted, err := c.models.Delete(ctx, keyphraseID, c.user, locale)
	if err != nil {
		return keyphrase.StatusError, err
	}
	if !deleted {
		return keyphrase.StatusError, nil
	}
	return keyphrase.StatusOK, nil
}

// UpdateKeyphraseModel stores model for the current user and tells the
// running implementation that its models changed.
func (c *Controller) UpdateKeyphraseModel(ctx context.Context, model *keyphrase.Model) (int, error) {
	if model == nil {
		return keyphrase.StatusError, fmt.Errorf("supervisor: model is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil {
		return keyphrase.StatusError, fmt.Errorf("supervisor: no keyphrase model store configured")
	}
	model.User = c.user
	if err := c.models.Upsert(ctx, model); err != nil {
		return keyphrase.StatusError, err
	}
	if c.active != nil {
		if observer, ok := c.active.handle.(SoundModelObserver); ok {
			observer.SoundModelsChanged(ctx)
		}
	}
	return keyphrase.StatusOK, nil
}

// IsEnrolled reports whether the current user has a model for keyphraseID in locale.
func (c *Controller) IsEnrolled(ctx context.Context, keyphraseID int, locale string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	model, err := c.modelLocked(ctx, keyphraseID, locale)
	return model != nil, err
}

func (c *Controller) modelLocked(ctx context.Context, keyphraseID int, locale string) (*keyphrase.Model, error) {
	if c.models == nil {
		return nil, nil
	}
	model, err := c.models.Get(ctx, keyphraseID, c.user, locale)
	if err != nil {
		return nil, err
	}
	if model == nil || model.ModelID == "" {
		return nil, nil
	}
	return model, nil
}
