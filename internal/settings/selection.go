// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package settings

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
)

// GetRef reads key and parses it as a component reference. Unset, empty and
// malformed values all yield nil; malformed values are logged.
func GetRef(ctx context.Context, s Store, key string, user int) (*component.Ref, error) {
	raw, err := GetString(ctx, s, key, user)
	if err != nil {
		return nil, err
	}
	ref, err := component.ParseRef(raw)
	if err != nil {
		log.WithField("user", user).Warnf("Ignoring bad %s setting: %v", key, err)
		return nil, nil
	}
	return ref, nil
}

// PutRef stores ref under key; nil is stored as "".
func PutRef(ctx context.Context, s Store, key string, ref *component.Ref, user int) error {
	return s.PutString(ctx, key, component.FlattenRef(ref), user)
}

// LoadSelection reads the three selection keys for user.
func LoadSelection(ctx context.Context, s Store, user int) (component.Selection, error) {
	var sel component.Selection
	var err error
	if sel.Interactor, err = GetRef(ctx, s, component.KeyInteractor, user); err != nil {
		return sel, err
	}
	if sel.Recognizer, err = GetRef(ctx, s, component.KeyRecognizer, user); err != nil {
		return sel, err
	}
	if sel.Assistant, err = GetRef(ctx, s, component.KeyAssistant, user); err != nil {
		return sel, err
	}
	return sel, nil
}

// SaveSelection writes all three keys. The assistant and recognizer are written
// before the interactor so that interactor observers see a complete selection.
func SaveSelection(ctx context.Context, s Store, user int, sel component.Selection) error {
	if err := PutRef(ctx, s, component.KeyAssistant, sel.Assistant, user); err != nil {
		return err
	}
	if err := PutRef(ctx, s, component.KeyRecognizer, sel.Recognizer, user); err != nil {
		return err
	}
	return PutRef(ctx, s, component.KeyInteractor, sel.Interactor, user)
}

// ClearSelection empties the interactor and recognizer and unsets the assistant.
func ClearSelection(ctx context.Context, s Store, user int) error {
	if err := s.PutString(ctx, component.KeyInteractor, "", user); err != nil {
		return err
	}
	if err := s.PutString(ctx, component.KeyRecognizer, "", user); err != nil {
		return err
	}
	return s.Delete(ctx, component.KeyAssistant, user)
}
