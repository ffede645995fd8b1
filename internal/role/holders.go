// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package role

import (
	"context"
	"strings"

	"github.com/traylinx/voiceswitch/internal/settings"
)

const holdersKeyPrefix = "role_holders."

// HolderSource reports the packages holding a role for a user.
type HolderSource interface {
	RoleHolders(ctx context.Context, roleName string, user int) ([]string, error)
}

// HolderStore keeps role holders in the settings store.
type HolderStore struct {
	store settings.Store
}

// NewHolderStore creates a HolderStore over store.
func NewHolderStore(store settings.Store) *HolderStore {
	return &HolderStore{store: store}
}

// RoleHolders implements HolderSource.
func (h *HolderStore) RoleHolders(ctx context.Context, roleName string, user int) ([]string, error) {
	raw, err := settings.GetString(ctx, h.store, holdersKeyPrefix+roleName, user)
	if err != nil || raw == "" {
		return nil, err
	}
	return strings.Split(raw, ","), nil
}

// SetRoleHolders replaces the holders of roleName for user.
func (h *HolderStore) SetRoleHolders(ctx context.Context, roleName string, user int, holders []string) error {
	clean := make([]string, 0, len(holders))
	for _, pkg := range holders {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			clean = append(clean, pkg)
		}
	}
	return h.store.PutString(ctx, holdersKeyPrefix+roleName, strings.Join(clean, ","), user)
}
