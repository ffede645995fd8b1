// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package role converts assistant role assignments into a voice selection.
package role

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/registry"
	"github.com/traylinx/voiceswitch/internal/settings"
)

// RoleAssistant is the only role the projector acts on.
const RoleAssistant = "assistant"

// RecognizerSource supplies the platform default recognizer.
type RecognizerSource interface {
	DefaultRecognizer(ctx context.Context, user int) *component.Ref
}

// Projector persists the selection implied by the assistant role holder. It
// never switches implementations itself; writing the interactor key does.
type Projector struct {
	query       registry.PackageQuery
	recognizers RecognizerSource
	store       settings.Store
}

// NewProjector creates a Projector.
func NewProjector(query registry.PackageQuery, recognizers RecognizerSource, store settings.Store) *Projector {
	return &Projector{query: query, recognizers: recognizers, store: store}
}

// ResolveForRole computes the selection for role holder pkg. An empty pkg, or a
// package offering neither an assist-capable interaction service nor an assist
// activity, yields only the default recognizer.
func (p *Projector) ResolveForRole(ctx context.Context, pkg string, user int) component.Selection {
	if pkg == "" {
		return component.Selection{Recognizer: p.recognizers.DefaultRecognizer(ctx, user)}
	}

	services, err := p.query.ListServices(ctx, component.CapabilityInteraction, user, registry.Filter{Package: pkg})
	if err != nil {
		log.WithError(err).Warnf("Unable to list voice interaction services of %s", pkg)
	}
	for _, svc := range services {
		if svc.Ref.Package != pkg || svc.ParseError != "" || !svc.SupportsAssist {
			continue
		}
		ref := svc.Ref
		rec := svc.Recognizer
		if rec == nil {
			rec = p.recognizers.DefaultRecognizer(ctx, user)
		}
		return component.Selection{Interactor: &ref, Recognizer: rec, Assistant: &ref}
	}

	activities, err := p.query.ListServices(ctx, component.CapabilityAssist, user, registry.Filter{Package: pkg})
	if err != nil {
		log.WithError(err).Warnf("Unable to list assist activities of %s", pkg)
	}
	for _, act := range activities {
		if act.Ref.Package != pkg {
			continue
		}
		ref := act.Ref
		return component.Selection{Recognizer: p.recognizers.DefaultRecognizer(ctx, user), Assistant: &ref}
	}

	log.Infof("Assistant role holder %s offers no voice interaction service or assist activity", pkg)
	return component.Selection{Recognizer: p.recognizers.DefaultRecognizer(ctx, user)}
}

// Apply persists the selection for the new holders of roleName. Roles other
// than RoleAssistant are ignored. The role is a singleton, so only the first
// holder counts. The three keys are written even if ctx is canceled midway.
func (p *Projector) Apply(ctx context.Context, roleName string, user int, holders []string) error {
	if roleName != RoleAssistant {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	holder := ""
	if len(holders) > 0 {
		holder = holders[0]
	}
	sel := p.ResolveForRole(ctx, holder, user)
	log.WithFields(log.Fields{
		"user":       user,
		"holder":     holder,
		"interactor": component.FlattenRef(sel.Interactor),
		"recognizer": component.FlattenRef(sel.Recognizer),
		"assistant":  component.FlattenRef(sel.Assistant),
	}).Info("Assistant role changed")
	if err := settings.SaveSelection(ctx, p.store, user, sel); err != nil {
		return fmt.Errorf("role: persist selection for user %d: %w", user, err)
	}
	return nil
}
