// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resolver picks interaction and recognition services from the
// installed package catalog.
package resolver

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/registry"
)

// Resolver selects candidate services. The first candidate in catalog
// enumeration order wins; further matches are logged as ambiguous.
type Resolver struct {
	query  registry.PackageQuery
	filter *vm.Program
	source string
}

// New creates a Resolver. filter is an optional boolean expression restricting
// which interaction services may be auto-selected; it sees the candidate fields
// Package, Class, SystemSigned, SupportsAssist and SupportsLaunchFromKeyguard.
func New(query registry.PackageQuery, filter string) (*Resolver, error) {
	r := &Resolver{query: query, source: filter}
	if filter != "" {
		program, err := expr.Compile(filter, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("resolver: invalid candidate filter: %w", err)
		}
		r.filter = program
	}
	return r, nil
}

// ResolveInteractor returns the interaction service to auto-select for user, or
// nil. Only system-signed, well-formed services are eligible. A non-empty
// preferredPackage restricts the search to that package.
func (r *Resolver) ResolveInteractor(ctx context.Context, user int, preferredPackage string) *component.CandidateService {
	services, err := r.query.ListServices(ctx, component.CapabilityInteraction, user, registry.Filter{Package: preferredPackage})
	if err != nil {
		log.WithError(err).WithField("user", user).Warn("Unable to list voice interaction services")
		return nil
	}

	var picked *component.CandidateService
	for i := range services {
		svc := &services[i]
		if preferredPackage != "" && svc.Ref.Package != preferredPackage {
			continue
		}
		if !svc.SystemSigned {
			log.Warnf("Ignoring voice interaction service %s: not a system package", svc.Ref)
			continue
		}
		if svc.ParseError != "" {
			log.Warnf("Bad voice interaction service %s: %s", svc.Ref, svc.ParseError)
			continue
		}
		if !r.allowed(svc) {
			log.Debugf("Voice interaction service %s excluded by candidate filter", svc.Ref)
			continue
		}
		if picked == nil {
			picked = svc
			continue
		}
		log.Warnf("More than one voice interaction service, picking first %s over %s", picked.Ref, svc.Ref)
	}
	if picked == nil {
		return nil
	}
	out := *picked
	return &out
}

// ResolveRecognizer returns the recognition service in preferredPackage when
// one exists, otherwise the first recognition service, or nil.
func (r *Resolver) ResolveRecognizer(ctx context.Context, user int, preferredPackage string) *component.Ref {
	services, err := r.query.ListServices(ctx, component.CapabilityRecognition, user, registry.Filter{})
	if err != nil {
		log.WithError(err).WithField("user", user).Warn("Unable to list recognition services")
		return nil
	}
	if len(services) == 0 {
		log.WithField("user", user).Warn("No recognition services found")
		return nil
	}
	if preferredPackage != "" {
		for i := range services {
			if services[i].Ref.Package == preferredPackage {
				ref := services[i].Ref
				return &ref
			}
		}
	}
	if len(services) > 1 {
		log.Warnf("More than one recognition service found, picking first %s", services[0].Ref)
	}
	ref := services[0].Ref
	return &ref
}

// DefaultRecognizer returns the platform default recognizer for user.
func (r *Resolver) DefaultRecognizer(ctx context.Context, user int) *component.Ref {
	return r.ResolveRecognizer(ctx, user, "")
}

// Lookup returns the interaction service named by ref when it is installed for user.
func (r *Resolver) Lookup(ctx context.Context, ref component.Ref, user int) *component.CandidateService {
	svc, err := r.query.LookupService(ctx, ref, user)
	if err != nil {
		log.WithError(err).Warnf("Unable to look up %s", ref)
		return nil
	}
	return svc
}

// Installed reports whether ref names a service of any capability installed for user.
func (r *Resolver) Installed(ctx context.Context, ref *component.Ref, user int) bool {
	if ref == nil {
		return false
	}
	return r.Lookup(ctx, *ref, user) != nil
}

func (r *Resolver) allowed(svc *component.CandidateService) bool {
	if r.filter == nil {
		return true
	}
	env := map[string]interface{}{
		"Package":                    svc.Ref.Package,
		"Class":                      svc.Ref.Class,
		"SystemSigned":               svc.SystemSigned,
		"SupportsAssist":             svc.SupportsAssist,
		"SupportsLaunchFromKeyguard": svc.SupportsLaunchFromKeyguard,
	}
	out, err := expr.Run(r.filter, env)
	if err != nil {
		log.WithError(err).Warnf("Candidate filter %q failed for %s", r.source, svc.Ref)
		return false
	}
	ok, _ := out.(bool)
	return ok
}
