// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"

	"github.com/traylinx/voiceswitch/internal/component"
)

// State is the controller state.
type State string

const (
	// StateEmpty means no implementation is running.
	StateEmpty State = "EMPTY"
	// StateActive means exactly one implementation is bound to (ref, user).
	StateActive State = "ACTIVE"
)

// Launcher starts voice interaction implementations.
type Launcher interface {
	Start(ctx context.Context, ref component.Ref, user int) (Handle, error)
}

// Handle controls a running implementation.
type Handle interface {
	// Shutdown stops the implementation. It is called at most once.
	Shutdown(ctx context.Context) error
	ShowSession(ctx context.Context, args map[string]interface{}) bool
	HideSession(ctx context.Context) bool
	SessionRunning() bool
}

// SoundModelObserver is implemented by handles that want to know when an
// enrolled keyphrase model changes.
type SoundModelObserver interface {
	SoundModelsChanged(ctx context.Context)
}

// CandidateSource is the resolution the controller relies on.
type CandidateSource interface {
	ResolveInteractor(ctx context.Context, user int, preferredPackage string) *component.CandidateService
	DefaultRecognizer(ctx context.Context, user int) *component.Ref
	Lookup(ctx context.Context, ref component.Ref, user int) *component.CandidateService
	Installed(ctx context.Context, ref *component.Ref, user int) bool
}

type activeImpl struct {
	ref    component.Ref
	user   int
	info   component.CandidateService
	handle Handle
}
