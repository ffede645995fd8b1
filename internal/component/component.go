// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package component defines the value types shared by every part of the voice
// interaction supervisor: component references, candidate services and the
// per-user selection that is persisted in the settings store.
package component

import (
	"fmt"
	"strings"
)

// Capability names the interface a service or activity advertises.
type Capability string

const (
	// CapabilityInteraction is advertised by full voice interaction services.
	CapabilityInteraction Capability = "interaction"
	// CapabilityRecognition is advertised by speech recognition services.
	CapabilityRecognition Capability = "recognition"
	// CapabilityAssist is advertised by activities that handle the assist gesture.
	CapabilityAssist Capability = "assist"
)

// Settings keys holding the three parts of a Selection.
const (
	KeyInteractor = "voice_interaction_service"
	KeyRecognizer = "voice_recognition_service"
	KeyAssistant  = "assistant"
)

// Ref identifies an installable service or activity by package and class.
// Two refs are equal when both fields are equal.
type Ref struct {
	Package string `json:"package" yaml:"package"`
	Class   string `json:"class" yaml:"class"`
}

// NewRef builds a Ref, expanding a class that starts with "." relative to the package.
func NewRef(pkg, class string) Ref {
	if strings.HasPrefix(class, ".") {
		class = pkg + class
	}
	return Ref{Package: pkg, Class: class}
}

// String returns the short flattened form, e.g. "com.example/.VoiceService".
func (r Ref) String() string {
	return r.Flatten()
}

// Flatten returns the short flattened form used in the settings store.
func (r Ref) Flatten() string {
	class := r.Class
	if strings.HasPrefix(class, r.Package+".") {
		class = class[len(r.Package):]
	}
	return r.Package + "/" + class
}

// Equal reports whether r and other name the same component; nil refs are only equal to nil.
func (r *Ref) Equal(other *Ref) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return *r == *other
}

// ParseRef parses the flattened form produced by Flatten. An empty string yields nil.
func ParseRef(s string) (*Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	sep := strings.Index(s, "/")
	if sep <= 0 || sep == len(s)-1 {
		return nil, fmt.Errorf("component: malformed component name %q", s)
	}
	ref := NewRef(s[:sep], s[sep+1:])
	return &ref, nil
}

// FlattenRef flattens ref, returning "" for nil.
func FlattenRef(ref *Ref) string {
	if ref == nil {
		return ""
	}
	return ref.Flatten()
}

// CandidateService describes a service offered by an installed package.
type CandidateService struct {
	Ref                        Ref
	SystemSigned               bool
	SupportsAssist             bool
	SupportsLaunchFromKeyguard bool
	// Recognizer is the recognition service declared by an interaction service.
	Recognizer *Ref
	// ParseError is set when the service metadata could not be parsed.
	ParseError string
}

// Selection is the per-user choice of interactor, recognizer and assistant.
type Selection struct {
	Interactor *Ref `json:"interactor,omitempty"`
	Recognizer *Ref `json:"recognizer,omitempty"`
	Assistant  *Ref `json:"assistant,omitempty"`
}

// Equal reports whether two selections name the same components.
func (s Selection) Equal(other Selection) bool {
	return s.Interactor.Equal(other.Interactor) &&
		s.Recognizer.Equal(other.Recognizer) &&
		s.Assistant.Equal(other.Assistant)
}
