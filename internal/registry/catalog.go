// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry provides the package catalog the supervisor queries for
// candidate services. Installed packages are described by YAML manifests; the
// catalog keeps them in a thread-safe index and reports every install, removal,
// availability flip and modification as a PackageChange.
package registry

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
)

// AllUsers marks a change that applies to every user.
const AllUsers = -1

// Filter narrows a service query.
type Filter struct {
	// Package restricts results to a single package when non-empty.
	Package string
}

// PackageQuery enumerates installed services. Results are returned in a stable
// enumeration order.
type PackageQuery interface {
	ListServices(ctx context.Context, capability component.Capability, user int, filter Filter) ([]component.CandidateService, error)
	LookupService(ctx context.Context, ref component.Ref, user int) (*component.CandidateService, error)
}

// ChangeKind classifies a package change.
type ChangeKind string

const (
	ChangeAppearing    ChangeKind = "appearing"
	ChangeDisappearing ChangeKind = "disappearing"
	ChangeModified     ChangeKind = "modified"
)

// PackageChange describes packages that appeared, disappeared or were modified.
type PackageChange struct {
	Kind     ChangeKind `json:"kind"`
	User     int        `json:"user"`
	Packages []string   `json:"packages"`
	UIDs     []int      `json:"uids,omitempty"`
	// Permanent is true for installs and uninstalls, false for temporary
	// unavailability (updates in progress, unmounted storage).
	Permanent bool `json:"permanent"`
	// Classes lists the component classes touched by a modification.
	Classes []string `json:"classes,omitempty"`
}

// Removed reports whether the change is a permanent removal.
func (c PackageChange) Removed() bool {
	return c.Kind == ChangeDisappearing && c.Permanent
}

// Affects reports whether the change concerns user.
func (c PackageChange) Affects(user int) bool {
	return c.User == AllUsers || c.User == user
}

// Contains reports whether pkg is one of the changed packages.
func (c PackageChange) Contains(pkg string) bool {
	for _, p := range c.Packages {
		if p == pkg {
			return true
		}
	}
	return false
}

// ContainsClass reports whether class is one of the modified component classes.
func (c PackageChange) ContainsClass(class string) bool {
	for _, cl := range c.Classes {
		if cl == class {
			return true
		}
	}
	return false
}

type installedPackage struct {
	manifest    *Manifest
	installedAt time.Time
}

// Catalog is an in-memory PackageQuery backed by manifests.
type Catalog struct {
	// packages maps package name to its installation
	packages map[string]*installedPackage
	// order keeps the enumeration order of package names
	order []string
	mu    sync.RWMutex
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		packages: make(map[string]*installedPackage),
	}
}

// ListServices returns the services (or, for CapabilityAssist, activities)
// advertising capability for user.
func (c *Catalog) ListServices(ctx context.Context, capability component.Capability, user int, filter Filter) ([]component.CandidateService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []component.CandidateService
	for _, name := range c.order {
		p := c.packages[name]
		m := p.manifest
		if !m.IsAvailable() || !m.InstalledFor(user) {
			continue
		}
		if filter.Package != "" && filter.Package != m.Package {
			continue
		}
		entries := m.Services
		if capability == component.CapabilityAssist {
			entries = m.Activities
		}
		for _, entry := range entries {
			if entry.has(capability) {
				out = append(out, m.candidate(entry))
			}
		}
	}
	return out, nil
}

// LookupService finds a service or activity by exact reference. It returns nil
// when the component is not installed or not available for user.
func (c *Catalog) LookupService(ctx context.Context, ref component.Ref, user int) (*component.CandidateService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.packages[ref.Package]
	if !ok || !p.manifest.IsAvailable() || !p.manifest.InstalledFor(user) {
		return nil, nil
	}
	for _, entry := range append(append([]ComponentManifest(nil), p.manifest.Services...), p.manifest.Activities...) {
		svc := p.manifest.candidate(entry)
		if svc.Ref == ref {
			return &svc, nil
		}
	}
	return nil, nil
}

// Packages returns copies of the installed manifests in enumeration order.
func (c *Catalog) Packages() []Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Manifest, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, *c.packages[name].manifest)
	}
	return out
}

// Install adds or replaces a single package and returns the resulting changes.
func (c *Catalog) Install(m *Manifest) ([]PackageChange, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := c.diffLocked(c.packages[m.Package], m)
	if _, exists := c.packages[m.Package]; !exists {
		c.order = append(c.order, m.Package)
	}
	c.packages[m.Package] = &installedPackage{manifest: m, installedAt: time.Now()}
	return changes, nil
}

// Remove uninstalls pkg. Removing an unknown package yields no changes.
func (c *Catalog) Remove(pkg string) []PackageChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.packages[pkg]
	if !ok {
		return nil
	}
	delete(c.packages, pkg)
	c.removeFromOrderLocked(pkg)
	return c.diffLocked(old, nil)
}

// SetAvailable flips the temporary availability of pkg.
func (c *Catalog) SetAvailable(pkg string, available bool) []PackageChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.packages[pkg]
	if !ok || old.manifest.IsAvailable() == available {
		return nil
	}
	next := *old.manifest
	next.Available = &available
	changes := c.diffLocked(old, &next)
	c.packages[pkg] = &installedPackage{manifest: &next, installedAt: old.installedAt}
	return changes
}

// Replace swaps the whole catalog content for manifests, keeping their order,
// and returns what changed relative to the previous content.
func (c *Catalog) Replace(manifests []*Manifest) []PackageChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]*installedPackage, len(manifests))
	order := make([]string, 0, len(manifests))
	var changes []PackageChange
	now := time.Now()
	for _, m := range manifests {
		if _, dup := next[m.Package]; dup {
			continue
		}
		old := c.packages[m.Package]
		changes = append(changes, c.diffLocked(old, m)...)
		installedAt := now
		if old != nil {
			installedAt = old.installedAt
		}
		next[m.Package] = &installedPackage{manifest: m, installedAt: installedAt}
		order = append(order, m.Package)
	}
	for _, name := range c.order {
		if _, kept := next[name]; !kept {
			changes = append(changes, c.diffLocked(c.packages[name], nil)...)
		}
	}
	c.packages = next
	c.order = order
	return changes
}

// Reload re-reads dir and applies it with Replace.
func (c *Catalog) Reload(dir string) ([]PackageChange, error) {
	manifests, err := LoadManifests(dir)
	if err != nil {
		return nil, err
	}
	changes := c.Replace(manifests)
	log.Debugf("Catalog reloaded from %s: %d packages, %d changes", dir, len(manifests), len(changes))
	return changes, nil
}

func (c *Catalog) removeFromOrderLocked(pkg string) {
	for i, name := range c.order {
		if name == pkg {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// diffLocked computes the change notifications for moving from old to next.
// Either side may be nil.
func (c *Catalog) diffLocked(old *installedPackage, next *Manifest) []PackageChange {
	var prev *Manifest
	if old != nil {
		prev = old.manifest
	}
	switch {
	case prev == nil && next == nil:
		return nil
	case prev == nil:
		if !next.IsAvailable() {
			return nil
		}
		return fanOut(next, PackageChange{Kind: ChangeAppearing, Permanent: true})
	case next == nil:
		return fanOut(prev, PackageChange{Kind: ChangeDisappearing, Permanent: true})
	case prev.IsAvailable() && !next.IsAvailable():
		return fanOut(next, PackageChange{Kind: ChangeDisappearing})
	case !prev.IsAvailable() && next.IsAvailable():
		return fanOut(next, PackageChange{Kind: ChangeAppearing})
	}
	classes := modifiedClasses(prev, next)
	if len(classes) == 0 && sameManifest(prev, next) {
		return nil
	}
	return fanOut(next, PackageChange{Kind: ChangeModified, Classes: classes})
}

func fanOut(m *Manifest, base PackageChange) []PackageChange {
	base.Packages = []string{m.Package}
	if m.UID != 0 {
		base.UIDs = []int{m.UID}
	}
	if len(m.Users) == 0 {
		base.User = AllUsers
		return []PackageChange{base}
	}
	out := make([]PackageChange, 0, len(m.Users))
	for _, u := range m.Users {
		ch := base
		ch.User = u
		out = append(out, ch)
	}
	return out
}

func sameManifest(a, b *Manifest) bool {
	ac, bc := *a, *b
	ac.FilePath, bc.FilePath = "", ""
	return reflect.DeepEqual(ac, bc)
}

// modifiedClasses lists the fully qualified classes added, removed or changed.
func modifiedClasses(prev, next *Manifest) []string {
	index := func(m *Manifest) map[string]ComponentManifest {
		out := make(map[string]ComponentManifest)
		for _, entry := range append(append([]ComponentManifest(nil), m.Services...), m.Activities...) {
			out[component.NewRef(m.Package, entry.Class).Class] = entry
		}
		return out
	}
	a, b := index(prev), index(next)
	var classes []string
	for class, entry := range a {
		if other, ok := b[class]; !ok || !reflect.DeepEqual(entry, other) {
			classes = append(classes, class)
		}
	}
	for class := range b {
		if _, ok := a[class]; !ok {
			classes = append(classes, class)
		}
	}
	if prev.System != next.System {
		for class := range b {
			if _, listed := a[class]; listed && reflect.DeepEqual(a[class], b[class]) {
				classes = append(classes, class)
			}
		}
	}
	sort.Strings(classes)
	return classes
}
