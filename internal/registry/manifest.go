// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/component"
	"gopkg.in/yaml.v3"
)

// maxManifestSize guards against oversized manifest files.
const maxManifestSize = 1 * 1024 * 1024

// Manifest describes one installed package.
type Manifest struct {
	Package string `yaml:"package" json:"package"`
	// System marks packages signed with the platform key.
	System bool `yaml:"system" json:"system"`
	// UID is the application uid reported in package change notifications.
	UID int `yaml:"uid" json:"uid"`
	// Users lists the users the package is installed for; empty means every user.
	Users []int `yaml:"users" json:"users,omitempty"`
	// Available is false while the package is temporarily unavailable (e.g. being updated
	// or on unmounted storage). Defaults to true.
	Available *bool `yaml:"available" json:"available,omitempty"`

	Services   []ComponentManifest `yaml:"services" json:"services,omitempty"`
	Activities []ComponentManifest `yaml:"activities" json:"activities,omitempty"`

	// FilePath is the source file (not in YAML)
	FilePath string `yaml:"-" json:"-"`
}

// ComponentManifest describes one service or activity of a package.
type ComponentManifest struct {
	Class                      string   `yaml:"class" json:"class"`
	Capabilities               []string `yaml:"capabilities" json:"capabilities"`
	SupportsAssist             bool     `yaml:"supports-assist" json:"supports_assist,omitempty"`
	SupportsLaunchFromKeyguard bool     `yaml:"supports-launch-from-keyguard" json:"supports_launch_from_keyguard,omitempty"`
	Recognizer                 string   `yaml:"recognizer" json:"recognizer,omitempty"`
}

// IsAvailable reports whether the package can currently be queried.
func (m *Manifest) IsAvailable() bool {
	return m.Available == nil || *m.Available
}

// InstalledFor reports whether the package is installed for user.
func (m *Manifest) InstalledFor(user int) bool {
	if len(m.Users) == 0 {
		return true
	}
	for _, u := range m.Users {
		if u == user {
			return true
		}
	}
	return false
}

func (c ComponentManifest) has(capability component.Capability) bool {
	for _, name := range c.Capabilities {
		if strings.EqualFold(strings.TrimSpace(name), string(capability)) {
			return true
		}
	}
	return false
}

// candidate converts a component entry into the resolver-facing description.
func (m *Manifest) candidate(c ComponentManifest) component.CandidateService {
	svc := component.CandidateService{
		Ref:                        component.NewRef(m.Package, c.Class),
		SystemSigned:               m.System,
		SupportsAssist:             c.SupportsAssist,
		SupportsLaunchFromKeyguard: c.SupportsLaunchFromKeyguard,
	}
	if c.Recognizer != "" {
		rec := component.NewRef(m.Package, c.Recognizer)
		svc.Recognizer = &rec
	}
	for _, name := range c.Capabilities {
		switch component.Capability(strings.ToLower(strings.TrimSpace(name))) {
		case component.CapabilityInteraction, component.CapabilityRecognition, component.CapabilityAssist:
		default:
			svc.ParseError = fmt.Sprintf("unknown capability %q", name)
		}
	}
	if strings.Contains(c.Recognizer, "/") {
		svc.ParseError = fmt.Sprintf("malformed recognizer %q", c.Recognizer)
	}
	return svc
}

// Validate checks the fields every manifest needs.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Package) == "" {
		return fmt.Errorf("manifest: package is required")
	}
	if strings.ContainsAny(m.Package, "/ ") {
		return fmt.Errorf("manifest: invalid package name %q", m.Package)
	}
	for _, c := range append(append([]ComponentManifest(nil), m.Services...), m.Activities...) {
		if strings.TrimSpace(c.Class) == "" {
			return fmt.Errorf("manifest %s: component without class", m.Package)
		}
	}
	return nil
}

// ParseManifest decodes a single YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifests reads every *.yaml / *.yml file in dir, in file name order.
// Files that cannot be read or parsed are logged and skipped.
func LoadManifests(dir string) ([]*Manifest, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	manifests := make([]*Manifest, 0, len(entries))
	seen := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			log.Warnf("Skipping symlink in catalog directory: %s", name)
			continue
		}
		path := filepath.Join(dir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > maxManifestSize {
			log.Warnf("Skipping large manifest: %s (%d bytes)", path, info.Size())
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("Failed to read manifest %s: %v", path, err)
			continue
		}
		m, err := ParseManifest(data)
		if err != nil {
			log.Errorf("Failed to parse manifest %s: %v", path, err)
			continue
		}
		if prev, dup := seen[m.Package]; dup {
			log.Warnf("Package %s declared in both %s and %s, keeping the first", m.Package, prev, path)
			continue
		}
		seen[m.Package] = path
		m.FilePath = path
		manifests = append(manifests, m)
	}
	return manifests, nil
}
