// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/registry"
)

func install(t *testing.T, c *registry.Catalog, pkg string, system bool, services ...registry.ComponentManifest) {
	t.Helper()
	_, err := c.Install(&registry.Manifest{Package: pkg, System: system, Services: services})
	require.NoError(t, err)
}

func interaction(class, recognizer string, assist bool) registry.ComponentManifest {
	return registry.ComponentManifest{Class: class, Capabilities: []string{"interaction"}, Recognizer: recognizer, SupportsAssist: assist}
}

func recognition(class string) registry.ComponentManifest {
	return registry.ComponentManifest{Class: class, Capabilities: []string{"recognition"}}
}

func TestResolveInteractor_SystemOnlyFirstWins(t *testing.T) {
	c := registry.NewCatalog()
	install(t, c, "com.third", false, interaction(".Voice", "", false))
	install(t, c, "com.x", true, interaction(".Voice", ".Rec", true), recognition(".Rec"))
	install(t, c, "com.y", true, interaction(".Voice", "", false))

	r, err := New(c, "")
	require.NoError(t, err)

	svc := r.ResolveInteractor(context.Background(), 0, "")
	require.NotNil(t, svc)
	assert.Equal(t, "com.x/.Voice", svc.Ref.Flatten())
	require.NotNil(t, svc.Recognizer)
	assert.Equal(t, "com.x/.Rec", svc.Recognizer.Flatten())

	svc = r.ResolveInteractor(context.Background(), 0, "com.y")
	require.NotNil(t, svc)
	assert.Equal(t, "com.y", svc.Ref.Package)

	assert.Nil(t, r.ResolveInteractor(context.Background(), 0, "com.third"), "non-system packages are never auto-selected")
	assert.Nil(t, r.ResolveInteractor(context.Background(), 0, "com.missing"))
}

func TestResolveInteractor_SkipsParseErrors(t *testing.T) {
	c := registry.NewCatalog()
	install(t, c, "com.bad", true, registry.ComponentManifest{Class: ".Voice", Capabilities: []string{"interaction", "telepathy"}})
	install(t, c, "com.good", true, interaction(".Voice", "", false))

	r, err := New(c, "")
	require.NoError(t, err)
	svc := r.ResolveInteractor(context.Background(), 0, "")
	require.NotNil(t, svc)
	assert.Equal(t, "com.good", svc.Ref.Package)
}

func TestResolveInteractor_CandidateFilter(t *testing.T) {
	c := registry.NewCatalog()
	install(t, c, "com.x", true, interaction(".Voice", "", false))
	install(t, c, "com.y", true, interaction(".Voice", "", true))

	r, err := New(c, `SupportsAssist && Package startsWith "com."`)
	require.NoError(t, err)
	svc := r.ResolveInteractor(context.Background(), 0, "")
	require.NotNil(t, svc)
	assert.Equal(t, "com.y", svc.Ref.Package)

	r, err = New(c, `Package == "nobody"`)
	require.NoError(t, err)
	assert.Nil(t, r.ResolveInteractor(context.Background(), 0, ""))

	_, err = New(c, `Package ==`)
	assert.Error(t, err)
}

func TestResolveRecognizer(t *testing.T) {
	c := registry.NewCatalog()
	install(t, c, "com.x", false, recognition(".Rec"))
	install(t, c, "com.y", false, recognition(".Rec"))

	r, err := New(c, "")
	require.NoError(t, err)
	ctx := context.Background()

	ref := r.ResolveRecognizer(ctx, 0, "com.y")
	require.NotNil(t, ref)
	assert.Equal(t, "com.y/.Rec", ref.Flatten(), "preferred package wins")

	ref = r.ResolveRecognizer(ctx, 0, "com.none")
	require.NotNil(t, ref)
	assert.Equal(t, "com.x/.Rec", ref.Flatten(), "falls back to first")

	ref = r.DefaultRecognizer(ctx, 0)
	require.NotNil(t, ref)
	assert.Equal(t, "com.x/.Rec", ref.Flatten())

	empty, err := New(registry.NewCatalog(), "")
	require.NoError(t, err)
	assert.Nil(t, empty.DefaultRecognizer(ctx, 0))
}

func TestLookupAndInstalled(t *testing.T) {
	c := registry.NewCatalog()
	install(t, c, "com.x", true, interaction(".Voice", "", false))
	r, err := New(c, "")
	require.NoError(t, err)
	ctx := context.Background()

	voice := component.NewRef("com.x", ".Voice")
	assert.NotNil(t, r.Lookup(ctx, voice, 0))
	assert.True(t, r.Installed(ctx, &voice, 0))
	missing := component.NewRef("com.x", ".Gone")
	assert.False(t, r.Installed(ctx, &missing, 0))
	assert.False(t, r.Installed(ctx, nil, 0))
}

type failingQuery struct{}

func (failingQuery) ListServices(context.Context, component.Capability, int, registry.Filter) ([]component.CandidateService, error) {
	return nil, errors.New("catalog unavailable")
}

func (failingQuery) LookupService(context.Context, component.Ref, int) (*component.CandidateService, error) {
	return nil, errors.New("catalog unavailable")
}

func TestQueryErrorsMeanNoCandidate(t *testing.T) {
	r, err := New(failingQuery{}, "")
	require.NoError(t, err)
	ctx := context.Background()
	assert.Nil(t, r.ResolveInteractor(ctx, 0, ""))
	assert.Nil(t, r.ResolveRecognizer(ctx, 0, ""))
	assert.Nil(t, r.Lookup(ctx, component.NewRef("a", ".B"), 0))
}
