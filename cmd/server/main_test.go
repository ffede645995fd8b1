// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveConfigPath(t *testing.T) {
	wd := t.TempDir()

	t.Setenv("VOICESWITCH_CONFIG", "")
	assert.Equal(t, filepath.Join(wd, "config.yaml"), resolveConfigPath("", wd))
	assert.Equal(t, "/etc/voiceswitch.yaml", resolveConfigPath(" /etc/voiceswitch.yaml ", wd))

	t.Setenv("VOICESWITCH_CONFIG", "/srv/vs.yaml")
	assert.Equal(t, "/srv/vs.yaml", resolveConfigPath("", wd))
	assert.Equal(t, "flag.yaml", resolveConfigPath("flag.yaml", wd), "flag wins over environment")
}
