// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host, "management API is local by default")
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.EnableService)
	assert.True(t, cfg.CatalogWatch)
	assert.True(t, cfg.Management.Enabled)
	assert.False(t, cfg.Management.AllowRemote)
	assert.False(t, cfg.SafeMode)
	assert.Equal(t, DefaultCatalogDir, cfg.CatalogDir)
	assert.Empty(t, cfg.SettingsDB)
}

func TestLoadConfig_ExplicitValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
host: "0.0.0.0"
port: 9000
debug: true
safe-mode: true
enable-service: false
force-interactor-package: "  com.vendor.voice "
candidate-filter: "SupportsAssist"
initial-user: 10
catalog-dir: ./pkgs/
catalog-watch: false
settings-db: /tmp/vs/settings.db
settings-dsn: " postgres://voice@db/voice "
settings-schema: voiceswitch
logs-max-total-size-mb: -5
management:
  enabled: false
  allow-remote: true
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Address())
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.SafeMode)
	assert.False(t, cfg.EnableService, "explicit false overrides default")
	assert.Equal(t, "com.vendor.voice", cfg.ForceInteractorPackage)
	assert.Equal(t, "SupportsAssist", cfg.CandidateFilter)
	assert.Equal(t, 10, cfg.InitialUser)
	assert.Equal(t, "pkgs", cfg.CatalogDir)
	assert.False(t, cfg.CatalogWatch)
	assert.Equal(t, "/tmp/vs/settings.db", cfg.SettingsDB)
	assert.Equal(t, "postgres://voice@db/voice", cfg.SettingsDSN)
	assert.Equal(t, "voiceswitch", cfg.SettingsSchema)
	assert.Equal(t, 0, cfg.LogsMaxTotalSizeMB)
	assert.False(t, cfg.Management.Enabled)
	assert.True(t, cfg.Management.AllowRemote)
}

func TestLoadConfig_InvalidPort(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "port: 70000\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadConfig_Malformed(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "port: [1, 2\n"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadConfigOptional_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadConfigOptional(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadConfig(missing)
	assert.Error(t, err)
}

func TestLoadConfig_HashesSecret(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "management:\n  secret-key: hunter2\n"))
	require.NoError(t, err)

	assert.True(t, looksLikeBcrypt(cfg.Management.SecretKey))
	assert.True(t, cfg.Management.CheckSecret("hunter2"))
	assert.False(t, cfg.Management.CheckSecret("hunter3"))
	assert.False(t, cfg.Management.CheckSecret(""))

	// An already hashed key is kept as is.
	hashed := cfg.Management.SecretKey
	cfg2, err := LoadConfig(writeConfig(t, "management:\n  secret-key: \""+hashed+"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, hashed, cfg2.Management.SecretKey)
}

func TestCheckSecret_NoKey(t *testing.T) {
	assert.True(t, Management{}.CheckSecret(""))
	assert.True(t, Management{}.CheckSecret("anything"))
}
