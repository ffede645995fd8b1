// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the voiceswitch server.
// It loads the YAML configuration file and exposes the supervisor policy flags,
// the package catalog and settings locations, logging and the management API.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the management API port used when none is configured.
	DefaultPort = 18420
	// DefaultCatalogDir is where package manifests are read from.
	DefaultCatalogDir = "packages"
	// DefaultLogsDir holds rotated log files.
	DefaultLogsDir = "logs"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the management API binds.
	// Empty binds all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the management API listens.
	Port int `yaml:"port" json:"-"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsDir is the directory for rotated logs.
	LogsDir string `yaml:"logs-dir" json:"logs-dir"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// SafeMode suppresses every implementation start.
	SafeMode bool `yaml:"safe-mode" json:"safe-mode"`

	// EnableService is the "voice interaction service enabled" policy flag.
	// When false the selection is cleared during user initialization.
	EnableService bool `yaml:"enable-service" json:"enable-service"`

	// ForceInteractorPackage pins the interactor to the package of that name, when it
	// provides a qualifying service.
	ForceInteractorPackage string `yaml:"force-interactor-package" json:"force-interactor-package"`

	// CandidateFilter is an optional boolean expression applied to interaction service
	// candidates on top of the system-package rule.
	CandidateFilter string `yaml:"candidate-filter" json:"candidate-filter"`

	// InitialUser is the user that is unlocked at startup.
	InitialUser int `yaml:"initial-user" json:"initial-user"`

	// CatalogDir holds one YAML manifest per installed package.
	CatalogDir string `yaml:"catalog-dir" json:"catalog-dir"`

	// CatalogWatch enables fsnotify watching of CatalogDir.
	CatalogWatch bool `yaml:"catalog-watch" json:"catalog-watch"`

	// SettingsDB is the SQLite file for the settings and keyphrase stores.
	// Empty keeps settings in memory.
	SettingsDB string `yaml:"settings-db" json:"settings-db"`

	// SettingsDSN moves the settings store to PostgreSQL. Keyphrase models stay
	// in SettingsDB (or in memory).
	SettingsDSN string `yaml:"settings-dsn" json:"-"`

	// SettingsSchema is the optional PostgreSQL schema for the settings table.
	SettingsSchema string `yaml:"settings-schema" json:"settings-schema"`

	// Management configures the HTTP management API.
	Management Management `yaml:"management" json:"-"`
}

// Management holds management API related configuration options.
type Management struct {
	// Enabled starts the management API.
	Enabled bool `yaml:"enabled"`
	// AllowRemote toggles remote (non-localhost) access to the management API.
	AllowRemote bool `yaml:"allow-remote"`
	// SecretKey, when set, is required as a bearer token on every request.
	// Plaintext values are hashed with bcrypt at load time.
	SecretKey string `yaml:"secret-key"`
}

// LoadConfig reads and parses the YAML configuration file.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if len(strings.TrimSpace(string(data))) == 0 {
		cfg.Sanitize()
		return cfg, nil
	}

	// Set defaults before unmarshal so that absent keys keep defaults.
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Hash management key if plaintext is detected.
	if cfg.Management.SecretKey != "" && !looksLikeBcrypt(cfg.Management.SecretKey) {
		hashed, errHash := hashSecret(cfg.Management.SecretKey)
		if errHash != nil {
			return nil, fmt.Errorf("failed to hash management key: %w", errHash)
		}
		cfg.Management.SecretKey = hashed
	}

	cfg.Sanitize()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		LogsDir:       DefaultLogsDir,
		EnableService: true,
		CatalogDir:    DefaultCatalogDir,
		CatalogWatch:  true,
		Management: Management{
			Enabled: true,
		},
	}
}

// Sanitize trims string options and clamps numeric ones to valid ranges.
func (cfg *Config) Sanitize() {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.ForceInteractorPackage = strings.TrimSpace(cfg.ForceInteractorPackage)
	cfg.CandidateFilter = strings.TrimSpace(cfg.CandidateFilter)
	cfg.SettingsDB = strings.TrimSpace(cfg.SettingsDB)
	cfg.SettingsDSN = strings.TrimSpace(cfg.SettingsDSN)
	cfg.SettingsSchema = strings.TrimSpace(cfg.SettingsSchema)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}
	if cfg.InitialUser < 0 {
		cfg.InitialUser = 0
	}
	if strings.TrimSpace(cfg.LogsDir) == "" {
		cfg.LogsDir = DefaultLogsDir
	}
	cfg.LogsDir = filepath.Clean(strings.TrimSpace(cfg.LogsDir))
	if strings.TrimSpace(cfg.CatalogDir) == "" {
		cfg.CatalogDir = DefaultCatalogDir
	}
	cfg.CatalogDir = filepath.Clean(strings.TrimSpace(cfg.CatalogDir))
}

// Address returns the host:port pair the management API listens on.
func (cfg *Config) Address() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// CheckSecret reports whether provided matches the configured management key.
// It always succeeds when no key is configured.
func (m Management) CheckSecret(provided string) bool {
	if m.SecretKey == "" {
		return true
	}
	if provided == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.SecretKey), []byte(provided)) == nil
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// hashSecret hashes the given secret using bcrypt.
func hashSecret(secret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}
