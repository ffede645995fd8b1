// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the voiceswitch server.
// The server keeps at most one voice interaction implementation running, bound to
// the current user's selection, and reconciles it on every platform event.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/buildinfo"
	"github.com/traylinx/voiceswitch/internal/cmd"
	"github.com/traylinx/voiceswitch/internal/config"
	"github.com/traylinx/voiceswitch/internal/logging"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// resolveConfigPath picks the config file: the flag, then VOICESWITCH_CONFIG,
// then config.yaml in the working directory.
func resolveConfigPath(flagValue, wd string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p, ok := os.LookupEnv("VOICESWITCH_CONFIG"); ok && strings.TrimSpace(p) != "" {
		return strings.TrimSpace(p)
	}
	return filepath.Join(wd, "config.yaml")
}

func main() {
	var configPath string
	var showVersion bool
	var safeMode bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&safeMode, "safe-mode", false, "Never start a voice interaction implementation")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := resolveConfigPath(configPath, wd)
	// A missing config file is fine: every option has a default.
	cfg, err := config.LoadConfigOptional(configFilePath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if safeMode {
		cfg.SafeMode = true
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	logging.SetDebug(cfg.Debug)

	log.Info(buildinfo.String())
	if cfg.SafeMode {
		log.Warn("Safe mode: voice interaction implementations will not be started")
	}

	if err = cmd.StartService(cfg); err != nil {
		log.Error(err)
		logging.CloseLogOutputs()
		os.Exit(1)
	}
	logging.CloseLogOutputs()
}
