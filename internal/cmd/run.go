// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd assembles and runs the voiceswitch service: package catalog,
// settings, lifecycle controller, reconciler and management API.
package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/api"
	"github.com/traylinx/voiceswitch/internal/component"
	"github.com/traylinx/voiceswitch/internal/config"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
	"github.com/traylinx/voiceswitch/internal/reconciler"
	"github.com/traylinx/voiceswitch/internal/registry"
	"github.com/traylinx/voiceswitch/internal/resolver"
	"github.com/traylinx/voiceswitch/internal/role"
	"github.com/traylinx/voiceswitch/internal/runtime"
	"github.com/traylinx/voiceswitch/internal/settings"
	"github.com/traylinx/voiceswitch/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

// Service owns every long-lived component of the supervisor.
type Service struct {
	cfg *config.Config

	Catalog    *registry.Catalog
	Store      settings.Store
	Bus        *events.Bus
	Launcher   *runtime.LocalLauncher
	Trigger    *runtime.LocalSoundTrigger
	Controller *supervisor.Controller
	Reconciler *reconciler.Reconciler
	Holders    *role.HolderStore

	modelsDB      *sql.DB
	ownsModelsDB  bool
	watcher       *registry.Watcher
	server        *api.Server
	cancelWatches []func()
}

// NewService builds the service from cfg. Nothing runs until Run.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg, Catalog: registry.NewCatalog(), Bus: events.NewBus()}

	if _, err := s.Catalog.Reload(cfg.CatalogDir); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to load package catalog: %w", err)
	}

	switch {
	case cfg.SettingsDSN != "":
		store, err := settings.NewPostgresStore(ctx, settings.PostgresStoreConfig{DSN: cfg.SettingsDSN, Schema: cfg.SettingsSchema})
		if err != nil {
			s.close()
			return nil, err
		}
		s.Store = store
		if err = s.openModelsDB(cfg.SettingsDB); err != nil {
			s.close()
			return nil, err
		}
	case cfg.SettingsDB != "":
		store, err := settings.NewSQLiteStore(ctx, cfg.SettingsDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.Store = store
		s.modelsDB = store.DB()
	default:
		log.Warn("No settings database configured, voice selection is kept in memory")
		s.Store = settings.NewMemoryStore()
		if err := s.openModelsDB(""); err != nil {
			s.close()
			return nil, err
		}
	}
	models, err := keyphrase.NewModelStore(ctx, s.modelsDB)
	if err != nil {
		s.close()
		return nil, err
	}

	candidates, err := resolver.New(s.Catalog, cfg.CandidateFilter)
	if err != nil {
		s.close()
		return nil, err
	}

	s.Launcher = runtime.NewLocalLauncher(s.Bus)
	s.Trigger = runtime.NewLocalSoundTrigger()
	s.Controller, err = supervisor.New(supervisor.Options{
		Store:                  s.Store,
		Candidates:             candidates,
		Launcher:               s.Launcher,
		SoundTrigger:           s.Trigger,
		Models:                 models,
		Bus:                    s.Bus,
		SafeMode:               cfg.SafeMode,
		DisableService:         !cfg.EnableService,
		ForceInteractorPackage: cfg.ForceInteractorPackage,
		InitialUser:            cfg.InitialUser,
	})
	if err != nil {
		s.close()
		return nil, err
	}

	s.Holders = role.NewHolderStore(s.Store)
	s.Reconciler = reconciler.New(s.Controller, candidates, role.NewProjector(s.Catalog, candidates, s.Store), s.Holders)

	if cfg.Management.Enabled {
		s.server, err = api.NewServer(cfg, api.Deps{
			Controller: s.Controller,
			Reconciler: s.Reconciler,
			Holders:    s.Holders,
			Bus:        s.Bus,
		})
		if err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// openModelsDB opens the SQLite database for keyphrase models. An empty path
// keeps them in memory.
func (s *Service) openModelsDB(path string) error {
	dsn := ":memory:"
	if path != "" {
		dsn = path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open keyphrase database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.modelsDB = db
	s.ownsModelsDB = true
	return nil
}

// Run starts the reconciliation sources and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	// Every write to the interactor key of the current user is a settings trigger.
	s.cancelWatches = append(s.cancelWatches, s.Store.Watch(component.KeyInteractor, func(user int) {
		if user == s.Controller.CurrentUser() {
			s.Reconciler.OnSettingsChanged(ctx)
		}
	}))

	s.Reconciler.OnUserUnlocked(ctx, s.cfg.InitialUser)

	if s.cfg.CatalogWatch {
		s.watcher = registry.NewWatcher(s.Catalog, s.cfg.CatalogDir, 0)
		if err := s.watcher.Start(func(change registry.PackageChange) {
			s.Reconciler.HandleCatalogChange(ctx, change)
		}); err != nil {
			log.WithError(err).Warn("Catalog hot-reload disabled")
			s.watcher = nil
		}
	}

	serverErr := make(chan error, 1)
	if s.server != nil {
		go func() {
			serverErr <- s.server.Start()
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return err
}

// Shutdown stops every component. It is called by Run and is safe to call again.
func (s *Service) Shutdown(ctx context.Context) {
	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			log.WithError(err).Warn("Management API shutdown failed")
		}
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	for _, cancel := range s.cancelWatches {
		cancel()
	}
	s.cancelWatches = nil
	if s.Controller != nil {
		s.Controller.Shutdown(ctx)
	}
	s.close()
}

func (s *Service) close() {
	if s.Bus != nil {
		s.Bus.Shutdown()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close settings store")
		}
	}
	if s.ownsModelsDB && s.modelsDB != nil {
		_ = s.modelsDB.Close()
	}
}

// StartService builds the service and runs it until SIGINT or SIGTERM.
func StartService(cfg *config.Config) error {
	ctxSignal, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	service, err := NewService(ctxSignal, cfg)
	if err != nil {
		return fmt.Errorf("failed to build voiceswitch service: %w", err)
	}

	err = service.Run(ctxSignal)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("voiceswitch service exited with error: %w", err)
	}
	return nil
}
