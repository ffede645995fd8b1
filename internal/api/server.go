// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the HTTP management server of voiceswitch. It exposes
// the supervisor state, accepts the platform triggers, forwards session requests
// to the running implementation and streams session events over websockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/voiceswitch/internal/config"
	"github.com/traylinx/voiceswitch/internal/events"
	"github.com/traylinx/voiceswitch/internal/reconciler"
	"github.com/traylinx/voiceswitch/internal/role"
	"github.com/traylinx/voiceswitch/internal/supervisor"
)

// Deps are the collaborators the handlers drive.
type Deps struct {
	Controller *supervisor.Controller
	Reconciler *reconciler.Reconciler
	Holders    *role.HolderStore
	Bus        *events.Bus
}

// Server is the management HTTP server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	engine *gin.Engine
	server *http.Server

	upgrader websocket.Upgrader

	listenersMu sync.Mutex
	listeners   map[string]*wsListener
	listenersWG sync.WaitGroup
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if deps.Controller == nil || deps.Reconciler == nil || deps.Bus == nil {
		return nil, errors.New("api: controller, reconciler and bus are required")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		engine:    gin.New(),
		listeners: make(map[string]*wsListener),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine.Use(gin.Recovery(), requestIDMiddleware(), accessLogMiddleware())
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v0 := s.engine.Group("/v0", s.managementMiddleware())
	v0.GET("/status", s.handleStatus)

	triggers := v0.Group("/triggers")
	triggers.POST("/settings", s.handleSettingsTrigger)
	triggers.POST("/user-switch", s.handleUserSwitch)
	triggers.POST("/user-unlock", s.handleUserUnlock)
	triggers.POST("/packages", s.handlePackagesTrigger)
	triggers.POST("/role", s.handleRoleTrigger)
	triggers.POST("/force-stop", s.handleForceStop)

	session := v0.Group("/session")
	session.POST("/show", s.handleShowSession)
	session.POST("/hide", s.handleHideSession)
	session.POST("/ui-hints", s.handleUIHints)
	session.POST("/shown", s.handleSessionShown)
	session.POST("/hidden", s.handleSessionHidden)
	session.GET("/listen", s.handleListen)

	keyphrases := v0.Group("/keyphrases")
	keyphrases.PUT("/:id", s.handleUpdateKeyphrase)
	keyphrases.GET("/:id", s.handleKeyphraseEnrolled)
	keyphrases.DELETE("/:id", s.handleDeleteKeyphrase)
	keyphrases.POST("/:id/start", s.handleStartRecognition)
	keyphrases.POST("/:id/stop", s.handleStopRecognition)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("Management API listening on %s", s.cfg.Address())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start management API: %w", err)
	}
	return nil
}

// Stop closes session listeners and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.closeListeners()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown management API: %w", err)
	}
	log.Info("Management API stopped")
	return nil
}
