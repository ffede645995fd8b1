// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/traylinx/voiceswitch/internal/keyphrase"
	"github.com/traylinx/voiceswitch/internal/registry"
	"github.com/traylinx/voiceswitch/internal/supervisor"
)

// readBody returns the parsed request body. An empty body is an empty object.
func readBody(c *gin.Context) (gjson.Result, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return gjson.Result{}, false
	}
	if len(raw) == 0 {
		return gjson.Parse("{}"), true
	}
	if !gjson.ValidBytes(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(raw), true
}

// intField reads an integer field, falling back to def when absent.
func intField(body gjson.Result, name string, def int) (int, error) {
	v := body.Get(name)
	if !v.Exists() {
		return def, nil
	}
	if v.Type != gjson.Number || float64(v.Int()) != v.Num {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int(v.Int()), nil
}

func boolField(body gjson.Result, name string, def bool) bool {
	v := body.Get(name)
	if !v.Exists() {
		return def
	}
	return v.Bool()
}

func stringsField(body gjson.Result, name string) []string {
	var out []string
	body.Get(name).ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String {
			out = append(out, value.String())
		}
		return true
	})
	return out
}

func argsField(body gjson.Result) map[string]interface{} {
	if args, ok := body.Get("args").Value().(map[string]interface{}); ok {
		return args
	}
	return nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	snapshot := s.deps.Controller.Snapshot()
	selection, err := s.deps.Controller.Selection(ctx, snapshot.User)
	if err != nil {
		log.WithError(err).Error("Unable to read selection")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to read selection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"controller": snapshot,
		"selection":  selection,
	})
}

func (s *Server) handleSettingsTrigger(c *gin.Context) {
	s.deps.Reconciler.OnSettingsChanged(c.Request.Context())
	c.JSON(http.StatusOK, s.deps.Controller.Snapshot())
}

func (s *Server) handleUserSwitch(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !body.Get("user").Exists() {
		badRequest(c, errors.New("user is required"))
		return
	}
	user, err := intField(body, "user", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.deps.Reconciler.OnUserSwitched(c.Request.Context(), user)
	c.JSON(http.StatusOK, s.deps.Controller.Snapshot())
}

func (s *Server) handleUserUnlock(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	user, err := intField(body, "user", s.deps.Controller.CurrentUser())
	if err != nil {
		badRequest(c, err)
		return
	}
	s.deps.Reconciler.OnUserUnlocked(c.Request.Context(), user)
	c.JSON(http.StatusOK, s.deps.Controller.Snapshot())
}

func (s *Server) handlePackagesTrigger(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	change := registry.PackageChange{
		Kind:      registry.ChangeKind(body.Get("kind").String()),
		Packages:  stringsField(body, "packages"),
		Permanent: boolField(body, "permanent", true),
		Classes:   stringsField(body, "classes"),
	}
	switch change.Kind {
	case registry.ChangeAppearing, registry.ChangeDisappearing, registry.ChangeModified:
	default:
		badRequest(c, fmt.Errorf("unknown change kind %q", change.Kind))
		return
	}
	if len(change.Packages) == 0 {
		badRequest(c, errors.New("packages is required"))
		return
	}
	user, err := intField(body, "user", registry.AllUsers)
	if err != nil {
		badRequest(c, err)
		return
	}
	change.User = user

	ctx := c.Request.Context()
	if change.Kind == registry.ChangeModified {
		for _, pkg := range change.Packages {
			s.deps.Reconciler.OnPackageModified(ctx, change.User, pkg, change.Classes)
		}
	}
	relevant := s.deps.Reconciler.OnPackagesChanged(ctx, change)
	c.JSON(http.StatusOK, gin.H{"relevant": relevant, "controller": s.deps.Controller.Snapshot()})
}

func (s *Server) handleRoleTrigger(c *gin.Context) {
	if s.deps.Holders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "role holders unavailable"})
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	roleName := body.Get("role").String()
	if roleName == "" {
		badRequest(c, errors.New("role is required"))
		return
	}
	user, err := intField(body, "user", s.deps.Controller.CurrentUser())
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.deps.Holders.SetRoleHolders(ctx, roleName, user, stringsField(body, "holders")); err != nil {
		log.WithError(err).Error("Unable to store role holders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to store role holders"})
		return
	}
	s.deps.Reconciler.OnRoleHoldersChanged(ctx, roleName, user)
	selection, err := s.deps.Controller.Selection(ctx, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to read selection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selection": selection})
}

func (s *Server) handleForceStop(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	user, err := intField(body, "user", s.deps.Controller.CurrentUser())
	if err != nil {
		badRequest(c, err)
		return
	}
	hit := s.deps.Reconciler.OnForceStop(c.Request.Context(), user, stringsField(body, "packages"), boolField(body, "doit", true))
	c.JSON(http.StatusOK, gin.H{"hit": hit})
}

func (s *Server) handleShowSession(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	shown := s.deps.Controller.ShowSession(c.Request.Context(), argsField(body))
	c.JSON(http.StatusOK, gin.H{"shown": shown})
}

func (s *Server) handleHideSession(c *gin.Context) {
	hidden := s.deps.Controller.HideSession(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"hidden": hidden})
}

func (s *Server) handleUIHints(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 || !gjson.ValidBytes(raw) {
		badRequest(c, errors.New("hints must be a JSON document"))
		return
	}
	if err := s.deps.Controller.SetUIHints(c.Request.Context(), json.RawMessage(raw)); err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSessionShown(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	s.deps.Controller.SessionShown(c.Request.Context(), argsField(body))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSessionHidden(c *gin.Context) {
	s.deps.Controller.SessionHidden(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func keyphraseID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid keyphrase id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) handleUpdateKeyphrase(c *gin.Context) {
	id, ok := keyphraseID(c)
	if !ok {
		return
	}
	var model keyphrase.Model
	if err := c.ShouldBindJSON(&model); err != nil {
		badRequest(c, err)
		return
	}
	if model.ModelID == "" {
		badRequest(c, errors.New("model_id is required"))
		return
	}
	model.KeyphraseID = id
	status, err := s.deps.Controller.UpdateKeyphraseModel(c.Request.Context(), &model)
	if err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleKeyphraseEnrolled(c *gin.Context) {
	id, ok := keyphraseID(c)
	if !ok {
		return
	}
	enrolled, err := s.deps.Controller.IsEnrolled(c.Request.Context(), id, c.Query("locale"))
	if err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": enrolled})
}

func (s *Server) handleDeleteKeyphrase(c *gin.Context) {
	id, ok := keyphraseID(c)
	if !ok {
		return
	}
	status, err := s.deps.Controller.DeleteKeyphraseModel(c.Request.Context(), id, c.Query("locale"))
	if err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleStartRecognition(c *gin.Context) {
	id, ok := keyphraseID(c)
	if !ok {
		return
	}
	status, err := s.deps.Controller.StartRecognition(c.Request.Context(), id, c.Query("locale"))
	if err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleStopRecognition(c *gin.Context) {
	id, ok := keyphraseID(c)
	if !ok {
		return
	}
	status, err := s.deps.Controller.StopRecognition(c.Request.Context(), id)
	if err != nil {
		s.controllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) controllerError(c *gin.Context, err error) {
	if errors.Is(err, supervisor.ErrNoActiveImplementation) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": keyphrase.StatusError})
		return
	}
	log.WithField(requestIDKey, c.GetString(requestIDKey)).WithError(err).Error("Management request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": keyphrase.StatusError})
}
