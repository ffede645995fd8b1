// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"encoding/json"

	"github.com/traylinx/voiceswitch/internal/events"
)

// ShowSession asks the running implementation to show its session.
func (c *Controller) ShowSession(ctx context.Context, args map[string]interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	return c.active.handle.ShowSession(ctx, args)
}

// HideSession asks the running implementation to hide its session.
func (c *Controller) HideSession(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	return c.active.handle.HideSession(ctx)
}

// IsSessionRunning reports whether the running implementation has a session up.
func (c *Controller) IsSessionRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.handle.SessionRunning()
}

// SessionShown broadcasts that the running implementation showed its session.
func (c *Controller) SessionShown(ctx context.Context, args map[string]interface{}) {
	evt := c.sessionEvent(events.EventSessionShown)
	evt.Args = args
	c.publish(evt)
}

// SessionHidden broadcasts that the running implementation hid its session.
func (c *Controller) SessionHidden(ctx context.Context) {
	c.publish(c.sessionEvent(events.EventSessionHidden))
}

// SetUIHints broadcasts hints from the running implementation.
func (c *Controller) SetUIHints(ctx context.Context, hints json.RawMessage) error {
	c.mu.Lock()
	active := c.active != nil
	c.mu.Unlock()
	if !active {
		return ErrNoActiveImplementation
	}
	evt := c.sessionEvent(events.EventUIHintsChanged)
	evt.Hints = hints
	c.publish(evt)
	return nil
}

func (c *Controller) sessionEvent(t events.Type) *events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	evt := &events.Event{Type: t, User: c.user}
	if c.active != nil {
		evt.Component = c.active.ref.Flatten()
	}
	return evt
}
