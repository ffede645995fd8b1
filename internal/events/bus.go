// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events fans out session and lifecycle events to registered listeners.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Type names an event.
type Type string

const (
	EventSessionShown          Type = "session_shown"
	EventSessionHidden         Type = "session_hidden"
	EventUIHintsChanged        Type = "ui_hints_changed"
	EventImplementationChanged Type = "implementation_changed"
)

// Event is delivered to subscribers.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	User      int       `json:"user"`
	// Component is the flattened component the event concerns, if any.
	Component string `json:"component,omitempty"`
	// Args are the session arguments for session_shown.
	Args map[string]interface{} `json:"args,omitempty"`
	// Hints is the raw payload of ui_hints_changed.
	Hints json.RawMessage `json:"hints,omitempty"`
	// State is the controller state after implementation_changed.
	State string `json:"state,omitempty"`
}

// SessionListener observes the session of the active implementation.
type SessionListener interface {
	OnSessionShown(evt *Event)
	OnSessionHidden(evt *Event)
	OnUIHintsChanged(evt *Event)
}

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Events      []Type
	Callback    func(*Event)
	Unsubscribe func()
}

// Bus distributes events. Publish runs callbacks on the caller's goroutine;
// a panicking subscriber is logged and does not affect the others.
type Bus struct {
	subscribers  map[Type][]*Subscription
	mu           sync.RWMutex
	queue        chan *Event
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewBus creates a bus and starts its async delivery goroutine.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[Type][]*Subscription),
		queue:       make(chan *Event, 1000),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go b.processQueue()
	return b
}

// Subscribe registers callback for one event type.
func (b *Bus) Subscribe(event Type, callback func(*Event)) *Subscription {
	return b.subscribe([]Type{event}, callback)
}

// SubscribeAll registers listener for the three session events.
func (b *Bus) SubscribeAll(listener SessionListener) *Subscription {
	return b.subscribe([]Type{EventSessionShown, EventSessionHidden, EventUIHintsChanged}, func(evt *Event) {
		switch evt.Type {
		case EventSessionShown:
			listener.OnSessionShown(evt)
		case EventSessionHidden:
			listener.OnSessionHidden(evt)
		case EventUIHintsChanged:
			listener.OnUIHintsChanged(evt)
		}
	})
}

// RegisterSessionListener is SubscribeAll.
func (b *Bus) RegisterSessionListener(listener SessionListener) *Subscription {
	return b.SubscribeAll(listener)
}

func (b *Bus) subscribe(types []Type, callback func(*Event)) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		Events:   types,
		Callback: callback,
	}
	var once sync.Once
	sub.Unsubscribe = func() {
		once.Do(func() { b.unsubscribe(sub) })
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], sub)
	}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range sub.Events {
		subs := b.subscribers[t]
		for i, s := range subs {
			if s.ID == sub.ID {
				// copy so a concurrent Publish keeps a consistent snapshot
				next := make([]*Subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				b.subscribers[t] = append(next, subs[i+1:]...)
				break
			}
		}
	}
}

// Count returns the number of subscribers for event.
func (b *Bus) Count(event Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[event])
}

// Publish delivers evt to every subscriber synchronously.
func (b *Bus) Publish(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := b.subscribers[evt.Type]
	active := make([]*Subscription, len(subs))
	copy(active, subs)
	b.mu.RUnlock()

	for _, sub := range active {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in event subscriber for %s: %v", evt.Type, r)
				}
			}()
			sub.Callback(evt)
		}()
	}
}

// PublishAsync queues evt for delivery on the bus goroutine. Events are
// dropped with a warning when the queue is full or the bus is shut down.
func (b *Bus) PublishAsync(evt *Event) {
	if b.ctx.Err() != nil {
		return
	}
	select {
	case <-b.ctx.Done():
	case b.queue <- evt:
	default:
		log.Warnf("Event queue full, dropping event: %s", evt.Type)
	}
}

func (b *Bus) processQueue() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-b.queue:
			if evt != nil {
				b.Publish(evt)
			}
		}
	}
}

// Shutdown stops async delivery and waits for the bus goroutine to exit.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		<-b.done
	})
}
