// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingListener struct {
	mu     sync.Mutex
	events []Type
	panics bool
}

func (l *recordingListener) record(evt *Event) {
	l.mu.Lock()
	l.events = append(l.events, evt.Type)
	l.mu.Unlock()
	if l.panics {
		panic("listener exploded")
	}
}

func (l *recordingListener) OnSessionShown(evt *Event)   { l.record(evt) }
func (l *recordingListener) OnSessionHidden(evt *Event)  { l.record(evt) }
func (l *recordingListener) OnUIHintsChanged(evt *Event) { l.record(evt) }

func (l *recordingListener) seen() []Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Type(nil), l.events...)
}

func TestBus_SessionListenersIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus()
	defer bus.Shutdown()

	bad := &recordingListener{panics: true}
	good := &recordingListener{}
	bus.SubscribeAll(bad)
	bus.RegisterSessionListener(good)

	bus.Publish(&Event{Type: EventSessionShown})
	bus.Publish(&Event{Type: EventUIHintsChanged, Hints: json.RawMessage(`{"a":1}`)})
	bus.Publish(&Event{Type: EventSessionHidden})
	bus.Publish(&Event{Type: EventImplementationChanged})

	want := []Type{EventSessionShown, EventUIHintsChanged, EventSessionHidden}
	assert.Equal(t, want, good.seen(), "a panicking listener does not block delivery")
	assert.Equal(t, want, bad.seen())
}

func TestBus_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus()
	defer bus.Shutdown()

	l := &recordingListener{}
	sub := bus.SubscribeAll(l)
	require.NotEmpty(t, sub.ID)
	assert.Equal(t, 1, bus.Count(EventSessionHidden))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, bus.Count(EventSessionShown))
	assert.Equal(t, 0, bus.Count(EventSessionHidden))

	bus.Publish(&Event{Type: EventSessionShown})
	assert.Empty(t, l.seen())
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus()
	defer bus.Shutdown()

	var calls int32
	var first *Subscription
	first = bus.Subscribe(EventSessionShown, func(*Event) {
		atomic.AddInt32(&calls, 1)
		first.Unsubscribe()
	})
	bus.Subscribe(EventSessionShown, func(*Event) { atomic.AddInt32(&calls, 1) })

	bus.Publish(&Event{Type: EventSessionShown})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "snapshot taken before delivery")
	bus.Publish(&Event{Type: EventSessionShown})
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBus_PublishAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus()

	var calls int32
	bus.Subscribe(EventImplementationChanged, func(evt *Event) {
		assert.False(t, evt.Timestamp.IsZero())
		atomic.AddInt32(&calls, 1)
	})
	for i := 0; i < 10; i++ {
		bus.PublishAsync(&Event{Type: EventImplementationChanged})
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 10 }, time.Second, 5*time.Millisecond)

	bus.Shutdown()
	bus.Shutdown()
	bus.PublishAsync(&Event{Type: EventImplementationChanged})
}
