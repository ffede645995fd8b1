// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
	"github.com/traylinx/voiceswitch/internal/events"
)

const (
	listenerQueueSize = 64
	writeWait         = 5 * time.Second
)

// wsListener is a session listener backed by one websocket connection.
// Callbacks never block the publisher: frames go through a bounded queue and a
// listener that falls behind is disconnected.
type wsListener struct {
	id    string
	conn  *websocket.Conn
	sub   *events.Subscription
	queue chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *wsListener) OnSessionShown(evt *events.Event)   { l.enqueue(evt) }
func (l *wsListener) OnSessionHidden(evt *events.Event)  { l.enqueue(evt) }
func (l *wsListener) OnUIHintsChanged(evt *events.Event) { l.enqueue(evt) }

func (l *wsListener) enqueue(evt *events.Event) {
	frame, err := encodeFrame(evt)
	if err != nil {
		log.WithError(err).Warnf("Unable to encode %s frame", evt.Type)
		return
	}
	select {
	case <-l.closed:
	case l.queue <- frame:
	default:
		log.WithField("listener", l.id).Warn("Session listener is not keeping up, disconnecting")
		l.close()
	}
}

func (l *wsListener) close() {
	l.closeOnce.Do(func() {
		if l.sub != nil {
			l.sub.Unsubscribe()
		}
		close(l.closed)
		_ = l.conn.Close()
	})
}

// encodeFrame renders evt as the JSON frame sent to listeners.
func encodeFrame(evt *events.Event) ([]byte, error) {
	frame := []byte(`{}`)
	var err error
	if frame, err = sjson.SetBytes(frame, "type", string(evt.Type)); err != nil {
		return nil, err
	}
	if frame, err = sjson.SetBytes(frame, "user", evt.User); err != nil {
		return nil, err
	}
	if frame, err = sjson.SetBytes(frame, "timestamp", evt.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if evt.Component != "" {
		if frame, err = sjson.SetBytes(frame, "component", evt.Component); err != nil {
			return nil, err
		}
	}
	if len(evt.Args) > 0 {
		if frame, err = sjson.SetBytes(frame, "args", evt.Args); err != nil {
			return nil, err
		}
	}
	if len(evt.Hints) > 0 {
		if frame, err = sjson.SetRawBytes(frame, "hints", evt.Hints); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func (s *Server) handleListen(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Session listener upgrade failed")
		return
	}
	l := &wsListener{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  make(chan []byte, listenerQueueSize),
		closed: make(chan struct{}),
	}
	l.sub = s.deps.Bus.RegisterSessionListener(l)

	s.listenersMu.Lock()
	s.listeners[l.id] = l
	s.listenersWG.Add(2)
	s.listenersMu.Unlock()
	log.WithField("listener", l.id).Debug("Session listener connected")

	go s.writeLoop(l)
	go s.readLoop(l)
}

func (s *Server) writeLoop(l *wsListener) {
	defer s.listenersWG.Done()
	for {
		select {
		case <-l.closed:
			return
		case frame := <-l.queue:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.WithField("listener", l.id).Debugf("Session listener write failed: %v", err)
				s.dropListener(l)
				return
			}
		}
	}
}

// readLoop only detects the peer going away; listeners send nothing.
func (s *Server) readLoop(l *wsListener) {
	defer s.listenersWG.Done()
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			s.dropListener(l)
			return
		}
	}
}

func (s *Server) dropListener(l *wsListener) {
	l.close()
	s.listenersMu.Lock()
	delete(s.listeners, l.id)
	s.listenersMu.Unlock()
}

// ListenerCount returns the number of connected session listeners.
func (s *Server) ListenerCount() int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return len(s.listeners)
}

func (s *Server) closeListeners() {
	s.listenersMu.Lock()
	active := make([]*wsListener, 0, len(s.listeners))
	for id, l := range s.listeners {
		active = append(active, l)
		delete(s.listeners, id)
	}
	s.listenersMu.Unlock()
	for _, l := range active {
		l.close()
	}
	s.listenersWG.Wait()
}
