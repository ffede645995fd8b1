// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const requestIDKey = "request_id"

// forwardingHeaders mark requests relayed by a proxy; their origin is unknown.
var forwardingHeaders = []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, uuid.NewString()[:8])
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithField(requestIDKey, c.GetString(requestIDKey))
		status := c.Writer.Status()
		line := "%s %s %d %s"
		args := []interface{}{c.Request.Method, c.Request.URL.Path, status, time.Since(start).Round(time.Microsecond)}
		if status >= http.StatusInternalServerError {
			entry.Errorf(line, args...)
			return
		}
		entry.Debugf(line, args...)
	}
}

// isLocalRequest reports whether the request comes straight from the loopback
// interface. Proxied requests never count as local.
func isLocalRequest(r *http.Request) bool {
	for _, h := range forwardingHeaders {
		if r.Header.Get(h) != "" {
			return false
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func bearerToken(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Management-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// managementMiddleware enforces the localhost restriction and the management key.
func (s *Server) managementMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.Management.AllowRemote && !isLocalRequest(c.Request) {
			log.WithField(requestIDKey, c.GetString(requestIDKey)).
				Warnf("Rejected remote management request from %s", c.Request.RemoteAddr)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "remote management disabled"})
			return
		}
		if !s.cfg.Management.CheckSecret(bearerToken(c.Request)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}
