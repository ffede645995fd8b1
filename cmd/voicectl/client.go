// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Client talks to the voiceswitch management API.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr, key string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		key:     key,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) authorize(h http.Header) {
	if c.key != "" {
		h.Set("Authorization", "Bearer "+c.key)
	}
}

// Do sends body to path and returns the decoded JSON response.
func (c *Client) Do(method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	result := gjson.ParseBytes(data)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := result.Get("error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return result, fmt.Errorf("%s %s: %s (HTTP %d)", method, path, msg, resp.StatusCode)
	}
	return result, nil
}

// Listen streams session frames to fn until the connection closes or fn returns false.
func (c *Client) Listen(fn func(frame gjson.Result) bool) error {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v0/session/listen"
	header := http.Header{}
	c.authorize(header)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if !fn(gjson.ParseBytes(data)) {
			return nil
		}
	}
}
