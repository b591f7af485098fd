// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pushhub implements the two shell push streams (printer-state,
// printer-log) as a small topic-based WebSocket hub. Registration and
// unregistration are serialized through a single event-loop goroutine,
// which takes the registry's write lock for each change; Publish holds a
// brief read lock to copy the subscriber set and then sends outside the
// lock.
package pushhub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// TopicPrinterState carries full control.PublicState snapshots.
	TopicPrinterState = "printer-state"
	// TopicPrinterLog carries individual bridge.LogRow entries.
	TopicPrinterLog = "printer-log"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope pushed to every subscriber.
type Message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Hub is the pub/sub broker for the two push streams.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
}

type client struct {
	conn   *websocket.Conn
	send   chan Message
	topics []string
}

// New creates an idle Hub. Run must be started in its own goroutine.
func New() *Hub {
	return &Hub{
		topics:     make(map[string]map[*client]struct{}),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			for _, topic := range c.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*client]struct{})
				}
				h.topics[topic][c] = struct{}{}
			}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			for _, topic := range c.topics {
				delete(h.topics[topic], c)
			}
			h.mu.Unlock()
			close(c.send)

		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.topics {
				for c := range clients {
					close(c.send)
				}
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends payload to every subscriber of topic. Slow subscribers
// (a full send buffer) are dropped rather than allowed to block the
// publisher.
func (h *Hub) Publish(topic string, payload any) {
	h.mu.RLock()
	subs := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, c := range subs {
		select {
		case c.send <- msg:
		default:
			h.unregister <- c
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket connection subscribed to
// the given topics. It blocks until the connection closes.
func (h *Hub) ServeHTTP(topics []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &client{conn: conn, send: make(chan Message, sendBufferSize), topics: topics}
		h.register <- c

		go c.readPump()
		c.writePump()
	}
}

func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
