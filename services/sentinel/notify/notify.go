// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify fans sealed security events, patch state changes, and
// classified telemetry readings out to WebSocket subscribers.
//
// The hub is strictly fire-and-forget: producers (the event sink, the
// patch engine, the ingestion pipeline) never block on subscribers. A
// subscriber that cannot keep up is evicted rather than allowed to
// stall the fan-out loop.
package notify

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// Frame types pushed over the stream socket.
const (
	FrameEvent   = "event"
	FramePatch   = "patch"
	FrameReading = "reading"
)

// Frame is the envelope every stream message travels in.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	// broadcastBuffer absorbs bursts between producer and fan-out loop.
	broadcastBuffer = 256

	// clientSendBuffer is the per-subscriber outbound queue. A client
	// whose queue fills is evicted.
	clientSendBuffer = 32
)

// Stats counts hub activity since start.
type Stats struct {
	// Dropped counts frames discarded because the hub's own queue was
	// full (fan-out loop stalled or not running).
	Dropped uint64

	// Evicted counts subscribers removed for not keeping up.
	Evicted uint64
}

// Hub maintains the set of live subscribers and broadcasts frames to
// them. Safe for concurrent use; run exactly one Run loop.
type Hub struct {
	log *logging.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	stop       chan struct{}
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool

	dropped atomic.Uint64
	evicted atomic.Uint64
}

// NewHub builds a hub. Call Run to start the fan-out loop.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run owns the subscriber set until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if h.log != nil {
				h.log.Debug("stream subscriber connected", "subscribers", h.ClientCount())
			}

		case c := <-h.unregister:
			h.removeClient(c)

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// Stop halts the fan-out loop and disconnects all subscribers.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			// Subscriber queue full; cut it loose rather than stall
			// everyone else.
			delete(h.clients, c)
			close(c.send)
			h.evicted.Add(1)
			if h.log != nil {
				h.log.Warn("evicted slow stream subscriber")
			}
		}
	}
}

// BroadcastEvent pushes one sealed security event to all subscribers.
// Never blocks; frames are dropped if the hub is saturated.
func (h *Hub) BroadcastEvent(event datatypes.SecurityEvent) {
	h.push(Frame{Type: FrameEvent, Payload: event})
}

// BroadcastPatch pushes one rollout state change to all subscribers.
func (h *Hub) BroadcastPatch(status datatypes.PatchStatus) {
	h.push(Frame{Type: FramePatch, Payload: status})
}

// BroadcastReading pushes one classified telemetry reading to all
// subscribers. This is the live tail feed; readings are not replayed.
func (h *Hub) BroadcastReading(reading datatypes.TelemetryReading) {
	h.push(Frame{Type: FrameReading, Payload: reading})
}

func (h *Hub) push(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		if h.log != nil {
			h.log.Error("encode stream frame", "error", err, "type", frame.Type)
		}
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of live subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HubStats returns drop and eviction counters.
func (h *Hub) HubStats() Stats {
	return Stats{
		Dropped: h.dropped.Load(),
		Evicted: h.evicted.Load(),
	}
}

// Attach adopts an upgraded connection: registers it and starts its
// read and write pumps. The hub owns the connection from here on. A
// stopped hub closes the connection instead.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
