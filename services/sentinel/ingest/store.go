// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// StoreConfig tunes the in-memory telemetry store.
type StoreConfig struct {
	// BufferSize is how many recent readings are retained per component.
	// Older readings age out of memory; the archiver keeps the long tail.
	BufferSize int `yaml:"buffer_size"`
}

// EnsureDefaults fills unset fields with the stock tuning.
func (c *StoreConfig) EnsureDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
}

// Store keeps the recent telemetry window per component.
//
// Readings are append-only and ordered by insertion. The single
// permitted mutation is the severity annotation a detector leaves after
// classifying a reading; everything else about a stored reading is
// frozen at append time.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]*readingRing
	size    int
	total   atomic.Uint64
}

// NewStore builds an empty store.
func NewStore(cfg StoreConfig) *Store {
	cfg.EnsureDefaults()
	return &Store{
		buffers: make(map[string]*readingRing),
		size:    cfg.BufferSize,
	}
}

// Append records a reading in its component's buffer, evicting the
// oldest entry once the buffer is full.
func (s *Store) Append(reading datatypes.TelemetryReading) {
	s.mu.Lock()
	ring, ok := s.buffers[reading.Component]
	if !ok {
		ring = newReadingRing(s.size)
		s.buffers[reading.Component] = ring
	}
	ring.push(reading)
	s.mu.Unlock()
	s.total.Add(1)
}

// Annotate sets the severity tag on a stored reading. Returns false
// when the reading has already aged out of the buffer.
func (s *Store) Annotate(component, readingID string, severity datatypes.Severity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.buffers[component]
	if !ok {
		return false
	}
	return ring.annotate(readingID, severity)
}

// Recent returns up to limit readings for a component, newest first.
func (s *Store) Recent(component string, limit int) []datatypes.TelemetryReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.buffers[component]
	if !ok {
		return nil
	}
	return ring.recent(limit)
}

// Size reports how many readings a component currently has buffered.
func (s *Store) Size(component string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.buffers[component]
	if !ok {
		return 0
	}
	return ring.count
}

// TotalAppended counts every reading ever appended, including ones that
// have since aged out.
func (s *Store) TotalAppended() uint64 {
	return s.total.Load()
}

// RemoveComponent drops a component's buffer. Wired as a registry
// removal hook.
func (s *Store) RemoveComponent(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, component)
}

type readingRing struct {
	readings []datatypes.TelemetryReading
	head     int
	count    int
}

func newReadingRing(capacity int) *readingRing {
	return &readingRing{readings: make([]datatypes.TelemetryReading, capacity)}
}

func (r *readingRing) push(reading datatypes.TelemetryReading) {
	if r.count == len(r.readings) {
		r.readings[r.head] = reading
		r.head = (r.head + 1) % len(r.readings)
		return
	}
	r.readings[(r.head+r.count)%len(r.readings)] = reading
	r.count++
}

// annotate walks newest to oldest; the reading being annotated is
// almost always the most recent append.
func (r *readingRing) annotate(readingID string, severity datatypes.Severity) bool {
	for i := r.count - 1; i >= 0; i-- {
		idx := (r.head + i) % len(r.readings)
		if r.readings[idx].ID == readingID {
			r.readings[idx].Severity = severity
			return true
		}
	}
	return false
}

func (r *readingRing) recent(limit int) []datatypes.TelemetryReading {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]datatypes.TelemetryReading, 0, limit)
	for i := r.count - 1; i >= r.count-limit; i-- {
		out = append(out, r.readings[(r.head+i)%len(r.readings)])
	}
	return out
}
