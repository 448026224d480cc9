// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sink turns candidate findings into persisted SecurityEvents.
//
// The sink owns the deduplication policy: findings for the same
// (component, category) pair arriving inside one coalescing window
// collapse into a single event that retains the highest severity seen.
// Persistence and notification happen on a worker goroutine behind a
// bounded queue so detector hot paths never block on collaborator I/O.
package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// EventStore receives every minted SecurityEvent exactly once.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the sink calls from
// its worker goroutine while tests may call directly.
//
// # Error Handling
//
// Store errors must not block detection. The sink logs them and moves
// on; implementations handle their own retry logic.
type EventStore interface {
	PutEvent(ctx context.Context, event datatypes.SecurityEvent) error
}

// Broadcaster receives every minted SecurityEvent exactly once, after
// it has been handed to the EventStore. Implementations must not block;
// slow subscriber handling belongs behind this interface.
type Broadcaster interface {
	BroadcastEvent(event datatypes.SecurityEvent)
}

// =============================================================================
// Sink
// =============================================================================

var (
	// ErrQueueFull is returned when the delivery queue is saturated and
	// no new coalescing slot can be opened. This is the only sink
	// failure that propagates to callers.
	ErrQueueFull = errors.New("event queue full")

	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("sink closed")
)

// Config tunes the sink. Zero values take the stock defaults.
type Config struct {
	// CoalesceWindow is how long a (component, category) slot stays
	// open to absorb duplicate findings before the event is sealed.
	CoalesceWindow time.Duration `yaml:"coalesce_window"`
	// QueueSize bounds the async delivery queue.
	QueueSize int `yaml:"queue_size"`
}

// EnsureDefaults fills unset fields with the stock tuning.
func (c *Config) EnsureDefaults() {
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Minted    uint64 `json:"minted"`
	Coalesced uint64 `json:"coalesced"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

type slotKey struct {
	component string
	category  datatypes.Category
}

type slot struct {
	event datatypes.SecurityEvent
	timer *time.Timer
	count int
}

// sealed finalizes the slot's event. Merged duplicates surface as an
// occurrence count so a coalesced event is distinguishable from a
// single finding.
func (sl *slot) sealed() datatypes.SecurityEvent {
	if sl.count > 1 {
		sl.event.Context["occurrences"] = sl.count
	}
	return sl.event
}

// Sink coalesces findings and delivers sealed events asynchronously.
//
// An event's identity is fixed the moment its slot opens: duplicates
// merged during the window receive the same event ID, so callers can
// correlate their submission with the eventually persisted record. Once
// sealed, an event is immutable; later findings for the same pair open
// a fresh slot and a distinct event.
type Sink struct {
	cfg         Config
	store       EventStore
	broadcaster Broadcaster
	log         *logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	pending map[slotKey]*slot
	closed  bool

	queue         chan datatypes.SecurityEvent
	inflight      sync.WaitGroup
	workerDone    chan struct{}
	workerStopped chan struct{}

	minted    atomic.Uint64
	coalesced atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New builds a sink and starts its delivery worker. Either collaborator
// may be nil; delivery to a nil collaborator is skipped. Call Close to
// stop the worker.
func New(cfg Config, store EventStore, broadcaster Broadcaster, log *logging.Logger) *Sink {
	cfg.EnsureDefaults()
	s := &Sink{
		cfg:           cfg,
		store:         store,
		broadcaster:   broadcaster,
		log:           log,
		now:           time.Now,
		pending:       make(map[slotKey]*slot),
		queue:         make(chan datatypes.SecurityEvent, cfg.QueueSize),
		workerDone:    make(chan struct{}),
		workerStopped: make(chan struct{}),
	}
	go s.worker()
	return s
}

// Submit hands one finding to the sink and returns the ID of the event
// it minted or merged into. The event is persisted asynchronously after
// its coalescing window closes; the ID is valid immediately.
func (s *Sink) Submit(finding datatypes.Finding, actor string) (string, error) {
	key := slotKey{component: finding.Component, category: finding.Category}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	if sl, ok := s.pending[key]; ok {
		s.merge(sl, finding)
		id := sl.event.ID
		s.mu.Unlock()
		s.coalesced.Add(1)
		return id, nil
	}

	// Opening a slot commits us to one queue entry later. Refuse now
	// if the queue is already saturated so backpressure reaches the
	// caller instead of silently losing the sealed event.
	if len(s.queue) == cap(s.queue) {
		s.mu.Unlock()
		s.dropped.Add(1)
		return "", ErrQueueFull
	}

	ev := s.mint(finding, actor)
	sl := &slot{event: ev, count: 1}
	sl.timer = time.AfterFunc(s.cfg.CoalesceWindow, func() { s.seal(key) })
	s.pending[key] = sl
	s.mu.Unlock()

	s.minted.Add(1)
	return ev.ID, nil
}

func (s *Sink) mint(finding datatypes.Finding, actor string) datatypes.SecurityEvent {
	now := s.now().UTC()
	evCtx := make(map[string]any, len(finding.Context)+3)
	for k, v := range finding.Context {
		evCtx[k] = v
	}
	evCtx["component"] = finding.Component
	if finding.Detector != "" {
		evCtx["detector"] = finding.Detector
	}
	if finding.Mitigation != "" {
		evCtx["mitigation"] = finding.Mitigation
	}
	return datatypes.SecurityEvent{
		ID:        uuid.NewString(),
		Severity:  finding.Severity,
		Category:  finding.Category,
		Details:   finding.Details,
		Actor:     actor,
		Context:   evCtx,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// merge folds a duplicate finding into an open slot. The higher
// severity wins and brings its details with it; context keys accumulate.
// Caller holds s.mu.
func (s *Sink) merge(sl *slot, finding datatypes.Finding) {
	if finding.Severity.Rank() > sl.event.Severity.Rank() {
		sl.event.Severity = finding.Severity
		sl.event.Details = finding.Details
	}
	for k, v := range finding.Context {
		sl.event.Context[k] = v
	}
	if finding.Mitigation != "" {
		sl.event.Context["mitigation"] = finding.Mitigation
	}
	sl.count++
	sl.event.UpdatedAt = s.now().UTC()
}

// seal closes a slot and queues its event for delivery. Runs from the
// slot timer; a slot already flushed by Flush is a no-op.
func (s *Sink) seal(key slotKey) {
	s.mu.Lock()
	sl, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	s.enqueue(sl.sealed())
}

func (s *Sink) enqueue(ev datatypes.SecurityEvent) {
	s.inflight.Add(1)
	select {
	case s.queue <- ev:
	default:
		s.inflight.Done()
		s.dropped.Add(1)
		if s.log != nil {
			s.log.Error("event queue full, dropping sealed event",
				"event_id", ev.ID, "category", string(ev.Category))
		}
	}
}

func (s *Sink) worker() {
	defer close(s.workerStopped)
	for {
		select {
		case ev := <-s.queue:
			s.deliver(ev)
		case <-s.workerDone:
			for {
				select {
				case ev := <-s.queue:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) deliver(ev datatypes.SecurityEvent) {
	defer s.inflight.Done()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.PutEvent(ctx, ev); err != nil && s.log != nil {
			s.log.Error("persist security event", "error", err, "event_id", ev.ID)
		}
		cancel()
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(ev)
	}
	s.delivered.Add(1)
}

// Flush seals every open slot immediately and blocks until the queued
// events have been delivered. Tests and shutdown use it; the normal
// path relies on slot timers.
func (s *Sink) Flush() {
	s.mu.Lock()
	events := make([]datatypes.SecurityEvent, 0, len(s.pending))
	for key, sl := range s.pending {
		sl.timer.Stop()
		events = append(events, sl.sealed())
		delete(s.pending, key)
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.enqueue(ev)
	}
	s.inflight.Wait()
}

// Close flushes pending slots, stops the worker, and rejects further
// submissions.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Flush()
	close(s.workerDone)
	<-s.workerStopped
}

// Stats snapshots the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Minted:    s.minted.Load(),
		Coalesced: s.coalesced.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// PendingSlots reports how many coalescing slots are currently open.
func (s *Sink) PendingSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
