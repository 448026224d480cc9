// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

type fakeStore struct {
	mu      sync.Mutex
	events  []datatypes.SecurityEvent
	block   chan struct{} // non-nil: PutEvent waits until closed
	entered chan struct{} // non-nil: receives once per PutEvent entry
}

func (f *fakeStore) PutEvent(_ context.Context, ev datatypes.SecurityEvent) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) stored() []datatypes.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]datatypes.SecurityEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []datatypes.SecurityEvent
}

func (f *fakeBroadcaster) BroadcastEvent(ev datatypes.SecurityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func ruleFinding(component string, severity datatypes.Severity) datatypes.Finding {
	return datatypes.Finding{
		Detector:   "rules",
		Component:  component,
		Category:   datatypes.CategoryRuleViolation,
		Severity:   severity,
		Details:    "voltage out of band",
		Mitigation: "Component isolated from the dispatch pool pending inspection",
		Context:    map[string]any{"rule": "voltage-out-of-band"},
	}
}

func TestSubmit_MintsEvent(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{}, store, nil, nil)
	defer s.Close()

	id, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityCritical), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s.Flush()
	events := store.stored()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, datatypes.SeverityCritical, ev.Severity)
	assert.Equal(t, datatypes.CategoryRuleViolation, ev.Category)
	assert.Empty(t, ev.Actor, "detector output has no actor")
	assert.Equal(t, "inverter-01", ev.Context["component"])
	assert.Equal(t, "rules", ev.Context["detector"])
	assert.Equal(t, "voltage-out-of-band", ev.Context["rule"])
	assert.Contains(t, ev.Context["mitigation"], "isolated")
	assert.NotContains(t, ev.Context, "occurrences", "single finding carries no count")
}

func TestSubmit_CoalescesWithinWindow(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{}, store, nil, nil)
	defer s.Close()

	first, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)
	second, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityCritical), "")
	require.NoError(t, err)
	assert.Equal(t, first, second, "duplicates merge into the same event")

	s.Flush()
	events := store.stored()
	require.Len(t, events, 1, "one event per (component, category) pair per window")
	assert.Equal(t, datatypes.SeverityCritical, events[0].Severity, "higher severity retained")
	assert.Equal(t, 2, events[0].Context["occurrences"])

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Minted)
	assert.Equal(t, uint64(1), stats.Coalesced)
}

func TestSubmit_LowerSeverityDuplicateKeepsOriginal(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{}, store, nil, nil)
	defer s.Close()

	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityCritical), "")
	require.NoError(t, err)
	_, err = s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)

	s.Flush()
	events := store.stored()
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.SeverityCritical, events[0].Severity)
}

func TestSubmit_DistinctPairsDoNotCoalesce(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{}, store, nil, nil)
	defer s.Close()

	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)
	_, err = s.Submit(ruleFinding("battery-02", datatypes.SeverityWarning), "")
	require.NoError(t, err)

	deviation := ruleFinding("inverter-01", datatypes.SeverityWarning)
	deviation.Category = datatypes.CategoryDeviation
	_, err = s.Submit(deviation, "")
	require.NoError(t, err)

	s.Flush()
	assert.Len(t, store.stored(), 3)
}

func TestSubmit_NewWindowAfterSeal(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{CoalesceWindow: 10 * time.Millisecond}, store, nil, nil)
	defer s.Close()

	first, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(store.stored()) == 1
	}, time.Second, 5*time.Millisecond, "slot timer seals the event")

	second, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "repeated findings in later windows are distinct events")

	s.Flush()
	assert.Len(t, store.stored(), 2)
}

func TestSubmit_QueueExhaustionPropagates(t *testing.T) {
	store := &fakeStore{block: make(chan struct{}), entered: make(chan struct{}, 4)}
	s := New(Config{CoalesceWindow: time.Millisecond, QueueSize: 1}, store, nil, nil)
	defer s.Close()

	// First event seals and parks the worker inside the blocked store.
	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)
	<-store.entered

	// Second event seals into the queue's only slot.
	_, err = s.Submit(ruleFinding("battery-02", datatypes.SeverityWarning), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.PendingSlots() == 0 }, time.Second, time.Millisecond)

	// Queue is saturated: opening a third slot must fail loudly.
	_, err = s.Submit(ruleFinding("meter-main", datatypes.SeverityWarning), "")
	assert.ErrorIs(t, err, ErrQueueFull)

	close(store.block)
}

func TestSubmit_AfterClose(t *testing.T) {
	s := New(Config{}, &fakeStore{}, nil, nil)
	s.Close()

	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDeliver_StoreThenBroadcast(t *testing.T) {
	store := &fakeStore{}
	bcast := &fakeBroadcaster{}
	s := New(Config{}, store, bcast, nil)
	defer s.Close()

	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityCritical), "operator@grid")
	require.NoError(t, err)
	s.Flush()

	require.Len(t, store.stored(), 1)
	require.Equal(t, 1, bcast.count())
	assert.Equal(t, "operator@grid", store.stored()[0].Actor)
}

func TestFlush_Idempotent(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{}, store, nil, nil)
	defer s.Close()

	_, err := s.Submit(ruleFinding("inverter-01", datatypes.SeverityWarning), "")
	require.NoError(t, err)

	s.Flush()
	s.Flush()
	assert.Len(t, store.stored(), 1)
	assert.Equal(t, uint64(1), s.Stats().Delivered)
}
