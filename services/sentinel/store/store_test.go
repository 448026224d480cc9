// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testEvent(id, component string, category datatypes.Category, severity datatypes.Severity, createdAt time.Time) datatypes.SecurityEvent {
	return datatypes.SecurityEvent{
		ID:       id,
		Severity: severity,
		Category: category,
		Details:  "voltage-out-of-band: observed 300",
		Context: map[string]any{
			"component": component,
			"detector":  "rules",
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestComponents_CRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	comp := datatypes.Component{
		Name:            "inverter-7",
		Category:        "inverter",
		FirmwareVersion: "1.0.0",
		Criticality:     datatypes.CriticalityHigh,
		CreatedAt:       time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutComponent(ctx, comp))

	got, err := s.GetComponent(ctx, "inverter-7")
	require.NoError(t, err)
	assert.Equal(t, comp, got)

	// Overwrite wins.
	comp.FirmwareVersion = "1.1.0"
	require.NoError(t, s.PutComponent(ctx, comp))
	got, err = s.GetComponent(ctx, "inverter-7")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.FirmwareVersion)

	require.NoError(t, s.DeleteComponent(ctx, "inverter-7"))
	_, err = s.GetComponent(ctx, "inverter-7")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListComponents_SortedByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"meter-3", "inverter-7", "battery-1"} {
		require.NoError(t, s.PutComponent(ctx, datatypes.Component{
			Name:        name,
			Criticality: datatypes.CriticalityLow,
		}))
	}

	list, err := s.ListComponents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "battery-1", list[0].Name)
	assert.Equal(t, "inverter-7", list[1].Name)
	assert.Equal(t, "meter-3", list[2].Name)
}

func TestEvents_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 5, 1, 12, 0, 0, 123456789, time.UTC)
	event := testEvent("evt-1", "inverter-7", datatypes.CategoryRuleViolation, datatypes.SeverityCritical, created)
	event.Context["z_score"] = 4.25
	require.NoError(t, s.PutEvent(ctx, event))

	got, err := s.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Severity, got.Severity)
	assert.Equal(t, event.Category, got.Category)
	assert.Equal(t, "inverter-7", got.Context["component"])
	assert.Equal(t, 4.25, got.Context["z_score"])
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = s.GetEvent(ctx, "evt-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListEvents_NewestFirstWithFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	seed := []datatypes.SecurityEvent{
		testEvent("evt-1", "inverter-7", datatypes.CategoryRuleViolation, datatypes.SeverityCritical, base),
		testEvent("evt-2", "meter-3", datatypes.CategoryDeviation, datatypes.SeverityWarning, base.Add(time.Minute)),
		testEvent("evt-3", "inverter-7", datatypes.CategoryDeviation, datatypes.SeverityWarning, base.Add(2*time.Minute)),
		testEvent("evt-4", "inverter-7", datatypes.CategoryRuleViolation, datatypes.SeverityWarning, base.Add(3*time.Minute)),
	}
	for _, e := range seed {
		require.NoError(t, s.PutEvent(ctx, e))
	}

	ids := func(events []datatypes.SecurityEvent) []string {
		out := make([]string, len(events))
		for i, e := range events {
			out[i] = e.ID
		}
		return out
	}

	all, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-4", "evt-3", "evt-2", "evt-1"}, ids(all))

	byComponent, err := s.ListEvents(ctx, EventFilter{Component: "inverter-7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-4", "evt-3", "evt-1"}, ids(byComponent))

	byCategory, err := s.ListEvents(ctx, EventFilter{Category: datatypes.CategoryDeviation})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-3", "evt-2"}, ids(byCategory))

	bySeverity, err := s.ListEvents(ctx, EventFilter{Severity: datatypes.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1"}, ids(bySeverity))

	since, err := s.ListEvents(ctx, EventFilter{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-4", "evt-3"}, ids(since))

	limited, err := s.ListEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-4", "evt-3"}, ids(limited))
}

func TestPatches_OverwriteAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	first := datatypes.PatchStatus{
		ID:            "r-1",
		Component:     "inverter-7",
		TargetVersion: "1.1.0",
		State:         datatypes.PatchPending,
		Notes:         []string{"rollout requested"},
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	require.NoError(t, s.PutPatch(ctx, first))

	// Each state change overwrites the same record.
	first.State = datatypes.PatchSucceeded
	first.Notes = append(first.Notes, "firmware updated to 1.1.0")
	first.UpdatedAt = base.Add(time.Second)
	require.NoError(t, s.PutPatch(ctx, first))

	got, err := s.GetPatch(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.PatchSucceeded, got.State)
	assert.Len(t, got.Notes, 2)

	second := datatypes.PatchStatus{
		ID:        "r-2",
		Component: "meter-3",
		State:     datatypes.PatchApplying,
		CreatedAt: base.Add(time.Minute),
		UpdatedAt: base.Add(time.Minute),
	}
	require.NoError(t, s.PutPatch(ctx, second))

	all, err := s.ListPatches(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r-2", all[0].ID, "newest first")

	scoped, err := s.ListPatches(ctx, "inverter-7", 0)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "r-1", scoped[0].ID)

	open, err := s.OpenPatches(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r-2", open[0].ID, "only non-terminal rollouts need recovery")
}

func TestPurgeComponent_CascadesEventsAndPatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutEvent(ctx, testEvent("evt-1", "inverter-7", datatypes.CategoryRuleViolation, datatypes.SeverityCritical, base)))
	require.NoError(t, s.PutEvent(ctx, testEvent("evt-2", "meter-3", datatypes.CategoryDeviation, datatypes.SeverityWarning, base.Add(time.Minute))))
	require.NoError(t, s.PutPatch(ctx, datatypes.PatchStatus{
		ID: "r-1", Component: "inverter-7", State: datatypes.PatchSucceeded, CreatedAt: base,
	}))
	require.NoError(t, s.PutPatch(ctx, datatypes.PatchStatus{
		ID: "r-2", Component: "meter-3", State: datatypes.PatchSucceeded, CreatedAt: base,
	}))

	// Two keys per event (body plus index), one per patch.
	removed, err := s.PurgeComponent(ctx, "inverter-7")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = s.GetEvent(ctx, "evt-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPatch(ctx, "r-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Unrelated records survive, and the purged event is gone from
	// listings too.
	survivors, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	assert.Equal(t, "evt-2", survivors[0].ID)
	_, err = s.GetPatch(ctx, "r-2")
	require.NoError(t, err)
}

func TestPersistentStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.PutComponent(ctx, datatypes.Component{
		Name:        "inverter-7",
		Criticality: datatypes.CriticalityHigh,
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	got, err := reopened.GetComponent(ctx, "inverter-7")
	require.NoError(t, err)
	assert.Equal(t, "inverter-7", got.Name)
}

func TestWithTxn_ContextCancelled(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.PutComponent(ctx, datatypes.Component{Name: "inverter-7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
