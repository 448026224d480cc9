// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/detect/ruleset"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events []datatypes.SecurityEvent
}

func (f *fakeEventStore) PutEvent(_ context.Context, ev datatypes.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventStore) stored() []datatypes.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]datatypes.SecurityEvent, len(f.events))
	copy(out, f.events)
	return out
}

type drillFixture struct {
	runner    *Runner
	events    *sink.Sink
	store     *fakeEventStore
	telemetry *ingest.Store
}

func newDrillFixture(t *testing.T) *drillFixture {
	t.Helper()

	reg := registry.New(nil)
	_, err := reg.Register(context.Background(), datatypes.Component{
		Name:        "inverter-01",
		Category:    "inverter",
		Criticality: datatypes.CriticalityHigh,
	})
	require.NoError(t, err)

	rules, err := detect.NewRuleDetector(ruleset.DefaultRules)
	require.NoError(t, err)
	deviation := detect.NewDeviationDetector(detect.DeviationConfig{})

	store := &fakeEventStore{}
	events := sink.New(sink.Config{}, store, nil, nil)
	t.Cleanup(events.Close)

	telemetry := ingest.NewStore(ingest.StoreConfig{BufferSize: 64})
	log := logging.New(logging.Config{Quiet: true})
	pipeline := ingest.NewPipeline(reg, telemetry, []detect.Detector{rules, deviation}, events, nil, nil, log)

	return &drillFixture{
		runner:    NewRunner(reg, pipeline, events, log),
		events:    events,
		store:     store,
		telemetry: telemetry,
	}
}

func TestRun_UnknownScenario(t *testing.T) {
	fx := newDrillFixture(t)

	_, err := fx.runner.Run(context.Background(), "zero-day", "inverter-01", "analyst@grid")
	assert.ErrorIs(t, err, ErrInvalidScenario)

	fx.events.Flush()
	assert.Empty(t, fx.store.stored(), "no side effects for unknown tags")
	assert.Zero(t, fx.telemetry.TotalAppended())
}

func TestRun_UnknownComponent(t *testing.T) {
	fx := newDrillFixture(t)

	_, err := fx.runner.Run(context.Background(), "voltage-spike", "ghost", "analyst@grid")
	assert.ErrorIs(t, err, registry.ErrUnknownComponent)

	fx.events.Flush()
	assert.Empty(t, fx.store.stored())
}

func TestRun_VoltageSpike(t *testing.T) {
	fx := newDrillFixture(t)

	res, err := fx.runner.Run(context.Background(), "voltage-spike", "inverter-01", "operator@grid")
	require.NoError(t, err)

	assert.False(t, res.Truncated)
	assert.Equal(t, 3, res.Steps)
	require.NotEmpty(t, res.EventIDs)

	fx.events.Flush()
	events := fx.store.stored()
	require.NotEmpty(t, events)

	var attack *datatypes.SecurityEvent
	for i := range events {
		if events[i].Category == datatypes.CategorySimulatedAttack {
			attack = &events[i]
			break
		}
	}
	require.NotNil(t, attack, "drill must mint a simulated-attack event")
	assert.Equal(t, datatypes.SeverityCritical, attack.Severity, "rule severity outranks the summary")
	assert.Equal(t, true, attack.Context["synthetic"])
	assert.Equal(t, "voltage-spike", attack.Context["scenario"])
	assert.Equal(t, false, attack.Context["truncated"])
	assert.Equal(t, "operator@grid", attack.Actor)
	assert.Contains(t, attack.Context["mitigation"], "isolated")

	// Synthetic readings are stored and flagged like real telemetry.
	recent := fx.telemetry.Recent("inverter-01", 0)
	require.Len(t, recent, 3)
	for _, r := range recent {
		assert.True(t, r.Synthetic)
	}
}

func TestRun_SlowDriftTripsDeviationDetector(t *testing.T) {
	fx := newDrillFixture(t)

	res, err := fx.runner.Run(context.Background(), "slow-drift", "inverter-01", "analyst@grid")
	require.NoError(t, err)
	require.NotEmpty(t, res.EventIDs)

	fx.events.Flush()
	events := fx.store.stored()
	require.Len(t, events, 1, "drill findings and summary coalesce")

	ev := events[0]
	assert.Equal(t, datatypes.CategorySimulatedAttack, ev.Category)
	assert.Equal(t, string(datatypes.CategoryDeviation), ev.Context["original_category"],
		"the ramp must be caught statistically, not by rule bounds")
	assert.Equal(t, datatypes.SeverityCritical, ev.Severity)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	fx := newDrillFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := fx.runner.Run(ctx, "voltage-spike", "inverter-01", "operator@grid")
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Zero(t, res.Steps)
	require.Len(t, res.EventIDs, 1, "summary event only")

	fx.events.Flush()
	events := fx.store.stored()
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.SeverityInfo, events[0].Severity)
	assert.Equal(t, true, events[0].Context["truncated"])
}

type cancellingIngestor struct {
	inner  Ingestor
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancellingIngestor) IngestSynthetic(ctx context.Context, component string, payload map[string]any, scenario, actor string) (ingest.Result, error) {
	out, err := c.inner.IngestSynthetic(ctx, component, payload, scenario, actor)
	c.calls++
	if c.calls == c.after {
		c.cancel()
	}
	return out, err
}

func TestRun_CancelledMidRun(t *testing.T) {
	fx := newDrillFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.runner.pipeline = &cancellingIngestor{inner: fx.runner.pipeline, cancel: cancel, after: 2}

	res, err := fx.runner.Run(ctx, "dos", "inverter-01", "operator@grid")
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Steps, "steps before the abort stay recorded")

	fx.events.Flush()
	events := fx.store.stored()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, datatypes.CategorySimulatedAttack, ev.Category)
	assert.Equal(t, true, ev.Context["truncated"], "partial runs are marked")
	assert.Equal(t, datatypes.SeverityWarning, ev.Severity, "login-burst findings persisted before the abort")
}

func TestCatalog(t *testing.T) {
	scenarios := Catalog()
	require.Len(t, scenarios, 5)

	var tags []string
	for _, sc := range scenarios {
		tags = append(tags, sc.Tag)
		assert.NotEmpty(t, sc.Description, sc.Tag)
		assert.NotEmpty(t, sc.Mitigation, sc.Tag)
		assert.NotEmpty(t, sc.Steps, sc.Tag)
	}
	assert.Equal(t, []string{"dos", "malware", "slow-drift", "spoof", "voltage-spike"}, tags)

	_, err := Lookup("voltage-spike")
	assert.NoError(t, err)
	_, err = Lookup("")
	assert.ErrorIs(t, err, ErrInvalidScenario)
}
