// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityNormal.Rank(), SeverityInfo.Rank())
	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank(), "unknown severities rank lowest")
}

func TestSeverity_Max(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityWarning.Max(SeverityCritical))
	assert.Equal(t, SeverityCritical, SeverityCritical.Max(SeverityWarning))
	assert.Equal(t, SeverityWarning, SeverityWarning.Max(SeverityWarning))
	assert.Equal(t, SeverityInfo, SeverityInfo.Max(Severity("bogus")))
}

func TestPatchState_Terminal(t *testing.T) {
	terminal := []PatchState{PatchSucceeded, PatchRejected, PatchFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "state %s", s)
	}
	live := []PatchState{PatchPending, PatchVerifying, PatchApplying}
	for _, s := range live {
		assert.False(t, s.Terminal(), "state %s", s)
	}
}

func TestTelemetryReading_NumericMetrics(t *testing.T) {
	r := TelemetryReading{Payload: map[string]any{
		"voltage":       230.5,
		"frequency":     float32(60.0),
		"failed_logins": 3,
		"status":        "online",
		"tags":          []string{"a"},
	}}

	metrics := r.NumericMetrics()
	require.Len(t, metrics, 3)
	assert.InDelta(t, 230.5, metrics["voltage"], 1e-9)
	assert.InDelta(t, 60.0, metrics["frequency"], 1e-6)
	assert.InDelta(t, 3, metrics["failed_logins"], 1e-9)
	assert.NotContains(t, metrics, "status")
}

func TestTelemetryReading_Status(t *testing.T) {
	assert.Equal(t, "offline", TelemetryReading{Payload: map[string]any{"status": "offline"}}.Status())
	assert.Equal(t, "", TelemetryReading{Payload: map[string]any{"status": 7}}.Status())
	assert.Equal(t, "", TelemetryReading{Payload: map[string]any{}}.Status())
}

func TestPatchStatus_Clone(t *testing.T) {
	orig := PatchStatus{ID: "r1", Notes: []string{"Checksum abc"}}
	clone := orig.Clone()
	clone.Notes[0] = "mutated"
	clone.Notes = append(clone.Notes, "extra")

	assert.Equal(t, []string{"Checksum abc"}, orig.Notes, "clone must not alias the original notes")
}

func TestRegisterComponentRequest_Validate(t *testing.T) {
	valid := RegisterComponentRequest{
		Name:            "inverter-2",
		Category:        "inverter",
		FirmwareVersion: "1.4.2",
		Address:         "10.30.0.12",
		Criticality:     "high",
	}
	require.NoError(t, valid.Validate())

	t.Run("bad name", func(t *testing.T) {
		r := valid
		r.Name = "Inverter 2"
		assert.Error(t, r.Validate())
	})
	t.Run("bad criticality", func(t *testing.T) {
		r := valid
		r.Criticality = "urgent"
		assert.Error(t, r.Validate())
	})
	t.Run("missing firmware", func(t *testing.T) {
		r := valid
		r.FirmwareVersion = ""
		assert.Error(t, r.Validate())
	})
}

func TestIngestRequest_Validate(t *testing.T) {
	r := IngestRequest{
		Component: "battery-1",
		Payload:   map[string]any{"voltage": 231.0},
	}
	assert.NoError(t, r.Validate())

	r.Component = ""
	assert.Error(t, r.Validate())

	// Junk payload contents pass envelope validation on purpose; the
	// pipeline classifies them InvalidPayload and still stores them.
	junk := IngestRequest{Component: "battery-1", Payload: map[string]any{"": nil}}
	assert.NoError(t, junk.Validate())
}

func TestRolloutRequest_Validate(t *testing.T) {
	valid := RolloutRequest{
		Component:     "inverter-2",
		TargetVersion: "2.0.0",
		Payload:       "cGF5bG9hZA==",
		Checksum:      strings.Repeat("ab", 32),
		Signature:     "c2lnbmF0dXJl",
	}
	require.NoError(t, valid.Validate())

	t.Run("checksum not hex", func(t *testing.T) {
		r := valid
		r.Checksum = strings.Repeat("zz", 32)
		assert.Error(t, r.Validate())
	})
	t.Run("checksum wrong length", func(t *testing.T) {
		r := valid
		r.Checksum = "abcd"
		assert.Error(t, r.Validate())
	})
	t.Run("payload not base64", func(t *testing.T) {
		r := valid
		r.Payload = "not base64!!!"
		assert.Error(t, r.Validate())
	})
}

func TestSimulationRequest_Validate(t *testing.T) {
	assert.NoError(t, (&SimulationRequest{Scenario: "voltage-spike", Component: "inverter-2"}).Validate())
	assert.Error(t, (&SimulationRequest{Scenario: "Voltage Spike", Component: "inverter-2"}).Validate())
	assert.Error(t, (&SimulationRequest{Scenario: "dos", Component: ""}).Validate())
}

func TestEventsQuery_Defaults(t *testing.T) {
	q := EventsQuery{}
	require.NoError(t, q.Validate())
	q.EnsureDefaults()
	assert.Equal(t, 100, q.Limit)

	q = EventsQuery{Severity: "catastrophic"}
	assert.Error(t, q.Validate())
}
