// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// ingestViolation pushes one out-of-band voltage reading and waits for
// its event to land in the store.
func ingestViolation(t *testing.T, fx *apiFixture, component string) {
	t.Helper()
	w := fx.do(t, http.MethodPost, "/v1/telemetry", datatypes.IngestRequest{
		Component: component,
		Payload:   map[string]any{"voltage": 300.0, "frequency": 60.0, "status": "nominal"},
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
}

func TestListEvents(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")
	fx.register(t, "meter-1")

	ingestViolation(t, fx, "inverter-7")
	ingestViolation(t, fx, "meter-1")
	fx.waitEvents(t, 2)

	w := fx.do(t, http.MethodGet, "/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	resp := decodeJSON[struct {
		Events []datatypes.SecurityEvent `json:"events"`
		Count  int                       `json:"count"`
	}](t, w)

	require.GreaterOrEqual(t, resp.Count, 2)
	components := map[string]bool{}
	for _, ev := range resp.Events {
		if name, ok := ev.Context["component"].(string); ok {
			components[name] = true
		}
		assert.Equal(t, datatypes.CategoryRuleViolation, ev.Category)
	}
	assert.True(t, components["inverter-7"])
	assert.True(t, components["meter-1"])
}

func TestListEvents_SeverityFilter(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	ingestViolation(t, fx, "inverter-7")
	fx.waitEvents(t, 1)

	w := fx.do(t, http.MethodGet, "/v1/events?severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[struct {
		Events []datatypes.SecurityEvent `json:"events"`
		Count  int                       `json:"count"`
	}](t, w)
	require.GreaterOrEqual(t, resp.Count, 1)
	for _, ev := range resp.Events {
		assert.Equal(t, datatypes.SeverityCritical, ev.Severity)
	}

	// No warning events exist yet.
	w = fx.do(t, http.MethodGet, "/v1/events?severity=warning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeJSON[struct {
		Events []datatypes.SecurityEvent `json:"events"`
		Count  int                       `json:"count"`
	}](t, w)
	assert.Zero(t, resp.Count)
}

func TestListEvents_CategoryFilter(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	ingestViolation(t, fx, "inverter-7")
	fx.waitEvents(t, 1)

	w := fx.do(t, http.MethodGet, "/v1/events?category=rule-violation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[struct {
		Events []datatypes.SecurityEvent `json:"events"`
		Count  int                       `json:"count"`
	}](t, w)
	assert.GreaterOrEqual(t, resp.Count, 1)

	w = fx.do(t, http.MethodGet, "/v1/events?category=patch-integrity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeJSON[struct {
		Events []datatypes.SecurityEvent `json:"events"`
		Count  int                       `json:"count"`
	}](t, w)
	assert.Zero(t, resp.Count)
}

func TestListEvents_InvalidQuery(t *testing.T) {
	fx := newAPIFixture(t)

	for _, q := range []string{"severity=catastrophic", "limit=0", "limit=501"} {
		t.Run(q, func(t *testing.T) {
			w := fx.do(t, http.MethodGet, "/v1/events?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestEventsSummary(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")
	fx.register(t, "meter-1")

	ingestViolation(t, fx, "inverter-7")
	ingestViolation(t, fx, "meter-1")
	fx.waitEvents(t, 2)

	w := fx.do(t, http.MethodGet, "/v1/events/summary?hours=24", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	sum := decodeJSON[datatypes.ActivitySummary](t, w)
	assert.Equal(t, 24, sum.WindowHours)
	assert.GreaterOrEqual(t, sum.Total, 2)
	assert.GreaterOrEqual(t, sum.BySeverity[string(datatypes.SeverityCritical)], 2)
	assert.GreaterOrEqual(t, sum.ByCategory[string(datatypes.CategoryRuleViolation)], 2)
	assert.False(t, sum.GeneratedAt.IsZero())
}

func TestEventsSummary_DefaultWindow(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodGet, "/v1/events/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decodeJSON[datatypes.ActivitySummary](t, w)
	assert.Equal(t, 24, sum.WindowHours)
	assert.Zero(t, sum.Total)
}

func TestEventsSummary_BadWindow(t *testing.T) {
	fx := newAPIFixture(t)

	for _, q := range []string{"hours=0", "hours=169", "hours=abc"} {
		t.Run(q, func(t *testing.T) {
			w := fx.do(t, http.MethodGet, "/v1/events/summary?"+q, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
