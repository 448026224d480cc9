// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

func TestDispatchControl(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	w := fx.do(t, http.MethodPost, "/v1/control/dispatch", datatypes.DispatchRequest{
		Component: "inverter-7",
		Command:   "open breaker 4",
	})

	require.Equal(t, http.StatusAccepted, w.Code, "body: %s", w.Body.String())
	resp := decodeJSON[struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"`
	}](t, w)
	assert.Equal(t, "recorded", resp.Status)
	require.NotEmpty(t, resp.EventID)

	events := fx.waitEvents(t, 1)
	found := false
	for _, ev := range events {
		if ev.ID != resp.EventID {
			continue
		}
		found = true
		assert.Equal(t, datatypes.CategoryControlAudit, ev.Category)
		assert.Equal(t, datatypes.SeverityInfo, ev.Severity)
		assert.Equal(t, "local-operator", ev.Actor)
		assert.Equal(t, "inverter-7", ev.Context["component"])
		assert.Equal(t, "open breaker 4", ev.Context["command"])
		assert.Contains(t, ev.Details, "open breaker 4")
	}
	assert.True(t, found, "audit event %s not persisted", resp.EventID)
}

func TestDispatchControl_UnknownComponent(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(t, http.MethodPost, "/v1/control/dispatch", datatypes.DispatchRequest{
		Component: "ghost-1",
		Command:   "open breaker 4",
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeJSON[datatypes.APIError](t, w)
	assert.Equal(t, "unknown_component", resp.Code)
}

func TestDispatchControl_CommandTooLong(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	w := fx.do(t, http.MethodPost, "/v1/control/dispatch", datatypes.DispatchRequest{
		Component: "inverter-7",
		Command:   strings.Repeat("x", 257),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetBaselines(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	w := fx.do(t, http.MethodPost, "/v1/telemetry", datatypes.IngestRequest{
		Component: "inverter-7",
		Payload:   map[string]any{"voltage": 230.0, "frequency": 60.0, "status": "nominal"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, 1, fx.dev.TrackedComponents())

	w = fx.do(t, http.MethodPost, "/v1/detectors/baseline/reset", nil)

	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	resp := decodeJSON[struct {
		Status string `json:"status"`
	}](t, w)
	assert.Equal(t, "reset", resp.Status)
	assert.Zero(t, fx.dev.TrackedComponents())
}
