// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/detect/ruleset"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// apiFixture wires the full service graph against an in-memory store,
// mirroring the production wiring minus auth middleware. Handlers that
// need an authenticated caller are exercised through routes tests.
type apiFixture struct {
	router   *gin.Engine
	reg      *registry.Registry
	records  *store.Store
	readings *ingest.Store
	snk      *sink.Sink
	hub      *notify.Hub
	dev      *detect.DeviationDetector
	engine   *patch.Engine
	signer   *patch.Signer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("GRIDWARDEN_INSECURE_MEMORY", "true")
	log := logging.New(logging.Config{Quiet: true})

	records, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	reg := registry.New(records)
	readings := ingest.NewStore(ingest.StoreConfig{})

	hub := notify.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Stop)

	// A short window keeps event persistence visible to assertions
	// without slowing the suite down.
	snk := sink.New(sink.Config{CoalesceWindow: 40 * time.Millisecond}, records, hub, log)
	t.Cleanup(snk.Close)

	ruleDet, err := detect.NewRuleDetector(ruleset.DefaultRules)
	require.NoError(t, err)
	dev := detect.NewDeviationDetector(detect.DeviationConfig{})

	pipeline := ingest.NewPipeline(reg, readings, []detect.Detector{ruleDet, dev}, snk, nil, hub, log)
	runner := simulate.NewRunner(reg, pipeline, snk, log)

	signer, err := patch.GenerateSigner(nil)
	require.NoError(t, err)
	engine := patch.New(patch.Config{
		TrustedKeys: []ed25519.PublicKey{signer.PublicKey()},
		ApplyFault:  func() bool { return false },
	}, reg, records, snk, hub, log)
	t.Cleanup(engine.Close)

	reg.OnRemove(func(name string) {
		readings.RemoveComponent(name)
		dev.RemoveComponent(name)
		engine.RemoveComponent(name)
		_, _ = records.PurgeComponent(context.Background(), name)
	})

	fx := &apiFixture{
		reg:      reg,
		records:  records,
		readings: readings,
		snk:      snk,
		hub:      hub,
		dev:      dev,
		engine:   engine,
		signer:   signer,
	}

	router := gin.New()
	router.GET("/health", Health(reg, snk, hub, "test"))
	router.POST("/v1/components", RegisterComponent(reg, log))
	router.GET("/v1/components", ListComponents(reg, readings))
	router.PATCH("/v1/components/:name/criticality", SetCriticality(reg, log))
	router.DELETE("/v1/components/:name", RemoveComponent(reg, log))
	router.POST("/v1/telemetry", IngestTelemetry(pipeline, nil, log))
	router.GET("/v1/telemetry/:component", RecentTelemetry(reg, readings))
	router.GET("/v1/events", ListEvents(records))
	router.GET("/v1/events/summary", EventsSummary(records))
	router.POST("/v1/patches", RequestRollout(engine, nil, log))
	router.GET("/v1/patches/:component", PatchHistory(reg, records))
	router.POST("/v1/simulations", RunSimulation(runner, snk, records, nil, log))
	router.GET("/v1/simulations/scenarios", ListScenarios())
	router.POST("/v1/detectors/baseline/reset", ResetBaselines(dev, log))
	router.POST("/v1/control/dispatch", DispatchControl(reg, snk, log))
	fx.router = router
	return fx
}

// do runs one request through the fixture router. A nil body sends no
// payload; anything else is JSON-encoded.
func (fx *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, fx.router, method, path, body)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// register seeds a component directly through the registry.
func (fx *apiFixture) register(t *testing.T, name string) {
	t.Helper()
	_, err := fx.reg.Register(context.Background(), datatypes.Component{
		Name:            name,
		Category:        "inverter",
		FirmwareVersion: "1.0.0",
		Address:         "10.0.0.7",
		Criticality:     datatypes.CriticalityHigh,
	})
	require.NoError(t, err)
}

// waitEvents flushes the sink and waits until at least n events are
// visible in the store.
func (fx *apiFixture) waitEvents(t *testing.T, n int) []datatypes.SecurityEvent {
	t.Helper()
	fx.snk.Flush()
	var out []datatypes.SecurityEvent
	require.Eventually(t, func() bool {
		evs, err := fx.records.ListEvents(context.Background(), store.EventFilter{Limit: 500})
		if err != nil {
			return false
		}
		out = evs
		return len(evs) >= n
	}, 3*time.Second, 10*time.Millisecond, "expected %d events in store", n)
	return out
}

// rollout builds a correctly signed request against the fixture's
// trusted key.
func (fx *apiFixture) rollout(t *testing.T, component, target string) datatypes.RolloutRequest {
	t.Helper()
	payload := []byte("firmware image " + target)
	sum := sha256.Sum256(payload)
	sig, err := fx.signer.Sign(payload)
	require.NoError(t, err)

	return datatypes.RolloutRequest{
		Component:     component,
		TargetVersion: target,
		Payload:       base64.StdEncoding.EncodeToString(payload),
		Checksum:      hex.EncodeToString(sum[:]),
		Signature:     base64.StdEncoding.EncodeToString(sig),
	}
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	w := fx.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[datatypes.HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sentinel", resp.Service)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 1, resp.Components)
	assert.Contains(t, resp.Subsystems, "event_sink")
	assert.Contains(t, resp.Subsystems, "stream")
}

// =============================================================================
// Error Taxonomy
// =============================================================================

func TestErrorCodes(t *testing.T) {
	fx := newAPIFixture(t)
	fx.register(t, "inverter-7")

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantTag  string
	}{
		{
			"unknown component on ingest",
			http.MethodPost, "/v1/telemetry",
			datatypes.IngestRequest{Component: "ghost-1", Payload: map[string]any{"voltage": 230.0}},
			http.StatusNotFound, "unknown_component",
		},
		{
			"unknown scenario",
			http.MethodPost, "/v1/simulations",
			map[string]any{"scenario": "flux-capacitor", "component": "inverter-7"},
			http.StatusBadRequest, "invalid_scenario",
		},
		{
			"malformed body",
			http.MethodPost, "/v1/components",
			nil,
			http.StatusBadRequest, "invalid_request",
		},
		{
			"unknown component on dispatch",
			http.MethodPost, "/v1/control/dispatch",
			datatypes.DispatchRequest{Component: "ghost-1", Command: "open breaker 4"},
			http.StatusNotFound, "unknown_component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fx.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, w.Code, "body: %s", w.Body.String())
			resp := decodeJSON[datatypes.APIError](t, w)
			assert.Equal(t, tt.wantTag, resp.Code)
		})
	}
}
