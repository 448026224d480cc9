// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestDefaultConfig(t *testing.T) {
	// Blank the overrides so the test sees the fallbacks regardless of
	// the host environment.
	t.Setenv("GRIDWARDEN_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()

	assert.Equal(t, "sentinel", cfg.ServiceName)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GRIDWARDEN_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "otlp")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector.grid.internal:4317")

	cfg := DefaultConfig()

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "none", cfg.MetricExporter)
	assert.Equal(t, "collector.grid.internal:4317", cfg.OTLPEndpoint)
}

func TestInit_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	require.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporters(t *testing.T) {
	t.Run("trace", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "graphite"
		cfg.MetricExporter = "none"

		_, err := Init(context.Background(), cfg)
		require.ErrorIs(t, err, ErrUnknownExporter)
		assert.Contains(t, err.Error(), "graphite")
	})

	t.Run("metric", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "statsd"

		_, err := Init(context.Background(), cfg)
		require.ErrorIs(t, err, ErrUnknownExporter)
		assert.Contains(t, err.Error(), "statsd")
	})
}

func TestInit_StdoutTraces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()
	assert.True(t, span.SpanContext().IsValid())
}

// TestInit_PrometheusScrape is the only test that installs the
// prometheus exporter. The exporter registers with the process-wide
// default registry, so a second Init would collide at scrape time.
func TestInit_PrometheusScrape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	meter := otel.Meter("scrape_test")
	m, err := NewMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.ReadingsIngested.Add(ctx, 3, metric.WithAttributes(attribute.String("component", "inverter-7")))
	m.FindingsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("detector", "threshold"),
		attribute.String("category", "physical-anomaly"),
	))
	m.HTTPRequestDuration.Record(ctx, 0.042)

	_, err = m.RegisterTrackedComponents(meter, func() int64 { return 12 })
	require.NoError(t, err)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "sentinel_readings_ingested_total")
	assert.Contains(t, out, `component="inverter-7"`)
	assert.Contains(t, out, "sentinel_findings_total")
	assert.Contains(t, out, "sentinel_http_request_duration_seconds")
	assert.Contains(t, out, "sentinel_tracked_components")
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	m, err := NewMetrics(meter)
	require.NoError(t, err)

	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.ReadingsIngested)
	assert.NotNil(t, m.ReadingsRejected)
	assert.NotNil(t, m.FindingsTotal)
	assert.NotNil(t, m.SimulationsTotal)
	assert.NotNil(t, m.RolloutsTotal)

	_, err = m.RegisterPendingEventSlots(meter, func() int64 { return 0 })
	assert.NoError(t, err)
	_, err = m.RegisterStreamSubscribers(meter, func() int64 { return 0 })
	assert.NoError(t, err)
	_, err = m.RegisterTrackedComponents(meter, func() int64 { return 0 })
	assert.NoError(t, err)
}

func TestMetricsHandler_NilWithoutPrometheus(t *testing.T) {
	prometheusHandlerMu.Lock()
	saved := prometheusHandler
	prometheusHandler = nil
	prometheusHandlerMu.Unlock()

	t.Cleanup(func() {
		prometheusHandlerMu.Lock()
		prometheusHandler = saved
		prometheusHandlerMu.Unlock()
	})

	assert.Nil(t, MetricsHandler())
}

func TestGetEnvOr(t *testing.T) {
	t.Run("fallback when unset", func(t *testing.T) {
		assert.Equal(t, "fallback", getEnvOr("SENTINEL_TEST_UNSET_VAR", "fallback"))
	})

	t.Run("value when set", func(t *testing.T) {
		t.Setenv("SENTINEL_TEST_VAR", "custom")
		assert.Equal(t, "custom", getEnvOr("SENTINEL_TEST_VAR", "fallback"))
	})
}
