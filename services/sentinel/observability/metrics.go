// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the sentinel service's pre-registered instruments.
// All use the "sentinel_" prefix. Safe for concurrent use.
type Metrics struct {
	// --- HTTP ---

	// HTTPRequestsTotal counts requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Detection pipeline ---

	// ReadingsIngested counts accepted telemetry readings by component.
	ReadingsIngested metric.Int64Counter

	// ReadingsRejected counts readings refused at validation.
	ReadingsRejected metric.Int64Counter

	// FindingsTotal counts detector findings submitted to the event sink.
	FindingsTotal metric.Int64Counter

	// --- Drills and rollouts ---

	// SimulationsTotal counts attack drills by scenario.
	SimulationsTotal metric.Int64Counter

	// RolloutsTotal counts firmware rollout requests by terminal state.
	RolloutsTotal metric.Int64Counter

	// --- Gauges, registered via the Register* helpers ---

	// PendingEventSlots tracks open coalescing windows in the sink.
	PendingEventSlots metric.Int64ObservableGauge

	// StreamSubscribers tracks live WebSocket subscribers.
	StreamSubscribers metric.Int64ObservableGauge

	// TrackedComponents tracks registry size.
	TrackedComponents metric.Int64ObservableGauge
}

// NewMetrics registers every sentinel instrument with the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"sentinel_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"sentinel_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.ReadingsIngested, err = meter.Int64Counter(
		"sentinel_readings_ingested_total",
		metric.WithDescription("Telemetry readings accepted into the pipeline"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create readings_ingested_total: %w", err)
	}

	m.ReadingsRejected, err = meter.Int64Counter(
		"sentinel_readings_rejected_total",
		metric.WithDescription("Telemetry readings refused at validation"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create readings_rejected_total: %w", err)
	}

	m.FindingsTotal, err = meter.Int64Counter(
		"sentinel_findings_total",
		metric.WithDescription("Detector findings by detector and category"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create findings_total: %w", err)
	}

	m.SimulationsTotal, err = meter.Int64Counter(
		"sentinel_simulations_total",
		metric.WithDescription("Attack drills run by scenario"),
		metric.WithUnit("{drill}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create simulations_total: %w", err)
	}

	m.RolloutsTotal, err = meter.Int64Counter(
		"sentinel_rollouts_total",
		metric.WithDescription("Firmware rollouts by terminal state"),
		metric.WithUnit("{rollout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rollouts_total: %w", err)
	}

	return m, nil
}

// RegisterPendingEventSlots wires the sink's open-window count into a
// gauge. The callback runs at each scrape.
func (m *Metrics) RegisterPendingEventSlots(meter metric.Meter, pending func() int64) (metric.Registration, error) {
	var err error
	m.PendingEventSlots, err = meter.Int64ObservableGauge(
		"sentinel_pending_event_slots",
		metric.WithDescription("Open event coalescing windows"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pending_event_slots: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.PendingEventSlots, pending())
		return nil
	}, m.PendingEventSlots)
}

// RegisterStreamSubscribers wires the notify hub's subscriber count
// into a gauge.
func (m *Metrics) RegisterStreamSubscribers(meter metric.Meter, count func() int64) (metric.Registration, error) {
	var err error
	m.StreamSubscribers, err = meter.Int64ObservableGauge(
		"sentinel_stream_subscribers",
		metric.WithDescription("Live WebSocket stream subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stream_subscribers: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.StreamSubscribers, count())
		return nil
	}, m.StreamSubscribers)
}

// RegisterTrackedComponents wires the registry's size into a gauge.
func (m *Metrics) RegisterTrackedComponents(meter metric.Meter, count func() int64) (metric.Registration, error) {
	var err error
	m.TrackedComponents, err = meter.Int64ObservableGauge(
		"sentinel_tracked_components",
		metric.WithDescription("Components in the fleet registry"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tracked_components: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.TrackedComponents, count())
		return nil
	}, m.TrackedComponents)
}
