// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

const (
	// collectBudget bounds how long the response waits for the sink's
	// worker to persist drill events before returning what it found.
	collectBudget = 2 * time.Second
	collectPoll   = 10 * time.Millisecond
)

// RunSimulation replays a named attack scenario against one component
// and returns the SecurityEvents the drill produced.
//
// The replay runs under the request context, so a client disconnect
// aborts the drill between steps; events generated before the abort
// stay persisted and the response marks the run truncated. Drill
// findings coalesce in the sink like real ones, so the handler flushes
// pending slots before resolving event IDs against the store.
func RunSimulation(runner *simulate.Runner, snk *sink.Sink, records *store.Store, m *observability.Metrics, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SimulationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}

		res, err := runner.Run(c.Request.Context(), req.Scenario, req.Component, actorFrom(c))
		if err != nil {
			respondError(c, err)
			return
		}

		snk.Flush()
		events := collectEvents(c.Request.Context(), records, res.EventIDs)
		if len(events) < len(res.EventIDs) {
			log.Warn("drill events still in flight at response time",
				"scenario", req.Scenario, "resolved", len(events), "expected", len(res.EventIDs))
		}

		if m != nil {
			m.SimulationsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(
				attribute.String("scenario", req.Scenario),
				attribute.Bool("truncated", res.Truncated),
			))
		}

		c.JSON(http.StatusOK, datatypes.SimulationResponse{
			Scenario:  res.Scenario,
			Component: res.Component,
			Truncated: res.Truncated,
			Events:    events,
		})
	}
}

// ListScenarios returns the drill catalog.
func ListScenarios() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"scenarios": simulate.Catalog()})
	}
}

// collectEvents resolves event IDs against the store, tolerating the
// sink's asynchronous delivery by polling inside a fixed budget. IDs
// that never appear are dropped rather than failing the drill.
func collectEvents(ctx context.Context, records *store.Store, ids []string) []datatypes.SecurityEvent {
	deadline := time.Now().Add(collectBudget)
	out := make([]datatypes.SecurityEvent, 0, len(ids))
	for _, id := range ids {
		for {
			ev, err := records.GetEvent(ctx, id)
			if err == nil {
				out = append(out, ev)
				break
			}
			if !errors.Is(err, store.ErrNotFound) || time.Now().After(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				return out
			case <-time.After(collectPoll):
			}
		}
	}
	return out
}
