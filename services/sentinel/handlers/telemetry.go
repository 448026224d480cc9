// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// IngestTelemetry accepts one reading and runs it through the
// detection pipeline. The response reports the stored reading id, the
// severity the detectors settled on, and the SecurityEvents created.
func IngestTelemetry(pipeline *ingest.Pipeline, m *observability.Metrics, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			countRejected(c, m)
			badRequest(c, err)
			return
		}

		res, err := pipeline.Ingest(c.Request.Context(), req.Component, req.Payload, req.Timestamp)
		if err != nil {
			countRejected(c, m)
			respondError(c, err)
			return
		}

		if m != nil {
			attrs := metric.WithAttributes(attribute.String("component", req.Component))
			ctx := c.Request.Context()
			m.ReadingsIngested.Add(ctx, 1, attrs)
			if res.Findings > 0 {
				m.FindingsTotal.Add(ctx, int64(res.Findings), attrs)
			}
		}

		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(attribute.String("telemetry.severity", string(res.Reading.Severity)))
		if len(res.EventIDs) > 0 {
			span.AddEvent("detections_raised", trace.WithAttributes(
				attribute.String("component", req.Component),
				attribute.Int("findings", res.Findings),
			))
			log.Info("telemetry produced findings",
				"component", req.Component, "reading_id", res.Reading.ID,
				"severity", res.Reading.Severity, "events", len(res.EventIDs))
		}

		c.JSON(http.StatusCreated, datatypes.IngestResponse{
			ReadingID: res.Reading.ID,
			Severity:  res.Reading.Severity,
			EventIDs:  res.EventIDs,
		})
	}
}

// RecentTelemetry lists a component's recent readings, newest first.
func RecentTelemetry(reg *registry.Registry, readings *ingest.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("component")
		if _, err := reg.Get(name); err != nil {
			respondError(c, err)
			return
		}

		limit := defaultRecentLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxRecentLimit {
				badRequest(c, errInvalidLimit)
				return
			}
			limit = n
		}

		rs := readings.Recent(name, limit)
		c.JSON(http.StatusOK, gin.H{"component": name, "readings": rs, "count": len(rs)})
	}
}

func countRejected(c *gin.Context, m *observability.Metrics) {
	if m != nil {
		m.ReadingsRejected.Add(c.Request.Context(), 1)
	}
}
