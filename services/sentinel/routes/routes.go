// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes binds the sentinel HTTP surface to its handlers and
// applies the role thresholds per route group.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/handlers"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/middleware"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

// Deps carries everything the HTTP surface needs. Ring, Limiter,
// Metrics, and MetricsHandler are optional; a nil value disables the
// corresponding middleware or route rather than failing setup.
type Deps struct {
	Registry  *registry.Registry
	Readings  *ingest.Store
	Pipeline  *ingest.Pipeline
	Events    *store.Store
	Engine    *patch.Engine
	Runner    *simulate.Runner
	Sink      *sink.Sink
	Hub       *notify.Hub
	Deviation *detect.DeviationDetector

	Ring           *middleware.Keyring
	Limiter        *middleware.RateLimiter
	Metrics        *observability.Metrics
	MetricsHandler http.Handler

	Log     *logging.Logger
	Version string
}

// SetupRoutes registers the full route table.
//
// Role thresholds: component administration and rollouts are admin,
// telemetry ingest, simulations, and control dispatch are operator+,
// event summaries are analyst+, and all reads are viewer+. With auth
// disabled every threshold is a no-op.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.RequestMetrics(d.Metrics))

	router.GET("/health", handlers.Health(d.Registry, d.Sink, d.Hub, d.Version))
	if d.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}

	// The stream performs its own key check via query parameter, so it
	// sits outside the authenticated group.
	router.GET("/v1/stream", handlers.Stream(d.Hub, d.Ring, d.Log))

	requireRole := func(min middleware.Role) gin.HandlerFunc {
		if d.Ring == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RequireRole(min)
	}

	v1 := router.Group("/v1")
	if d.Ring != nil {
		v1.Use(middleware.Authenticate(d.Ring))
	}
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware())
	}
	{
		components := v1.Group("/components")
		{
			components.POST("", requireRole(middleware.RoleAdmin),
				handlers.RegisterComponent(d.Registry, d.Log))
			components.GET("", requireRole(middleware.RoleViewer),
				handlers.ListComponents(d.Registry, d.Readings))
			components.PATCH("/:name/criticality", requireRole(middleware.RoleAdmin),
				handlers.SetCriticality(d.Registry, d.Log))
			components.DELETE("/:name", requireRole(middleware.RoleAdmin),
				handlers.RemoveComponent(d.Registry, d.Log))
		}

		v1.POST("/telemetry", requireRole(middleware.RoleOperator),
			handlers.IngestTelemetry(d.Pipeline, d.Metrics, d.Log))
		v1.GET("/telemetry/:component", requireRole(middleware.RoleViewer),
			handlers.RecentTelemetry(d.Registry, d.Readings))

		events := v1.Group("/events")
		{
			events.GET("", requireRole(middleware.RoleViewer),
				handlers.ListEvents(d.Events))
			events.GET("/summary", requireRole(middleware.RoleAnalyst),
				handlers.EventsSummary(d.Events))
		}

		v1.POST("/patches", requireRole(middleware.RoleAdmin),
			handlers.RequestRollout(d.Engine, d.Metrics, d.Log))
		v1.GET("/patches/:component", requireRole(middleware.RoleViewer),
			handlers.PatchHistory(d.Registry, d.Events))

		v1.POST("/simulations", requireRole(middleware.RoleOperator),
			handlers.RunSimulation(d.Runner, d.Sink, d.Events, d.Metrics, d.Log))
		v1.GET("/simulations/scenarios", requireRole(middleware.RoleViewer),
			handlers.ListScenarios())

		v1.POST("/detectors/baseline/reset", requireRole(middleware.RoleAdmin),
			handlers.ResetBaselines(d.Deviation, d.Log))
		v1.POST("/control/dispatch", requireRole(middleware.RoleOperator),
			handlers.DispatchControl(d.Registry, d.Sink, d.Log))
	}
}
