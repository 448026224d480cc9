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

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

const defaultHistoryLimit = 20

// RequestRollout asks the patch engine to roll a signed firmware image
// out to one component.
//
// Verification runs synchronously, so the response already reflects a
// rejected signature or checksum: a rejected rollout is a recorded
// outcome, returned 200 with state "rejected" rather than an HTTP
// error. Accepted rollouts return 201 and progress asynchronously.
func RequestRollout(engine *patch.Engine, m *observability.Metrics, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RolloutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		if req.RequestedBy == "" {
			req.RequestedBy = actorFrom(c)
		}

		status, err := engine.Request(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}

		if m != nil {
			m.RolloutsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(
				attribute.String("component", status.Component),
				attribute.String("state", string(status.State)),
			))
		}
		log.Info("rollout requested",
			"rollout_id", status.ID, "component", status.Component,
			"target_version", status.TargetVersion, "state", status.State,
			"requested_by", status.RequestedBy)

		code := http.StatusCreated
		if status.State == datatypes.PatchRejected {
			code = http.StatusOK
		}
		c.JSON(code, datatypes.RolloutResponse{Rollout: status})
	}
}

// PatchHistory lists a component's rollouts, newest first.
func PatchHistory(reg *registry.Registry, records *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("component")
		if _, err := reg.Get(name); err != nil {
			respondError(c, err)
			return
		}

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxRecentLimit {
				badRequest(c, errInvalidLimit)
				return
			}
			limit = n
		}

		rollouts, err := records.ListPatches(c.Request.Context(), name, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"component": name, "rollouts": rollouts, "count": len(rollouts)})
	}
}
