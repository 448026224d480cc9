// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
)

// RegisterComponent admits a new microgrid asset into the fleet.
func RegisterComponent(reg *registry.Registry, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterComponentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}

		created, err := reg.Register(c.Request.Context(), datatypes.Component{
			Name:            req.Name,
			Category:        req.Category,
			FirmwareVersion: req.FirmwareVersion,
			Address:         req.Address,
			Criticality:     datatypes.Criticality(req.Criticality),
		})
		if err != nil {
			respondError(c, err)
			return
		}

		log.Info("component registered",
			"component", created.Name, "category", created.Category,
			"criticality", created.Criticality, "actor", actorFrom(c))
		c.JSON(http.StatusCreated, created)
	}
}

// ListComponents returns every registered component with its most
// recent reading, when one exists.
func ListComponents(reg *registry.Registry, readings *ingest.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := reg.List()
		summaries := make([]datatypes.ComponentSummary, 0, len(components))
		for _, comp := range components {
			summary := datatypes.ComponentSummary{Component: comp}
			if recent := readings.Recent(comp.Name, 1); len(recent) > 0 {
				summary.LastReading = &recent[0]
			}
			summaries = append(summaries, summary)
		}
		c.JSON(http.StatusOK, gin.H{"components": summaries, "count": len(summaries)})
	}
}

// SetCriticality changes a component's criticality tier.
func SetCriticality(reg *registry.Registry, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		var req datatypes.CriticalityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}

		updated, err := reg.SetCriticality(c.Request.Context(), name, datatypes.Criticality(req.Criticality))
		if err != nil {
			respondError(c, err)
			return
		}

		log.Info("component criticality changed",
			"component", name, "criticality", updated.Criticality, "actor", actorFrom(c))
		c.JSON(http.StatusOK, updated)
	}
}

// RemoveComponent deregisters an asset. The registry's removal hooks
// cascade the delete through readings, detector baselines, open
// rollouts, and persisted records.
func RemoveComponent(reg *registry.Registry, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		if err := reg.Remove(c.Request.Context(), name); err != nil {
			respondError(c, err)
			return
		}

		log.Info("component removed", "component", name, "actor", actorFrom(c))
		c.JSON(http.StatusOK, gin.H{"status": "removed", "component": name})
	}
}
