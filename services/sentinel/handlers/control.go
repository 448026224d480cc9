// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
)

// ResetBaselines discards every component's statistical baseline. The
// deviation detector re-enters warmup and abstains until it has seen
// enough fresh samples.
func ResetBaselines(dev *detect.DeviationDetector, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dev.Reset()
		log.Info("statistical baselines reset", "actor", actorFrom(c))
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}

// DispatchControl records a manual control command as an info-severity
// audit event. Commands are recorded for the audit trail only, never
// actuated.
func DispatchControl(reg *registry.Registry, snk *sink.Sink, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DispatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		if _, err := reg.Get(req.Component); err != nil {
			respondError(c, err)
			return
		}

		actor := actorFrom(c)
		id, err := snk.Submit(datatypes.Finding{
			Detector:  "control",
			Component: req.Component,
			Category:  datatypes.CategoryControlAudit,
			Severity:  datatypes.SeverityInfo,
			Details:   fmt.Sprintf("manual dispatch recorded: %s", req.Command),
			Context:   map[string]any{"command": req.Command},
		}, actor)
		if err != nil {
			respondError(c, err)
			return
		}

		log.Info("control command recorded",
			"component", req.Component, "actor", actor, "event_id", id)
		c.JSON(http.StatusAccepted, gin.H{"status": "recorded", "event_id": id})
	}
}
