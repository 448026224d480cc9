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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
)

// Health reports liveness plus a coarse view of the moving parts.
// Unauthenticated so orchestration probes can reach it.
func Health(reg *registry.Registry, snk *sink.Sink, hub *notify.Hub, version string) gin.HandlerFunc {
	start := time.Now()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:     "ok",
			Service:    "sentinel",
			Version:    version,
			Uptime:     time.Since(start).Round(time.Second).String(),
			Components: len(reg.List()),
			Subsystems: map[string]string{
				"event_sink": fmt.Sprintf("%d pending", snk.PendingSlots()),
				"stream":     fmt.Sprintf("%d subscribers", hub.ClientCount()),
			},
		})
	}
}
