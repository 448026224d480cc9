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
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

const (
	defaultSummaryHours = 24
	maxSummaryHours     = 168

	// summaryScanLimit bounds how many events one summary walks. The
	// time index is newest-first so a busy week still summarizes its
	// most recent activity rather than failing.
	summaryScanLimit = 5000
)

// ListEvents queries persisted SecurityEvents newest-first with
// optional severity and category filters.
func ListEvents(events *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q datatypes.EventsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err)
			return
		}
		if err := q.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		q.EnsureDefaults()

		out, err := events.ListEvents(c.Request.Context(), store.EventFilter{
			Severity: datatypes.Severity(q.Severity),
			Category: datatypes.Category(q.Category),
			Limit:    q.Limit,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": out, "count": len(out)})
	}
}

// EventsSummary aggregates recent events by severity and category over
// a trailing window, default 24 hours. Concurrent polls for the same
// window share one store scan.
func EventsSummary(events *store.Store) gin.HandlerFunc {
	var flight singleflight.Group
	return func(c *gin.Context) {
		hours := defaultSummaryHours
		if raw := c.Query("hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxSummaryHours {
				badRequest(c, errInvalidWindow)
				return
			}
			hours = n
		}

		ctx := c.Request.Context()
		result, err, _ := flight.Do(strconv.Itoa(hours), func() (any, error) {
			now := time.Now().UTC()
			out, err := events.ListEvents(ctx, store.EventFilter{
				Since: now.Add(-time.Duration(hours) * time.Hour),
				Limit: summaryScanLimit,
			})
			if err != nil {
				return nil, err
			}

			summary := datatypes.ActivitySummary{
				WindowHours: hours,
				Total:       len(out),
				BySeverity:  make(map[string]int),
				ByCategory:  make(map[string]int),
				GeneratedAt: now,
			}
			for _, ev := range out {
				summary.BySeverity[string(ev.Severity)]++
				summary.ByCategory[string(ev.Category)]++
			}
			return summary, nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result.(datatypes.ActivitySummary))
	}
}
