// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the sentinel REST and WebSocket surface.
//
// Handlers are factory functions closing over exactly the collaborators
// they need. Request bodies bind into the datatypes API structs, get
// validated there, and the validated values flow into the core
// packages; domain errors map onto HTTP statuses in one place so every
// endpoint speaks the same error taxonomy.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/middleware"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

// localActor names the caller when authentication is disabled.
const localActor = "local-operator"

var (
	errInvalidLimit  = errors.New("limit must be a positive integer within range")
	errInvalidWindow = errors.New("hours must be an integer between 1 and 168")
)

// respondError maps domain errors onto the HTTP error taxonomy. Codes
// are stable strings clients can branch on without parsing prose.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownComponent):
		c.JSON(http.StatusNotFound, datatypes.APIError{Error: err.Error(), Code: "unknown_component"})
	case errors.Is(err, registry.ErrDuplicateComponent):
		c.JSON(http.StatusConflict, datatypes.APIError{Error: err.Error(), Code: "duplicate_component"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, datatypes.APIError{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, patch.ErrRolloutInProgress):
		c.JSON(http.StatusConflict, datatypes.APIError{Error: err.Error(), Code: "rollout_in_progress"})
	case errors.Is(err, patch.ErrUnknownRollout):
		c.JSON(http.StatusNotFound, datatypes.APIError{Error: err.Error(), Code: "unknown_rollout"})
	case errors.Is(err, simulate.ErrInvalidScenario):
		c.JSON(http.StatusBadRequest, datatypes.APIError{Error: err.Error(), Code: "invalid_scenario"})
	case errors.Is(err, sink.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, datatypes.APIError{Error: err.Error(), Code: "queue_full"})
	default:
		c.JSON(http.StatusInternalServerError, datatypes.APIError{Error: "internal error", Code: "internal"})
	}
}

// badRequest reports a malformed or invalid request body.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.APIError{Error: err.Error(), Code: "invalid_request"})
}

// actorFrom names the authenticated caller for audit fields, falling
// back to the local placeholder when auth is disabled.
func actorFrom(c *gin.Context) string {
	if id := middleware.GetIdentity(c); id != nil {
		return "key:" + id.KeyID
	}
	return localActor
}
