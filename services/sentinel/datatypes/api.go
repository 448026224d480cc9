// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Request and response types for the sentinel REST boundary. Handlers
// bind JSON into these, call Validate, and hand the validated values to
// the core packages.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gridwarden/gridwarden/pkg/validation"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxPayloadFields caps the number of metrics in one reading. A
	// payload past this bound is classified InvalidPayload by the
	// pipeline, not rejected at the HTTP layer, so the reading is still
	// recorded for the audit trail.
	MaxPayloadFields = 64

	// MaxCommandBytes caps a manual dispatch command.
	MaxCommandBytes = 256

	// MaxPatchPayloadBytes caps the base64-encoded firmware payload
	// accepted on a rollout request.
	MaxPatchPayloadBytes = 4 * 1024 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator for API request types. Custom validators
// are registered once in init.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()

	_ = apiValidate.RegisterValidation("component_name", func(fl validator.FieldLevel) bool {
		return validation.ComponentName(fl.Field().String()) == nil
	})
	_ = apiValidate.RegisterValidation("scenario_tag", func(fl validator.FieldLevel) bool {
		return validation.ScenarioTag(fl.Field().String()) == nil
	})
}

// =============================================================================
// Component Administration
// =============================================================================

// RegisterComponentRequest registers a new microgrid asset.
type RegisterComponentRequest struct {
	Name            string `json:"name" validate:"required,component_name"`
	Category        string `json:"category" validate:"required,max=48"`
	FirmwareVersion string `json:"firmware_version" validate:"required,max=32"`
	Address         string `json:"address" validate:"required,max=64"`
	Criticality     string `json:"criticality" validate:"required,oneof=low medium high critical"`
}

// Validate checks the request against its field tags.
func (r *RegisterComponentRequest) Validate() error {
	return apiValidate.Struct(r)
}

// CriticalityRequest is the administrative criticality change.
type CriticalityRequest struct {
	Criticality string `json:"criticality" validate:"required,oneof=low medium high critical"`
}

// Validate checks the request against its field tags.
func (r *CriticalityRequest) Validate() error {
	return apiValidate.Struct(r)
}

// =============================================================================
// Telemetry
// =============================================================================

// IngestRequest carries one telemetry reading. Timestamp is optional;
// zero means the server assigns the ingestion time. Payload contents are
// deliberately not validated here: a malformed payload must still be
// recorded (severity "normal") per the InvalidPayload contract, so only
// the envelope is checked at the boundary.
type IngestRequest struct {
	Component string         `json:"component" validate:"required,component_name"`
	Payload   map[string]any `json:"payload" validate:"required"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

// Validate checks the request envelope.
func (r *IngestRequest) Validate() error {
	return apiValidate.Struct(r)
}

// IngestResponse reports what one reading produced.
type IngestResponse struct {
	ReadingID string   `json:"reading_id"`
	Severity  Severity `json:"severity"`
	EventIDs  []string `json:"event_ids"`
}

// ComponentSummary is the list-view projection of a component plus its
// most recent reading, if any.
type ComponentSummary struct {
	Component   Component         `json:"component"`
	LastReading *TelemetryReading `json:"last_reading,omitempty"`
}

// =============================================================================
// Events
// =============================================================================

// EventsQuery filters the event listing. Bound from query parameters.
type EventsQuery struct {
	Severity string `form:"severity" validate:"omitempty,oneof=info warning critical"`
	Category string `form:"category" validate:"omitempty,max=48"`
	Limit    int    `form:"limit" validate:"omitempty,gte=1,lte=500"`
}

// Validate checks the query against its field tags.
func (q *EventsQuery) Validate() error {
	return apiValidate.Struct(q)
}

// EnsureDefaults fills the default page size.
func (q *EventsQuery) EnsureDefaults() {
	if q.Limit == 0 {
		q.Limit = 100
	}
}

// ActivitySummary aggregates recent events for the operations view.
type ActivitySummary struct {
	WindowHours int            `json:"window_hours"`
	Total       int            `json:"total"`
	BySeverity  map[string]int `json:"by_severity"`
	ByCategory  map[string]int `json:"by_category"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// =============================================================================
// Rollouts
// =============================================================================

// RolloutRequest asks the orchestrator to roll a firmware patch out to
// one component. Payload and Signature are base64; Checksum is the hex
// SHA-256 of the decoded payload as declared by the requester.
type RolloutRequest struct {
	Component     string `json:"component" validate:"required,component_name"`
	TargetVersion string `json:"target_version" validate:"required,max=32"`
	Payload       string `json:"payload" validate:"required,base64"`
	Checksum      string `json:"checksum" validate:"required,len=64,hexadecimal"`
	Signature     string `json:"signature" validate:"required,base64"`
	RequestedBy   string `json:"requested_by" validate:"omitempty,max=64"`
}

// Validate checks field tags plus the payload size bound, which the tag
// language cannot express for base64 content.
func (r *RolloutRequest) Validate() error {
	if err := apiValidate.Struct(r); err != nil {
		return err
	}
	if len(r.Payload) > MaxPatchPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", MaxPatchPayloadBytes)
	}
	return nil
}

// RolloutResponse returns the created rollout and its state after the
// synchronous verification step.
type RolloutResponse struct {
	Rollout PatchStatus `json:"rollout"`
}

// =============================================================================
// Simulations and Control
// =============================================================================

// SimulationRequest triggers a named attack drill against a component.
type SimulationRequest struct {
	Scenario  string `json:"scenario" validate:"required,scenario_tag"`
	Component string `json:"component" validate:"required,component_name"`
}

// Validate checks the request against its field tags.
func (r *SimulationRequest) Validate() error {
	return apiValidate.Struct(r)
}

// SimulationResponse returns everything a drill produced. Truncated is
// true when the run was cancelled before all scenario steps executed.
type SimulationResponse struct {
	Scenario  string          `json:"scenario"`
	Component string          `json:"component"`
	Truncated bool            `json:"truncated"`
	Events    []SecurityEvent `json:"events"`
}

// DispatchRequest records a manual control command for the audit trail.
// Commands are recorded, never actuated.
type DispatchRequest struct {
	Component string `json:"component" validate:"required,component_name"`
	Command   string `json:"command" validate:"required,max=256"`
}

// Validate checks the request against its field tags.
func (r *DispatchRequest) Validate() error {
	return apiValidate.Struct(r)
}

// =============================================================================
// Health and Errors
// =============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components int               `json:"components"`
	Subsystems map[string]string `json:"subsystems"`
}

// APIError is the uniform error body. Code carries the taxonomy name
// ("invalid_scenario", "rollout_in_progress") so clients can branch
// without parsing prose.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
