// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the shared data structures for the sentinel
// service: the domain model (components, readings, events, rollouts) and
// the request/response types of the REST boundary.
//
// Domain records cross package boundaries by value. SecurityEvent and
// PatchStatus are treated as immutable once created; the only sanctioned
// mutation is the UpdatedAt touch on annotation, never a change to
// recorded facts.
package datatypes

import (
	"time"
)

// =============================================================================
// Vocabularies
// =============================================================================

// Severity classifies security events and annotates telemetry readings.
//
// Events at the API boundary use info, warning, and critical. Readings
// additionally use normal, the default tag for telemetry no detector
// flagged.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparisons: normal < info < warning <
// critical. Unknown severities rank below normal so a corrupted value
// can never displace a real one during deduplication.
func (s Severity) Rank() int {
	switch s {
	case SeverityNormal:
		return 1
	case SeverityInfo:
		return 2
	case SeverityWarning:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Max returns the higher-ranked of two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// Category classifies the origin of a security event. The vocabulary is
// extensible; these four are the ones the pipeline itself produces.
type Category string

const (
	CategoryRuleViolation   Category = "rule-violation"
	CategoryDeviation       Category = "deviation"
	CategorySimulatedAttack Category = "simulated-attack"
	CategoryPatchIntegrity  Category = "patch-integrity"

	// CategoryControlAudit records manual operator dispatch commands.
	CategoryControlAudit Category = "control-audit"
)

// Criticality is the operational tier of a component. It scales nothing
// in the detectors themselves; it is operator triage metadata carried on
// events via context.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Valid reports whether c is one of the four known tiers.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
		return true
	}
	return false
}

// =============================================================================
// Components and Telemetry
// =============================================================================

// Component is a registered microgrid asset. Name is the immutable
// identity; FirmwareVersion changes only when a rollout succeeds and
// Criticality only through the administrative endpoint.
type Component struct {
	Name            string      `json:"name"`
	Category        string      `json:"category"`
	FirmwareVersion string      `json:"firmware_version"`
	Address         string      `json:"address"`
	Criticality     Criticality `json:"criticality"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TelemetryReading is one sampled payload from a component.
//
// Payload carries at minimum voltage, frequency, and status; detectors
// read any numeric field they find. Readings are append-only and ordered
// by CreatedAt. Severity is the annotation left by whichever detector
// last classified the reading, "normal" when none did.
type TelemetryReading struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Payload   map[string]any `json:"payload"`
	Severity  Severity       `json:"severity"`
	Synthetic bool           `json:"synthetic,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NumericMetrics extracts the numeric fields of the payload in the form
// detectors consume. JSON decoding delivers numbers as float64; integer
// values stored programmatically are normalized here too.
func (r TelemetryReading) NumericMetrics() map[string]float64 {
	out := make(map[string]float64, len(r.Payload))
	for k, v := range r.Payload {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case float32:
			out[k] = float64(n)
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case uint64:
			out[k] = float64(n)
		}
	}
	return out
}

// Status returns the payload's status field, or "" when absent or not a
// string. Missing status means status rules do not apply.
func (r TelemetryReading) Status() string {
	s, _ := r.Payload["status"].(string)
	return s
}

// =============================================================================
// Findings and Events
// =============================================================================

// Finding is one candidate detection result from a single detector run,
// prior to sink-level deduplication. Findings are ephemeral; only the
// SecurityEvents minted from them persist.
type Finding struct {
	Detector   string
	Component  string
	Category   Category
	Severity   Severity
	Details    string
	Mitigation string
	Context    map[string]any
}

// SecurityEvent is the persisted, distributed record of a detection.
//
// Context keys the pipeline itself writes: "component", "detector",
// "mitigation" (when a response action was taken), "synthetic" and
// "scenario" (simulator output), "truncated" (aborted simulation run).
type SecurityEvent struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Category  Category       `json:"category"`
	Details   string         `json:"details"`
	Actor     string         `json:"actor,omitempty"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// =============================================================================
// Patch Rollouts
// =============================================================================

// PatchState is one state of the rollout machine.
type PatchState string

const (
	PatchPending   PatchState = "pending"
	PatchVerifying PatchState = "verifying"
	PatchApplying  PatchState = "applying"
	PatchSucceeded PatchState = "succeeded"
	PatchRejected  PatchState = "rejected"
	PatchFailed    PatchState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s PatchState) Terminal() bool {
	switch s {
	case PatchSucceeded, PatchRejected, PatchFailed:
		return true
	}
	return false
}

// PatchStatus tracks one requested rollout for a component. Notes is an
// append-only log of orchestrator decisions (checksum at request time,
// verification outcome, apply outcome).
type PatchStatus struct {
	ID            string     `json:"id"`
	Component     string     `json:"component"`
	TargetVersion string     `json:"target_version"`
	State         PatchState `json:"state"`
	RequestedBy   string     `json:"requested_by"`
	Notes         []string   `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so snapshots handed to collaborators cannot
// alias the orchestrator's working record.
func (p PatchStatus) Clone() PatchStatus {
	out := p
	out.Notes = make([]string, len(p.Notes))
	copy(out.Notes, p.Notes)
	return out
}
