// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package detect classifies telemetry readings.
//
// Two detectors ship with the service. The rule detector is a pure
// function of a reading and a static rule set; the deviation detector
// keeps per-component rolling baselines and flags statistical outliers.
// Both produce candidate Findings; minting findings into persisted
// SecurityEvents, including deduplication, belongs to the sink.
package detect

import (
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// Detector classifies a single reading into zero or more findings.
//
// Evaluate must be safe for concurrent calls with readings from
// different components. An empty result means the reading looked
// normal to this detector, never that evaluation failed.
type Detector interface {
	Name() string
	Evaluate(reading datatypes.TelemetryReading) []datatypes.Finding
}
