// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package simulate runs attack drills against registered components.
//
// A drill replays a fixed, scenario-specific sequence of synthetic
// readings through the same ingestion path real telemetry takes. The
// simulator never touches the detectors directly; if a drill stops
// tripping detection, that is a finding about the detectors, not
// something to paper over here.
package simulate

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidScenario is returned for tags not in the catalog, before
// any synthetic data is generated or recorded.
var ErrInvalidScenario = errors.New("unknown attack scenario")

// Scenario is one attack drill: a tag, operator-facing descriptions,
// and the deterministic payload sequence it replays.
type Scenario struct {
	Tag         string           `json:"tag"`
	Description string           `json:"description"`
	Mitigation  string           `json:"mitigation"`
	Steps       []map[string]any `json:"-"`
}

// catalog holds the built-in drills keyed by tag.
//
// Payload values are chosen so each drill reliably trips its target
// detector on a freshly registered component: spikes land far outside
// the rule bounds, the drift ramp stays inside them but scores z >> 3
// against the baseline its own early steps establish.
var catalog = map[string]Scenario{
	"voltage-spike": {
		Tag:         "voltage-spike",
		Description: "Injected overvoltage burst far outside the safe operating band",
		Mitigation:  "Component isolated from the dispatch pool pending inspection",
		Steps: []map[string]any{
			{"voltage": 612.0, "frequency": 60.0, "status": "online"},
			{"voltage": 736.0, "frequency": 60.1, "status": "online"},
			{"voltage": 689.0, "frequency": 59.9, "status": "online"},
		},
	},
	"slow-drift": {
		Tag:         "slow-drift",
		Description: "Gradual setpoint drift inside rule bounds, visible only statistically",
		Mitigation:  "Setpoint re-anchored from the control plane reference",
		Steps: []map[string]any{
			// Establish a tight baseline, then ramp. Every ramp value
			// is legal per the rule file; the deviation detector is
			// the one that must notice.
			{"voltage": 229.8, "frequency": 60.0, "status": "online"},
			{"voltage": 230.2, "frequency": 60.0, "status": "online"},
			{"voltage": 229.8, "frequency": 60.0, "status": "online"},
			{"voltage": 230.2, "frequency": 60.0, "status": "online"},
			{"voltage": 229.8, "frequency": 60.0, "status": "online"},
			{"voltage": 230.2, "frequency": 60.0, "status": "online"},
			{"voltage": 229.8, "frequency": 60.0, "status": "online"},
			{"voltage": 230.2, "frequency": 60.0, "status": "online"},
			{"voltage": 232.4, "frequency": 60.0, "status": "online"},
			{"voltage": 235.1, "frequency": 60.0, "status": "online"},
			{"voltage": 238.9, "frequency": 60.0, "status": "online"},
			{"voltage": 243.6, "frequency": 60.0, "status": "online"},
		},
	},
	"dos": {
		Tag:         "dos",
		Description: "Authentication flood saturating the component management interface",
		Mitigation:  "Rate limiting applied to component ingress",
		Steps: []map[string]any{
			{"voltage": 230.0, "failed_logins": 8, "status": "online"},
			{"voltage": 230.0, "failed_logins": 21, "status": "online"},
			{"voltage": 230.0, "failed_logins": 55, "status": "online"},
			{"voltage": 230.0, "failed_logins": 144, "status": "online"},
			{"voltage": 230.0, "failed_logins": 377, "status": "online"},
			{"voltage": 230.0, "failed_logins": 987, "status": "online"},
		},
	},
	"spoof": {
		Tag:         "spoof",
		Description: "Forged telemetry with status flapping and impossible frequency jumps",
		Mitigation:  "Ingress signature pinning scheduled",
		Steps: []map[string]any{
			{"voltage": 230.0, "frequency": 60.0, "status": "online"},
			{"voltage": 230.0, "frequency": 63.8, "status": "offline"},
			{"voltage": 230.0, "frequency": 55.9, "status": "online"},
			{"voltage": 230.0, "frequency": 64.2, "status": "offline"},
		},
	},
	"malware": {
		Tag:         "malware",
		Description: "Compromised firmware profile: offline status with an abnormal metric mix",
		Mitigation:  "Component quarantined from dispatch pool",
		Steps: []map[string]any{
			{"voltage": 184.0, "frequency": 57.2, "status": "offline", "failed_logins": 14},
			{"voltage": 176.5, "frequency": 56.8, "status": "offline", "failed_logins": 31},
		},
	},
}

// Catalog lists the built-in scenarios sorted by tag.
func Catalog() []Scenario {
	out := make([]Scenario, 0, len(catalog))
	for _, sc := range catalog {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Lookup resolves a scenario tag.
func Lookup(tag string) (Scenario, error) {
	sc, ok := catalog[tag]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrInvalidScenario, tag)
	}
	return sc, nil
}
