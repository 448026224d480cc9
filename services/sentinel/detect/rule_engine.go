// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// RuleDetectorName identifies rule findings in event context.
const RuleDetectorName = "rules"

// RuleDetector evaluates readings against a priority-ordered rule set.
//
// The active rule set is swapped atomically, so Evaluate never observes
// a partially loaded file and Reload is safe while readings stream in.
// Evaluate keeps no per-call state; it is a pure function of the reading
// and the snapshot it loads.
type RuleDetector struct {
	rules atomic.Pointer[RuleFile]
}

// NewRuleDetector builds a detector from a rule YAML document. Callers
// pass ruleset.DefaultRules or the bytes of a deployment's own file.
func NewRuleDetector(data []byte) (*RuleDetector, error) {
	d := &RuleDetector{}
	if err := d.Reload(data); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload parses data and swaps it in as the active rule set. On any
// parse or validation error the previous rules stay active.
func (d *RuleDetector) Reload(data []byte) error {
	file, err := ParseRules(data)
	if err != nil {
		return err
	}
	d.rules.Store(file)
	return nil
}

// RuleCount reports the size of the active rule set.
func (d *RuleDetector) RuleCount() int {
	file := d.rules.Load()
	if file == nil {
		return 0
	}
	return len(file.Rules)
}

func (d *RuleDetector) Name() string {
	return RuleDetectorName
}

// Evaluate applies every rule to the reading. Rules whose metric is
// absent from the payload do not apply; a reading with no recognizable
// fields yields zero findings.
func (d *RuleDetector) Evaluate(reading datatypes.TelemetryReading) []datatypes.Finding {
	file := d.rules.Load()
	if file == nil {
		return nil
	}

	metrics := reading.NumericMetrics()
	var findings []datatypes.Finding
	for i := range file.Rules {
		rule := &file.Rules[i]

		var observed string
		fired := false
		switch rule.Check {
		case CheckOutside:
			if v, ok := metrics[rule.Metric]; ok && (v < rule.Min || v > rule.Max) {
				fired = true
				observed = formatMetric(v)
			}
		case CheckAbove:
			if v, ok := metrics[rule.Metric]; ok && v > rule.Value {
				fired = true
				observed = formatMetric(v)
			}
		case CheckBelow:
			if v, ok := metrics[rule.Metric]; ok && v < rule.Value {
				fired = true
				observed = formatMetric(v)
			}
		case CheckEquals:
			if s, ok := reading.Payload[rule.Metric].(string); ok && s == rule.Match {
				fired = true
				observed = s
			}
		}
		if !fired {
			continue
		}

		findings = append(findings, datatypes.Finding{
			Detector:   RuleDetectorName,
			Component:  reading.Component,
			Category:   rule.Category,
			Severity:   rule.Severity,
			Details:    fmt.Sprintf("%s: observed %s", rule.Description, observed),
			Mitigation: rule.Mitigation,
			Context: map[string]any{
				"rule":     rule.ID,
				"metric":   rule.Metric,
				"observed": observed,
			},
		})
	}
	return findings
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
