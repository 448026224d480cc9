// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical
// identifiers.
//
// Component names, scenario tags, and metric names arrive from the API
// and the CLI and end up in store keys, log lines, and broadcast frames.
// Validating them here prevents key-prefix collisions, log forgery via
// embedded newlines, and path traversal in anything that derives file
// names from identifiers.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// componentPattern matches component names such as "inverter-2" or
// "substation_meter.east". Lowercase alphanumeric start, then
// alphanumerics, dots, underscores, hyphens. Max 64 characters.
var componentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// tagPattern matches scenario tags and event categories: lowercase
// alphanumerics separated by single hyphens ("voltage-spike", "dos").
var tagPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// metricPattern matches payload metric names ("voltage", "failed_logins").
var metricPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// ComponentName validates a microgrid component identifier.
//
// Valid names are 1-64 characters, lowercase alphanumerics plus dots,
// underscores, and hyphens, and do not start with a separator. The name
// becomes part of store key prefixes, so the separator rules keep
// prefix scans unambiguous.
func ComponentName(name string) error {
	if name == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if !componentPattern.MatchString(name) {
		return fmt.Errorf("invalid component name %q (lowercase alphanumerics, dots, underscores, hyphens; max 64 chars)", name)
	}
	return nil
}

// ScenarioTag validates an attack scenario tag like "voltage-spike".
// This rejects the tag format only; whether the tag names a registered
// scenario is the simulator's decision.
func ScenarioTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("scenario tag cannot be empty")
	}
	if len(tag) > 48 {
		return fmt.Errorf("scenario tag too long: %d chars (max 48)", len(tag))
	}
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("invalid scenario tag %q (lowercase alphanumerics separated by hyphens)", tag)
	}
	return nil
}

// MetricName validates a telemetry payload metric name.
func MetricName(name string) error {
	if name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}
	if !metricPattern.MatchString(name) {
		return fmt.Errorf("invalid metric name %q (lowercase, digits, underscores; max 48 chars)", name)
	}
	return nil
}

// SanitizeText strips control characters from free-form operator text
// (notes, dispatch commands, details) and truncates it to maxLen runes.
// Newlines and tabs collapse to single spaces so one field cannot forge
// extra log lines.
func SanitizeText(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r < 0x20 || r == 0x7f:
			// Drop remaining control characters entirely.
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(out)
	if maxLen > 0 && len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return out
}
