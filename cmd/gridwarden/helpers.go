// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gridwarden/gridwarden/pkg/ux"
)

// humanAge renders a timestamp as a short relative age for table cells.
func humanAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < 0:
		return t.Format(time.RFC3339)
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

// truncate shortens a string for table cells, keeping a trailing
// ellipsis when anything was cut.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatPayload renders a telemetry payload as sorted key=value pairs.
func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(parts, " ")
}

// severityCellStyler styles one table column with the severity palette.
func severityCellStyler(col int) ux.CellStyler {
	return func(row, c int, value string) *lipgloss.Style {
		if c != col {
			return nil
		}
		style := ux.SeverityStyle(value)
		return &style
	}
}

// stateCellStyler styles one table column with the rollout state palette.
func stateCellStyler(col int) ux.CellStyler {
	return func(row, c int, value string) *lipgloss.Style {
		if c != col {
			return nil
		}
		style := ux.StateStyle(value)
		return &style
	}
}
