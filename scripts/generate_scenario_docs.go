// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// generate_scenario_docs generates a markdown reference for the built-in
// attack scenario catalog.
//
// Usage:
//
//	go run scripts/generate_scenario_docs.go > docs/scenario_reference.md
//
// The generated documentation includes:
//   - Full scenario inventory with replay step tables
//   - Mitigation guidance per scenario
//   - A metric index mapping telemetry keys to the drills that replay them
//   - Summary statistics
package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
)

func main() {
	generateMarkdown(simulate.Catalog())
}

// generateMarkdown outputs the full markdown documentation.
func generateMarkdown(scenarios []simulate.Scenario) {
	fmt.Println("# Attack Scenario Reference")
	fmt.Println()
	fmt.Println("## Overview")
	fmt.Println()
	fmt.Println("This document describes every attack drill built into the sentinel simulator.")
	fmt.Println("The catalog is defined in `services/sentinel/simulate` and replayed against a")
	fmt.Println("registered component with `gridwarden simulate <tag>` or `POST /v1/simulations`.")
	fmt.Println()
	fmt.Printf("**Generated:** %s\n", time.Now().Format("2006-01-02 15:04:05 UTC"))
	fmt.Println()

	// Statistics
	totalSteps := 0
	longest := 0
	metricSet := make(map[string]struct{})
	for _, sc := range scenarios {
		totalSteps += len(sc.Steps)
		if len(sc.Steps) > longest {
			longest = len(sc.Steps)
		}
		for _, step := range sc.Steps {
			for key := range step {
				metricSet[key] = struct{}{}
			}
		}
	}

	fmt.Println("## Summary Statistics")
	fmt.Println()
	fmt.Println("| Metric | Count |")
	fmt.Println("|--------|-------|")
	fmt.Printf("| Total Scenarios | %d |\n", len(scenarios))
	fmt.Printf("| Total Replay Steps | %d |\n", totalSteps)
	fmt.Printf("| Longest Drill (steps) | %d |\n", longest)
	fmt.Printf("| Distinct Telemetry Metrics | %d |\n", len(metricSet))
	fmt.Println()

	// Table of contents
	fmt.Println("## Table of Contents")
	fmt.Println()
	for i, sc := range scenarios {
		fmt.Printf("%d. [%s](#%s)\n", i+1, sc.Tag, strings.ToLower(sc.Tag))
	}
	fmt.Println()

	// Quick reference table (all scenarios)
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Quick Reference")
	fmt.Println()
	fmt.Println("| Scenario | Steps | Metrics | Description |")
	fmt.Println("|----------|-------|---------|-------------|")

	for _, sc := range scenarios {
		fmt.Printf("| `%s` | %d | %s | %s |\n",
			sc.Tag,
			len(sc.Steps),
			strings.Join(scenarioMetrics(sc), ", "),
			sc.Description,
		)
	}
	fmt.Println()

	// Detailed sections per scenario
	fmt.Println("---")
	fmt.Println()
	for _, sc := range scenarios {
		printScenarioDetails(sc)
	}

	// Metric index
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Metric Index")
	fmt.Println()
	fmt.Println("This index maps telemetry metrics to the scenarios that replay them. Use this")
	fmt.Println("to understand which drills exercise which detector inputs.")
	fmt.Println()

	metricIndex := buildMetricIndex(scenarios)
	metrics := make([]string, 0, len(metricIndex))
	for m := range metricIndex {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	fmt.Println("| Metric | Replayed By |")
	fmt.Println("|--------|-------------|")
	for _, m := range metrics {
		fmt.Printf("| `%s` | %s |\n", m, strings.Join(metricIndex[m], ", "))
	}
	fmt.Println()

	// Footer
	fmt.Println("---")
	fmt.Println()
	fmt.Println("*This document is auto-generated from the catalog in `services/sentinel/simulate`.*")
	fmt.Println()
	fmt.Println("*To regenerate: `go run scripts/generate_scenario_docs.go > docs/scenario_reference.md`*")
}

// printScenarioDetails prints detailed information for a single scenario.
func printScenarioDetails(sc simulate.Scenario) {
	fmt.Printf("## %s\n", sc.Tag)
	fmt.Println()
	fmt.Println(sc.Description + ".")
	fmt.Println()
	fmt.Printf("**Mitigation:** %s.\n", sc.Mitigation)
	fmt.Println()

	// Replay table, one column per metric in sorted order.
	metrics := scenarioMetrics(sc)

	fmt.Printf("| Step | %s |\n", strings.Join(metrics, " | "))
	fmt.Print("|------|")
	for range metrics {
		fmt.Print("------|")
	}
	fmt.Println()

	for i, step := range sc.Steps {
		cells := make([]string, 0, len(metrics))
		for _, m := range metrics {
			val, ok := step[m]
			if !ok {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, formatValue(val))
		}
		fmt.Printf("| %d | %s |\n", i+1, strings.Join(cells, " | "))
	}
	fmt.Println()
}

// scenarioMetrics returns the sorted set of metric keys a scenario touches.
func scenarioMetrics(sc simulate.Scenario) []string {
	set := make(map[string]struct{})
	for _, step := range sc.Steps {
		for key := range step {
			set[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// buildMetricIndex creates a map of metric key -> scenario tags.
func buildMetricIndex(scenarios []simulate.Scenario) map[string][]string {
	index := make(map[string][]string)
	for _, sc := range scenarios {
		for _, m := range scenarioMetrics(sc) {
			index[m] = append(index[m], "`"+sc.Tag+"`")
		}
	}
	return index
}

// formatValue renders a payload value the way the wire encodes it.
func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
