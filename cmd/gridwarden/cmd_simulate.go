// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/pkg/ux"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// === COMMAND FLAGS ===

var simulateComponent string

// simulateTimeout is wider than the one-shot deadline because scenario
// replay can be paced server-side.
const simulateTimeout = 60 * time.Second

func init() {
	simulateCmd.Flags().StringVar(&simulateComponent, "component", "",
		"registered component to run the scenario against")
}

func runSimulate(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	client := newAPIClient()

	if len(args) == 0 {
		ctx, cancel := requestContext()
		defer cancel()

		var catalog scenarioListResponse
		if err := client.get(ctx, "/v1/simulations/scenarios", &catalog); err != nil {
			OutputError(cfg.JSON, "failed to fetch the scenario catalog", err)
			os.Exit(CLIExitError)
		}
		if cfg.JSON || cfg.Quiet {
			os.Exit(OutputResult(cfg, "simulate", start, catalog, false, nil))
		}

		ux.Title("Attack scenarios")
		rows := make([][]string, 0, len(catalog.Scenarios))
		for _, s := range catalog.Scenarios {
			rows = append(rows, []string{s.Tag, truncate(s.Description, 64)})
		}
		fmt.Println(ux.Table([]string{"SCENARIO", "DESCRIPTION"}, rows, nil))
		ux.Hint("run one with: gridwarden simulate <scenario> --component <name>")
		return
	}

	if simulateComponent == "" {
		OutputError(cfg.JSON, "missing target",
			fmt.Errorf("--component names the registered component to attack"))
		os.Exit(CLIExitError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), simulateTimeout)
	defer cancel()

	var spin *ux.Spinner
	if !cfg.JSON && !cfg.Quiet {
		spin = ux.NewSpinner(fmt.Sprintf("Running scenario %s against %s", args[0], simulateComponent))
		spin.Start()
	}

	req := datatypes.SimulationRequest{Scenario: args[0], Component: simulateComponent}
	var resp datatypes.SimulationResponse
	err := client.post(ctx, "/v1/simulations", req, &resp)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		OutputError(cfg.JSON, "simulation failed", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "simulate", start, resp, false, nil))
	}

	ux.Title(fmt.Sprintf("Scenario %s against %s", resp.Scenario, resp.Component))
	if resp.Truncated {
		ux.Warning("Replay stopped early: the ingest queue filled up")
	}
	if len(resp.Events) == 0 {
		ux.Warning("The scenario completed but the detectors raised no events")
		ux.Hint("a quiet run usually means the baselines are still learning")
		return
	}

	headers := []string{"TIME", "SEVERITY", "CATEGORY", "DETAILS"}
	rows := make([][]string, 0, len(resp.Events))
	for _, e := range resp.Events {
		rows = append(rows, []string{
			e.CreatedAt.Format("15:04:05"),
			string(e.Severity),
			string(e.Category),
			truncate(e.Details, 56),
		})
	}
	fmt.Println(ux.Table(headers, rows, severityCellStyler(1)))
	ux.Success(fmt.Sprintf("Detectors raised %d event(s)", len(resp.Events)))
}
