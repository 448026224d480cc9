// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/pkg/ux"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

func runBaselineReset(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var resp statusEnvelope
	if err := client.post(ctx, "/v1/detectors/baseline/reset", nil, &resp); err != nil {
		OutputError(cfg.JSON, "failed to reset the baselines", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "baseline reset", start, resp, false, nil))
	}
	ux.Success("Baselines reset, detectors are re-learning")
	ux.Hint("statistical detections stay quiet until enough samples accumulate")
}

func runControlDispatch(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	component := args[0]
	command := strings.Join(args[1:], " ")

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	req := datatypes.DispatchRequest{Component: component, Command: command}
	var resp statusEnvelope
	if err := client.post(ctx, "/v1/control/dispatch", req, &resp); err != nil {
		OutputError(cfg.JSON, "failed to dispatch the command", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "control dispatch", start, resp, false, nil))
	}
	ux.Success(fmt.Sprintf("Command recorded for %s as audit event %s", component, resp.EventID))
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var health datatypes.HealthResponse
	if err := client.get(ctx, "/health", &health); err != nil {
		OutputError(cfg.JSON, "sentinel is unreachable", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "status", start, health, false, nil))
	}

	ux.Success(fmt.Sprintf("%s %s is %s, up %s, %d component(s) registered",
		health.Service, health.Version, health.Status, health.Uptime, health.Components))

	if len(health.Subsystems) == 0 {
		return
	}
	names := make([]string, 0, len(health.Subsystems))
	for name := range health.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, health.Subsystems[name]})
	}
	fmt.Println(ux.Table([]string{"SUBSYSTEM", "STATUS"}, rows, nil))
}

func runVersion(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	result := VersionResult{Version: version}

	// Best effort: report the service version too when it answers.
	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()
	var health datatypes.HealthResponse
	if err := client.get(ctx, "/health", &health); err == nil {
		result.Service = health.Service
		result.ServiceVersion = health.Version
		result.Server = client.baseURL
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "version", start, result, false, nil))
	}
	fmt.Printf("gridwarden %s\n", result.Version)
	if result.Service != "" {
		ux.Muted(fmt.Sprintf("%s %s at %s", result.Service, result.ServiceVersion, result.Server))
	}
}
