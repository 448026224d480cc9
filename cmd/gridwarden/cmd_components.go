// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/pkg/ux"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// === COMMAND FLAGS ===

var (
	registerCategory    string
	registerFirmware    string
	registerAddress     string
	registerCriticality string
)

func init() {
	componentsRegisterCmd.Flags().StringVar(&registerCategory, "category", "",
		"component category (inverter, meter, battery, controller, ...)")
	componentsRegisterCmd.Flags().StringVar(&registerFirmware, "firmware", "",
		"installed firmware version")
	componentsRegisterCmd.Flags().StringVar(&registerAddress, "address", "",
		"network address of the component")
	componentsRegisterCmd.Flags().StringVar(&registerCriticality, "criticality", "medium",
		"criticality: low, medium, high, critical")
	componentsRegisterCmd.MarkFlagRequired("category")
	componentsRegisterCmd.MarkFlagRequired("firmware")
	componentsRegisterCmd.MarkFlagRequired("address")
}

func runComponentsRegister(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	name := args[0]

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	req := datatypes.RegisterComponentRequest{
		Name:            name,
		Category:        registerCategory,
		FirmwareVersion: registerFirmware,
		Address:         registerAddress,
		Criticality:     registerCriticality,
	}
	var created datatypes.Component
	if err := client.post(ctx, "/v1/components", req, &created); err != nil {
		OutputError(cfg.JSON, "failed to register the component", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "components register", start, created, false, nil))
	}
	ux.Success(fmt.Sprintf("Registered %s (%s, criticality %s)",
		created.Name, created.Category, created.Criticality))
}

func runComponentsList(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var list componentListResponse
	if err := client.get(ctx, "/v1/components", &list); err != nil {
		OutputError(cfg.JSON, "failed to list components", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "components list", start, list, false, nil))
	}

	if list.Count == 0 {
		ux.Info("No components registered")
		ux.Hint("register one with: gridwarden components register <name> --category ...")
		return
	}

	ux.Title(fmt.Sprintf("Components (%d)", list.Count))
	headers := []string{"NAME", "CATEGORY", "CRITICALITY", "FIRMWARE", "LAST SEEN", "LAST SEVERITY"}
	rows := make([][]string, 0, len(list.Components))
	for _, s := range list.Components {
		lastSeen, lastSeverity := "never", "-"
		if s.LastReading != nil {
			lastSeen = humanAge(s.LastReading.CreatedAt)
			lastSeverity = string(s.LastReading.Severity)
		}
		rows = append(rows, []string{
			s.Component.Name,
			s.Component.Category,
			string(s.Component.Criticality),
			s.Component.FirmwareVersion,
			lastSeen,
			lastSeverity,
		})
	}
	fmt.Println(ux.Table(headers, rows, severityCellStyler(5)))
}

func runComponentsRemove(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	name := args[0]

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var removed statusEnvelope
	if err := client.delete(ctx, "/v1/components/"+url.PathEscape(name), &removed); err != nil {
		OutputError(cfg.JSON, "failed to remove the component", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "components remove", start, removed, false, nil))
	}
	ux.Success(fmt.Sprintf("Removed %s and retired its baselines", removed.Component))
}

func runComponentsCriticality(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	name, level := args[0], args[1]

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	req := datatypes.CriticalityRequest{Criticality: level}
	var updated datatypes.Component
	path := "/v1/components/" + url.PathEscape(name) + "/criticality"
	if err := client.patch(ctx, path, req, &updated); err != nil {
		OutputError(cfg.JSON, "failed to change the criticality", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "components criticality", start, updated, false, nil))
	}
	ux.Success(fmt.Sprintf("Criticality of %s is now %s", updated.Name, updated.Criticality))
}
