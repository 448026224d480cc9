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

	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/cmd/gridwarden/config"
	"github.com/gridwarden/gridwarden/pkg/ux"
)

// Command definitions. Run functions live in the cmd_*.go file named in
// each trailer comment, alongside that command's flags.
var (
	// Global flags
	serverURL        string
	apiKeyFlag       string
	outputFormat     string
	quietFlag        bool
	personalityLevel string

	rootCmd = &cobra.Command{
		Use:   "gridwarden",
		Short: "Operator console for the sentinel microgrid security service",
		Long: `gridwarden drives a running sentinel instance: component inventory,
telemetry ingestion, security event review, attack simulation, and
signed firmware rollouts.

The service address comes from --server, the GRIDWARDEN_SERVER_URL
environment variable, or ~/.gridwarden/gridwarden.yaml, in that order.

Examples:
  gridwarden components register inverter-7 --category inverter --criticality high
  gridwarden telemetry send inverter-7 voltage=239.8 frequency=50.02
  gridwarden events list --severity critical
  gridwarden simulate fdia --component meter-12
  gridwarden patch deploy inverter-7 firmware.bin --target-version 2.1.0 --wait`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to load the config: %v\n", err)
				os.Exit(CLIExitError)
			}
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			// JSON output implies machine personality so no styling or
			// hints leak into piped streams.
			if wantJSON() {
				ux.SetPersonalityLevel(ux.PersonalityMachine)
			}
		},
	}

	// --- Component Inventory ---

	componentsCmd = &cobra.Command{
		Use:   "components",
		Short: "Manage the component inventory",
	}

	componentsRegisterCmd = &cobra.Command{
		Use:   "register <name>",
		Short: "Register a grid component with sentinel",
		Args:  cobra.ExactArgs(1),
		Run:   runComponentsRegister, // Defined in cmd_components.go
	}

	componentsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered components and their last readings",
		Run:   runComponentsList, // Defined in cmd_components.go
	}

	componentsRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a component and retire its baselines",
		Args:  cobra.ExactArgs(1),
		Run:   runComponentsRemove, // Defined in cmd_components.go
	}

	componentsCriticalityCmd = &cobra.Command{
		Use:   "criticality <name> <low|medium|high|critical>",
		Short: "Change the criticality weighting of a component",
		Args:  cobra.ExactArgs(2),
		Run:   runComponentsCriticality, // Defined in cmd_components.go
	}

	// --- Telemetry ---

	telemetryCmd = &cobra.Command{
		Use:   "telemetry",
		Short: "Send and inspect component telemetry",
	}

	telemetrySendCmd = &cobra.Command{
		Use:   "send <component> <metric>=<value>...",
		Short: "Send a telemetry reading through the detection pipeline",
		Long: `Send a telemetry reading for a registered component. Metrics are
key=value pairs; numeric values feed the statistical detectors, string
values the rule detectors.

Example:
  gridwarden telemetry send inverter-7 voltage=239.8 frequency=50.02 status=nominal`,
		Args: cobra.MinimumNArgs(2),
		Run:  runTelemetrySend, // Defined in cmd_telemetry.go
	}

	telemetryTailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Stream live readings over the sentinel WebSocket",
		Run:   runTelemetryTail, // Defined in cmd_telemetry.go
	}

	telemetryHistoryCmd = &cobra.Command{
		Use:   "history <component>",
		Short: "Show recent readings for a component",
		Args:  cobra.ExactArgs(1),
		Run:   runTelemetryHistory, // Defined in cmd_telemetry.go
	}

	// --- Security Events ---

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Review security events raised by the detectors",
	}

	eventsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent security events",
		Run:   runEventsList, // Defined in cmd_events.go
	}

	eventsWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream security events live over the sentinel WebSocket",
		Run:   runEventsWatch, // Defined in cmd_events.go
	}

	eventsSummaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Summarise event activity by severity and category",
		Run:   runEventsSummary, // Defined in cmd_events.go
	}

	// --- Attack Simulation ---

	simulateCmd = &cobra.Command{
		Use:   "simulate [scenario]",
		Short: "Run an attack scenario against the detection pipeline",
		Long: `Inject a synthetic attack scenario and report which security events
the detectors raised. Run without arguments to list the available
scenarios.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runSimulate, // Defined in cmd_simulate.go
	}

	// --- Firmware Rollout ---

	patchCmd = &cobra.Command{
		Use:   "patch",
		Short: "Manage signed firmware rollouts",
	}

	patchDeployCmd = &cobra.Command{
		Use:   "deploy <component> <firmware-file>",
		Short: "Deploy a signed firmware patch to a component",
		Args:  cobra.ExactArgs(2),
		Run:   runPatchDeploy, // Defined in cmd_patch.go
	}

	patchStatusCmd = &cobra.Command{
		Use:   "status <component>",
		Short: "Show rollout history for a component",
		Args:  cobra.ExactArgs(1),
		Run:   runPatchStatus, // Defined in cmd_patch.go
	}

	patchSignCmd = &cobra.Command{
		Use:   "sign <firmware-file>",
		Short: "Compute the checksum and detached signature for a firmware file",
		Args:  cobra.ExactArgs(1),
		Run:   runPatchSign, // Defined in cmd_patch.go
	}

	patchFetchCmd = &cobra.Command{
		Use:   "fetch gs://<bucket>/<object>",
		Short: "Fetch a firmware artifact from Google Cloud Storage",
		Args:  cobra.ExactArgs(1),
		Run:   runPatchFetch, // Defined in cmd_patch.go
	}

	patchPublishCmd = &cobra.Command{
		Use:   "publish <firmware-file>",
		Short: "Publish a firmware artifact to Google Cloud Storage",
		Args:  cobra.ExactArgs(1),
		Run:   runPatchPublish, // Defined in cmd_patch.go
	}

	// --- Service Administration ---

	baselineCmd = &cobra.Command{
		Use:   "baseline",
		Short: "Manage the statistical detector baselines",
	}

	baselineResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Discard all learned baselines and start re-learning",
		Run:   runBaselineReset, // Defined in cmd_admin.go
	}

	controlCmd = &cobra.Command{
		Use:   "control",
		Short: "Audited control-plane commands",
	}

	controlDispatchCmd = &cobra.Command{
		Use:   "dispatch <component> <command>...",
		Short: "Record a control command against a component",
		Args:  cobra.MinimumNArgs(2),
		Run:   runControlDispatch, // Defined in cmd_admin.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show sentinel health and subsystem status",
		Run:   runStatus, // Defined in cmd_admin.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the gridwarden version",
		Run:   runVersion, // Defined in cmd_admin.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"sentinel base URL (overrides GRIDWARDEN_SERVER_URL and the config file)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "",
		"API key for authenticated endpoints (overrides the config file)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "",
		"output format: table or json (default: table on a terminal, json otherwise)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false,
		"suppress success output, print only errors and findings")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"output personality: full, standard, minimal, machine")

	componentsCmd.AddCommand(componentsRegisterCmd, componentsListCmd,
		componentsRemoveCmd, componentsCriticalityCmd)
	telemetryCmd.AddCommand(telemetrySendCmd, telemetryTailCmd, telemetryHistoryCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsWatchCmd, eventsSummaryCmd)
	patchCmd.AddCommand(patchDeployCmd, patchStatusCmd, patchSignCmd,
		patchFetchCmd, patchPublishCmd)
	baselineCmd.AddCommand(baselineResetCmd)
	controlCmd.AddCommand(controlDispatchCmd)

	rootCmd.AddCommand(componentsCmd, telemetryCmd, eventsCmd, simulateCmd,
		patchCmd, baselineCmd, controlCmd, statusCmd, versionCmd)
}

// wantJSON resolves the effective output format. An explicit flag wins,
// then the config file, then the terminal check: piped output gets JSON
// so downstream tooling never has to parse tables.
func wantJSON() bool {
	// The flag is a per-invocation override and binds literally; the
	// configured "table" preference still degrades to JSON on a pipe.
	switch outputFormat {
	case "json":
		return true
	case "table":
		return false
	}
	if config.Global.Output.Format == "json" {
		return true
	}
	return !ux.IsTerminal()
}
