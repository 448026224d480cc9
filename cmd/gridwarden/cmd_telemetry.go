// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/pkg/ux"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
)

// === COMMAND FLAGS ===

var (
	tailComponent string
	historyLimit  int
)

func init() {
	telemetryTailCmd.Flags().StringVar(&tailComponent, "component", "",
		"only show readings from this component")
	telemetryHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20,
		"maximum readings to return")
}

// parsePayloadArgs turns key=value arguments into a telemetry payload.
// Values parse as float64 when numeric and bool for true/false, so the
// statistical detectors see numbers rather than strings.
func parsePayloadArgs(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("metric %q is not in key=value form", arg)
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			payload[key] = f
			continue
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			payload[key] = b
			continue
		}
		payload[key] = raw
	}
	return payload, nil
}

func runTelemetrySend(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	component := args[0]

	payload, err := parsePayloadArgs(args[1:])
	if err != nil {
		OutputError(cfg.JSON, "invalid metric argument", err)
		os.Exit(CLIExitError)
	}

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	req := datatypes.IngestRequest{Component: component, Payload: payload}
	var resp datatypes.IngestResponse
	if err := client.post(ctx, "/v1/telemetry", req, &resp); err != nil {
		OutputError(cfg.JSON, "failed to send the reading", err)
		os.Exit(CLIExitError)
	}

	raised := len(resp.EventIDs) > 0
	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "telemetry send", start, resp, raised, nil))
	}

	ux.Success(fmt.Sprintf("Reading %s accepted, severity %s",
		resp.ReadingID, ux.SeverityBadge(string(resp.Severity))))
	if raised {
		ux.Warning(fmt.Sprintf("%d security event(s) raised: %s",
			len(resp.EventIDs), strings.Join(resp.EventIDs, ", ")))
		os.Exit(CLIExitFindings)
	}
}

func runTelemetryTail(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	client := newAPIClient()

	conn, err := client.dialStream(context.Background())
	if err != nil {
		OutputError(cfg.JSON, "failed to open the stream", err)
		os.Exit(CLIExitError)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		conn.Close()
		os.Exit(CLIExitSuccess)
	}()

	if !cfg.JSON {
		ux.Info(fmt.Sprintf("Tailing readings from %s (Ctrl-C to stop)", client.baseURL))
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			OutputError(cfg.JSON, "stream closed", err)
			os.Exit(CLIExitError)
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type != notify.FrameReading {
			continue
		}
		var reading datatypes.TelemetryReading
		if err := json.Unmarshal(frame.Payload, &reading); err != nil {
			continue
		}
		if tailComponent != "" && reading.Component != tailComponent {
			continue
		}

		if cfg.JSON {
			OutputJSON(reading, true)
			continue
		}
		fmt.Printf("%s  %s  %-16s %s\n",
			reading.CreatedAt.Format("15:04:05"),
			ux.SeverityBadge(string(reading.Severity)),
			reading.Component,
			formatPayload(reading.Payload))
	}
}

func runTelemetryHistory(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	name := args[0]

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	path := fmt.Sprintf("/v1/telemetry/%s?limit=%d", url.PathEscape(name), historyLimit)
	var hist telemetryHistoryResponse
	if err := client.get(ctx, path, &hist); err != nil {
		OutputError(cfg.JSON, "failed to fetch the reading history", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "telemetry history", start, hist, false, nil))
	}

	if hist.Count == 0 {
		ux.Info(fmt.Sprintf("No readings recorded for %s", name))
		return
	}

	ux.Title(fmt.Sprintf("Readings for %s (%d)", hist.Component, hist.Count))
	headers := []string{"TIME", "SEVERITY", "SOURCE", "PAYLOAD"}
	rows := make([][]string, 0, len(hist.Readings))
	for _, r := range hist.Readings {
		source := "live"
		if r.Synthetic {
			source = "simulated"
		}
		rows = append(rows, []string{
			humanAge(r.CreatedAt),
			string(r.Severity),
			source,
			truncate(formatPayload(r.Payload), 60),
		})
	}
	fmt.Println(ux.Table(headers, rows, severityCellStyler(1)))
}
