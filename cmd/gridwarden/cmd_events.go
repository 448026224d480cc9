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
	"sort"
	"strconv"
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
	eventsSeverity string
	eventsCategory string
	eventsLimit    int
	watchSeverity  string
	summaryHours   int
)

func init() {
	eventsListCmd.Flags().StringVar(&eventsSeverity, "severity", "",
		"only show events with this severity (info, warning, critical)")
	eventsListCmd.Flags().StringVar(&eventsCategory, "category", "",
		"only show events in this category (rule-violation, deviation, ...)")
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", 50,
		"maximum events to return")
	eventsWatchCmd.Flags().StringVar(&watchSeverity, "severity", "",
		"only show events with this severity")
	eventsSummaryCmd.Flags().IntVar(&summaryHours, "hours", 24,
		"summary window in hours")
}

// eventComponent pulls the component name out of an event's context.
func eventComponent(e datatypes.SecurityEvent) string {
	if c, ok := e.Context["component"].(string); ok && c != "" {
		return c
	}
	return "-"
}

func runEventsList(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	q := url.Values{}
	if eventsSeverity != "" {
		q.Set("severity", eventsSeverity)
	}
	if eventsCategory != "" {
		q.Set("category", eventsCategory)
	}
	q.Set("limit", strconv.Itoa(eventsLimit))

	var list eventListResponse
	if err := client.get(ctx, "/v1/events?"+q.Encode(), &list); err != nil {
		OutputError(cfg.JSON, "failed to list events", err)
		os.Exit(CLIExitError)
	}

	hasCritical := false
	for _, e := range list.Events {
		if e.Severity == datatypes.SeverityCritical {
			hasCritical = true
			break
		}
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "events list", start, list, hasCritical, nil))
	}

	if list.Count == 0 {
		ux.Info("No security events recorded")
		return
	}

	ux.Title(fmt.Sprintf("Security events (%d)", list.Count))
	headers := []string{"TIME", "SEVERITY", "CATEGORY", "COMPONENT", "DETAILS"}
	rows := make([][]string, 0, len(list.Events))
	for _, e := range list.Events {
		rows = append(rows, []string{
			humanAge(e.CreatedAt),
			string(e.Severity),
			string(e.Category),
			eventComponent(e),
			truncate(e.Details, 56),
		})
	}
	fmt.Println(ux.Table(headers, rows, severityCellStyler(1)))

	if hasCritical {
		os.Exit(CLIExitFindings)
	}
}

func runEventsWatch(cmd *cobra.Command, args []string) {
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
		ux.Info(fmt.Sprintf("Watching security events from %s (Ctrl-C to stop)", client.baseURL))
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
		if frame.Type != notify.FrameEvent {
			continue
		}
		var event datatypes.SecurityEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			continue
		}
		if watchSeverity != "" && string(event.Severity) != watchSeverity {
			continue
		}

		if cfg.JSON {
			OutputJSON(event, true)
			continue
		}
		fmt.Printf("%s  %s  %-18s %-16s %s\n",
			event.CreatedAt.Format("15:04:05"),
			ux.SeverityBadge(string(event.Severity)),
			string(event.Category),
			eventComponent(event),
			event.Details)
	}
}

func runEventsSummary(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	path := fmt.Sprintf("/v1/events/summary?hours=%d", summaryHours)
	var summary datatypes.ActivitySummary
	if err := client.get(ctx, path, &summary); err != nil {
		OutputError(cfg.JSON, "failed to fetch the event summary", err)
		os.Exit(CLIExitError)
	}

	hasCritical := summary.BySeverity[string(datatypes.SeverityCritical)] > 0

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "events summary", start, summary, hasCritical, nil))
	}

	ux.Title(fmt.Sprintf("Event activity, last %dh", summary.WindowHours))
	ux.Summary(
		summary.BySeverity[string(datatypes.SeverityCritical)],
		summary.BySeverity[string(datatypes.SeverityWarning)],
		summary.BySeverity[string(datatypes.SeverityInfo)],
	)

	if summary.Total == 0 {
		ux.Info("No events in the window")
		return
	}

	categories := make([]string, 0, len(summary.ByCategory))
	for c := range summary.ByCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if summary.ByCategory[categories[i]] != summary.ByCategory[categories[j]] {
			return summary.ByCategory[categories[i]] > summary.ByCategory[categories[j]]
		}
		return categories[i] < categories[j]
	})
	rows := make([][]string, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []string{c, strconv.Itoa(summary.ByCategory[c])})
	}
	fmt.Println(ux.Table([]string{"CATEGORY", "COUNT"}, rows, nil))
	ux.Muted(fmt.Sprintf("Total: %d events", summary.Total))

	if hasCritical {
		os.Exit(CLIExitFindings)
	}
}
