// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulate

import (
	"context"
	"fmt"
	"time"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
)

// Ingestor is the synthetic entry of the telemetry pipeline.
type Ingestor interface {
	IngestSynthetic(ctx context.Context, component string, payload map[string]any, scenario, actor string) (ingest.Result, error)
}

// EventSubmitter accepts the run-summary finding. Implemented by
// sink.Sink.
type EventSubmitter interface {
	Submit(finding datatypes.Finding, actor string) (string, error)
}

// RunResult reports one drill execution.
type RunResult struct {
	Scenario  string   `json:"scenario"`
	Component string   `json:"component"`
	Steps     int      `json:"steps"`
	Planned   int      `json:"planned_steps"`
	Truncated bool     `json:"truncated"`
	EventIDs  []string `json:"event_ids"`
}

// Runner replays drill scenarios through the ingestion pipeline.
type Runner struct {
	registry *registry.Registry
	pipeline Ingestor
	events   EventSubmitter
	log      *logging.Logger

	// StepDelay spaces out synthetic readings. Zero replays the
	// sequence as fast as ingestion allows.
	StepDelay time.Duration
}

// NewRunner wires a drill runner.
func NewRunner(reg *registry.Registry, pipeline Ingestor, events EventSubmitter, log *logging.Logger) *Runner {
	return &Runner{
		registry: reg,
		pipeline: pipeline,
		events:   events,
		log:      log,
	}
}

// Run executes one drill against a registered component and returns
// the SecurityEvents it produced.
//
// The tag is resolved before anything happens: an unknown tag fails
// with ErrInvalidScenario and zero side effects, as does an unknown
// component. Cancelling ctx stops the replay between steps; findings
// already generated stay persisted and the run summary marks the run
// truncated so a partial drill can never be mistaken for a full one.
func (r *Runner) Run(ctx context.Context, tag, component, actor string) (RunResult, error) {
	sc, err := Lookup(tag)
	if err != nil {
		return RunResult{}, err
	}
	if _, err := r.registry.Get(component); err != nil {
		return RunResult{}, err
	}

	r.log.Info("attack drill starting",
		"scenario", tag, "component", component, "actor", actor, "steps", len(sc.Steps))

	res := RunResult{Scenario: tag, Component: component, Planned: len(sc.Steps)}
	seen := make(map[string]struct{})

	var runErr error
steps:
	for _, step := range sc.Steps {
		select {
		case <-ctx.Done():
			res.Truncated = true
			break steps
		default:
		}
		if r.StepDelay > 0 {
			timer := time.NewTimer(r.StepDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Truncated = true
				break steps
			case <-timer.C:
			}
		}

		out, err := r.pipeline.IngestSynthetic(ctx, component, clonePayload(step), tag, actor)
		if err != nil {
			res.Truncated = true
			runErr = fmt.Errorf("drill step %d: %w", res.Steps+1, err)
			break steps
		}
		res.Steps++
		for _, id := range out.EventIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			res.EventIDs = append(res.EventIDs, id)
		}
	}

	// The summary is written even for truncated runs; it is what makes
	// a partial drill distinguishable from a completed one.
	if id, err := r.submitSummary(sc, res, actor); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("drill summary: %w", err)
		}
	} else if _, dup := seen[id]; !dup {
		res.EventIDs = append(res.EventIDs, id)
	}

	r.log.Info("attack drill finished",
		"scenario", tag, "component", component,
		"steps", res.Steps, "truncated", res.Truncated, "events", len(res.EventIDs))
	return res, runErr
}

func (r *Runner) submitSummary(sc Scenario, res RunResult, actor string) (string, error) {
	outcome := "completed"
	if res.Truncated {
		outcome = "aborted"
	}
	return r.events.Submit(datatypes.Finding{
		Detector:   "simulator",
		Component:  res.Component,
		Category:   datatypes.CategorySimulatedAttack,
		Severity:   datatypes.SeverityInfo,
		Details:    fmt.Sprintf("attack drill %q %s after %d/%d steps", sc.Tag, outcome, res.Steps, res.Planned),
		Mitigation: sc.Mitigation,
		Context: map[string]any{
			"scenario":      sc.Tag,
			"synthetic":     true,
			"truncated":     res.Truncated,
			"steps":         res.Steps,
			"planned_steps": res.Planned,
		},
	}, actor)
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
