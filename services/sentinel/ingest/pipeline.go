// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest is the telemetry entry point: it stores readings,
// runs the detector chain, and hands findings to the event sink.
//
// One reading is processed synchronously end to end. Readings for
// distinct components flow concurrently; the only shared mutable
// state on the path is inside the detectors and the sink, each of
// which guards itself at component granularity.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/pkg/validation"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
)

// ErrInvalidPayload marks telemetry whose payload cannot be classified.
// Such readings are still stored, tagged "normal", with no detector run.
var ErrInvalidPayload = errors.New("invalid telemetry payload")

// Archiver receives every stored reading for long-term retention.
// Implementations must not block; the pipeline calls it inline.
type Archiver interface {
	ArchiveReading(reading datatypes.TelemetryReading)
}

// EventSubmitter accepts candidate findings. Implemented by sink.Sink.
type EventSubmitter interface {
	Submit(finding datatypes.Finding, actor string) (string, error)
}

// Broadcaster receives every stored reading for live streaming.
// Implemented by notify.Hub; must never block.
type Broadcaster interface {
	BroadcastReading(reading datatypes.TelemetryReading)
}

// Result reports what one ingested reading produced. Findings counts
// detector output before sink deduplication, so it can exceed the
// number of event IDs.
type Result struct {
	Reading  datatypes.TelemetryReading
	Findings int
	EventIDs []string
}

// Pipeline runs the ingestion path for real and synthetic telemetry.
type Pipeline struct {
	registry  *registry.Registry
	store     *Store
	detectors []detect.Detector
	events    EventSubmitter
	archiver  Archiver
	bcast     Broadcaster
	log       *logging.Logger
	now       func() time.Time
}

// NewPipeline wires the ingestion path. Detectors run in slice order;
// archiver and bcast may be nil.
func NewPipeline(reg *registry.Registry, store *Store, detectors []detect.Detector, events EventSubmitter, archiver Archiver, bcast Broadcaster, log *logging.Logger) *Pipeline {
	return &Pipeline{
		registry:  reg,
		store:     store,
		detectors: detectors,
		events:    events,
		archiver:  archiver,
		bcast:     bcast,
		log:       log,
		now:       time.Now,
	}
}

// Ingest processes one reading from a live component. A zero at means
// the server assigns the ingestion time. Returns the stored reading and
// the IDs of any SecurityEvents its findings minted or merged into.
func (p *Pipeline) Ingest(ctx context.Context, component string, payload map[string]any, at time.Time) (Result, error) {
	return p.ingest(ctx, component, payload, at, nil)
}

// IngestSynthetic processes one simulator-generated reading. Findings
// are recast to category "simulated-attack" with the original category,
// scenario tag, and a synthetic marker preserved in event context, so
// drills never masquerade as real incidents. The requesting operator is
// recorded as the event actor.
func (p *Pipeline) IngestSynthetic(ctx context.Context, component string, payload map[string]any, scenario, actor string) (Result, error) {
	return p.ingest(ctx, component, payload, time.Time{}, &syntheticRun{scenario: scenario, actor: actor})
}

type syntheticRun struct {
	scenario string
	actor    string
}

func (p *Pipeline) ingest(ctx context.Context, component string, payload map[string]any, at time.Time, synthetic *syntheticRun) (Result, error) {
	if _, err := p.registry.Get(component); err != nil {
		return Result{}, err
	}
	if at.IsZero() {
		at = p.now()
	}

	reading := datatypes.TelemetryReading{
		ID:        uuid.NewString(),
		Component: component,
		Payload:   payload,
		Severity:  datatypes.SeverityNormal,
		Synthetic: synthetic != nil,
		CreatedAt: at.UTC(),
	}
	p.store.Append(reading)

	if err := ValidatePayload(payload); err != nil {
		p.log.Warn("telemetry payload rejected, stored unclassified",
			"component", component, "reading_id", reading.ID, "error", err)
		p.archive(reading)
		p.broadcast(reading)
		return Result{Reading: reading}, nil
	}

	var findings []datatypes.Finding
	for _, d := range p.detectors {
		out := d.Evaluate(reading)
		if len(out) == 0 {
			continue
		}
		// The most recent detector to classify the reading owns its
		// severity tag.
		reading.Severity = highestSeverity(out)
		findings = append(findings, out...)
	}
	if reading.Severity != datatypes.SeverityNormal {
		p.store.Annotate(component, reading.ID, reading.Severity)
	}
	p.archive(reading)
	p.broadcast(reading)

	actor := ""
	if synthetic != nil {
		recastSynthetic(findings, synthetic.scenario)
		actor = synthetic.actor
	}

	eventIDs, err := p.submit(findings, actor)
	res := Result{Reading: reading, Findings: len(findings), EventIDs: eventIDs}
	if err != nil {
		return res, err
	}
	return res, nil
}

// submit hands findings to the sink, deduplicating the returned IDs
// since coalesced findings share an event. The first submission error
// is reported after the remaining findings have had their chance;
// losing one finding to backpressure must not discard the rest.
func (p *Pipeline) submit(findings []datatypes.Finding, actor string) ([]string, error) {
	var (
		eventIDs  []string
		submitErr error
		seen      = make(map[string]struct{}, len(findings))
	)
	for _, f := range findings {
		id, err := p.events.Submit(f, actor)
		if err != nil {
			if submitErr == nil {
				submitErr = err
			}
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		eventIDs = append(eventIDs, id)
	}
	if submitErr != nil {
		return eventIDs, fmt.Errorf("event submission: %w", submitErr)
	}
	return eventIDs, nil
}

func (p *Pipeline) archive(reading datatypes.TelemetryReading) {
	if p.archiver != nil {
		p.archiver.ArchiveReading(reading)
	}
}

func (p *Pipeline) broadcast(reading datatypes.TelemetryReading) {
	if p.bcast != nil {
		p.bcast.BroadcastReading(reading)
	}
}

func highestSeverity(findings []datatypes.Finding) datatypes.Severity {
	top := datatypes.SeverityNormal
	for _, f := range findings {
		top = top.Max(f.Severity)
	}
	return top
}

func recastSynthetic(findings []datatypes.Finding, scenario string) {
	for i := range findings {
		f := &findings[i]
		if f.Context == nil {
			f.Context = make(map[string]any, 3)
		}
		f.Context["original_category"] = string(f.Category)
		f.Context["scenario"] = scenario
		f.Context["synthetic"] = true
		f.Category = datatypes.CategorySimulatedAttack
	}
}

// ValidatePayload decides whether a payload is classifiable. Keys must
// be well-formed metric names and values must be scalars; anything else
// is recorded but never shown to the detectors.
func ValidatePayload(payload map[string]any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if len(payload) > datatypes.MaxPayloadFields {
		return fmt.Errorf("%w: %d fields exceeds limit %d",
			ErrInvalidPayload, len(payload), datatypes.MaxPayloadFields)
	}
	for key, value := range payload {
		if err := validation.MetricName(key); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidPayload, key, err)
		}
		switch value.(type) {
		case float64, float32, int, int64, uint64, string, bool:
		default:
			return fmt.Errorf("%w: field %q has unsupported type %T",
				ErrInvalidPayload, key, value)
		}
	}
	return nil
}
