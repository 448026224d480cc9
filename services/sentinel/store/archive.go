// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// ArchiveConfig points the cold tier at an InfluxDB 2.x instance.
type ArchiveConfig struct {
	// Enabled turns telemetry archiving on. When false the ingest
	// pipeline runs without a cold tier.
	Enabled bool `yaml:"enabled"`

	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// BatchSize tunes the client's write batching. Zero selects 100.
	BatchSize uint `yaml:"batch_size"`
}

// readingWriter is the slice of InfluxDB's non-blocking write API the
// archive needs. Satisfied by api.WriteAPI.
type readingWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// Archive ships annotated telemetry readings to InfluxDB for long-term
// retention and dashboarding. Writes are asynchronous and batched;
// losing an archive write never fails ingestion.
type Archive struct {
	client influxdb2.Client
	writer readingWriter
	log    *logging.Logger
	done   chan struct{}
}

// NewArchive connects the cold tier. The caller must call Close to
// flush buffered points.
func NewArchive(cfg ArchiveConfig, log *logging.Logger) *Archive {
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 100
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(batch))

	a := newArchiveWithWriter(client.WriteAPI(cfg.Org, cfg.Bucket), log)
	a.client = client
	return a
}

func newArchiveWithWriter(w readingWriter, log *logging.Logger) *Archive {
	a := &Archive{
		writer: w,
		log:    log,
		done:   make(chan struct{}),
	}
	go a.drainErrors()
	return a
}

// ArchiveReading queues one reading for the cold tier. Numeric payload
// fields become InfluxDB fields; identity and classification become
// tags so dashboards can slice on them.
func (a *Archive) ArchiveReading(reading datatypes.TelemetryReading) {
	point := influxdb2.NewPointWithMeasurement("telemetry").
		AddTag("component", reading.Component).
		AddTag("severity", string(reading.Severity)).
		SetTime(reading.CreatedAt)
	if reading.Synthetic {
		point.AddTag("synthetic", "true")
	}

	for name, value := range reading.NumericMetrics() {
		point.AddField(name, value)
	}
	if status := reading.Status(); status != "" {
		point.AddField("status", status)
	}

	a.writer.WritePoint(point)
}

// ArchiveEvent queues one sealed security event. Classification
// becomes tags; the human-facing fields ride along as fields so event
// dashboards can show them without a join against the warm tier.
func (a *Archive) ArchiveEvent(event datatypes.SecurityEvent) {
	point := influxdb2.NewPointWithMeasurement("security_events").
		AddTag("severity", string(event.Severity)).
		AddTag("category", string(event.Category)).
		SetTime(event.CreatedAt)

	if component, ok := event.Context["component"].(string); ok && component != "" {
		point.AddTag("component", component)
	}
	if detector, ok := event.Context["detector"].(string); ok && detector != "" {
		point.AddTag("detector", detector)
	}

	point.AddField("details", event.Details)
	if event.Actor != "" {
		point.AddField("actor", event.Actor)
	}
	if occ, ok := event.Context["occurrences"].(int); ok {
		point.AddField("occurrences", occ)
	} else {
		point.AddField("occurrences", 1)
	}

	a.writer.WritePoint(point)
}

// drainErrors logs asynchronous write failures. The channel closes when
// the client shuts down.
func (a *Archive) drainErrors() {
	defer close(a.done)
	for err := range a.writer.Errors() {
		if a.log != nil {
			a.log.Warn("telemetry archive write failed", "error", err)
		}
	}
}

// Close flushes buffered points and releases the client.
func (a *Archive) Close() {
	a.writer.Flush()
	if a.client != nil {
		a.client.Close()
	}
	<-a.done
}
