// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// DeviationDetectorName identifies deviation findings in event context.
const DeviationDetectorName = "deviation"

// DeviationConfig tunes the statistical detector. Zero values are
// replaced by the stock defaults via EnsureDefaults.
type DeviationConfig struct {
	// WindowSize is the number of recent observations kept per
	// (component, metric) pair.
	WindowSize int `yaml:"window_size"`
	// MinSamples is the observation count below which the baseline is
	// considered warming up and no finding is emitted.
	MinSamples int `yaml:"min_samples"`
	// WarnZ is the absolute z-score above which a warning fires.
	WarnZ float64 `yaml:"warn_z"`
	// CriticalZ is the absolute z-score above which the warning
	// escalates to critical.
	CriticalZ float64 `yaml:"critical_z"`
}

// EnsureDefaults fills unset fields with the stock tuning.
func (c *DeviationConfig) EnsureDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 30
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.MinSamples > c.WindowSize {
		c.MinSamples = c.WindowSize
	}
	if c.WarnZ <= 0 {
		c.WarnZ = 3.0
	}
	if c.CriticalZ <= c.WarnZ {
		c.CriticalZ = c.WarnZ + 2.0
	}
}

// DeviationDetector keeps a rolling baseline per (component, metric)
// and flags readings that score far from it.
//
// Each value is scored against the baseline as it stood before the
// value arrived, then folded in unconditionally. The window therefore
// adapts to legitimate regime shifts while a sustained anomalous run
// keeps producing one finding per reading until the baseline catches
// up. Baselines never see a value before it is scored (no lookahead).
//
// Locking is per component: readings from different components score
// concurrently, readings from the same component serialize.
type DeviationDetector struct {
	cfg DeviationConfig

	mu         sync.RWMutex
	components map[string]*componentBaseline
}

type componentBaseline struct {
	mu      sync.Mutex
	metrics map[string]*rollingWindow
}

// NewDeviationDetector builds a detector with cfg, applying defaults to
// unset fields.
func NewDeviationDetector(cfg DeviationConfig) *DeviationDetector {
	cfg.EnsureDefaults()
	return &DeviationDetector{
		cfg:        cfg,
		components: make(map[string]*componentBaseline),
	}
}

func (d *DeviationDetector) Name() string {
	return DeviationDetectorName
}

// Evaluate scores every numeric metric in the reading against its
// baseline. Degenerate baselines (warm-up, zero variance) abstain; the
// rule detector covers gross violations during those phases.
func (d *DeviationDetector) Evaluate(reading datatypes.TelemetryReading) []datatypes.Finding {
	metrics := reading.NumericMetrics()
	if len(metrics) == 0 {
		return nil
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	state := d.componentState(reading.Component)
	state.mu.Lock()
	defer state.mu.Unlock()

	var findings []datatypes.Finding
	for _, name := range names {
		value := metrics[name]
		window, ok := state.metrics[name]
		if !ok {
			window = newRollingWindow(d.cfg.WindowSize)
			state.metrics[name] = window
		}

		mean, stddev, n := window.stats()
		window.observe(value)

		if n < d.cfg.MinSamples || stddev == 0 {
			continue
		}
		z := (value - mean) / stddev
		abs := math.Abs(z)
		if abs <= d.cfg.WarnZ {
			continue
		}

		severity := datatypes.SeverityWarning
		if abs > d.cfg.CriticalZ {
			severity = datatypes.SeverityCritical
		}
		findings = append(findings, datatypes.Finding{
			Detector:  DeviationDetectorName,
			Component: reading.Component,
			Category:  datatypes.CategoryDeviation,
			Severity:  severity,
			Details: fmt.Sprintf("%s deviates from baseline: value %s, mean %.3f, stddev %.3f, z-score %.2f",
				name, formatMetric(value), mean, stddev, z),
			Context: map[string]any{
				"metric":  name,
				"z_score": math.Round(z*100) / 100,
				"mean":    mean,
				"stddev":  stddev,
				"samples": n,
			},
		})
	}
	return findings
}

// Reset discards every baseline. Exposed to operators so detection can
// be re-armed after maintenance windows that skew the signal.
func (d *DeviationDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = make(map[string]*componentBaseline)
}

// RemoveComponent discards one component's baselines. Wired as a
// registry removal hook so deleted components leave no state behind.
func (d *DeviationDetector) RemoveComponent(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.components, name)
}

// TrackedComponents reports how many components currently hold baseline
// state.
func (d *DeviationDetector) TrackedComponents() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.components)
}

func (d *DeviationDetector) componentState(component string) *componentBaseline {
	d.mu.RLock()
	state, ok := d.components[component]
	d.mu.RUnlock()
	if ok {
		return state
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok = d.components[component]; ok {
		return state
	}
	state = &componentBaseline{metrics: make(map[string]*rollingWindow)}
	d.components[component] = state
	return state
}

// rollingWindow is a fixed-capacity ring with incrementally maintained
// mean and sum of squared deviations (Welford), extended with the
// standard inverse update when the oldest value falls out. Both update
// directions are O(1).
type rollingWindow struct {
	values []float64
	head   int
	count  int
	mean   float64
	m2     float64
}

func newRollingWindow(capacity int) *rollingWindow {
	return &rollingWindow{values: make([]float64, capacity)}
}

func (w *rollingWindow) observe(x float64) {
	if w.count == len(w.values) {
		w.evictOldest()
	}
	idx := (w.head + w.count) % len(w.values)
	w.values[idx] = x
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

func (w *rollingWindow) evictOldest() {
	y := w.values[w.head]
	w.head = (w.head + 1) % len(w.values)

	n := float64(w.count)
	if w.count == 1 {
		w.count = 0
		w.mean = 0
		w.m2 = 0
		return
	}
	newMean := (n*w.mean - y) / (n - 1)
	w.m2 -= (y - w.mean) * (y - newMean)
	if w.m2 < 0 {
		// float error on near-constant runs
		w.m2 = 0
	}
	w.mean = newMean
	w.count--
}

// stats returns the population mean and standard deviation over the
// current window contents.
func (w *rollingWindow) stats() (mean, stddev float64, n int) {
	if w.count == 0 {
		return 0, 0, 0
	}
	variance := w.m2 / float64(w.count)
	if variance < 0 {
		variance = 0
	}
	return w.mean, math.Sqrt(variance), w.count
}
