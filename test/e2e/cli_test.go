// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package e2e

import (
	"bufio"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

type componentRow struct {
	Component struct {
		Name            string `json:"name"`
		FirmwareVersion string `json:"firmware_version"`
		Criticality     string `json:"criticality"`
	} `json:"component"`
}

type eventRow struct {
	ID       string         `json:"id"`
	Severity string         `json:"severity"`
	Category string         `json:"category"`
	Details  string         `json:"details"`
	Context  map[string]any `json:"context"`
}

type rolloutRow struct {
	ID            string   `json:"id"`
	Component     string   `json:"component"`
	TargetVersion string   `json:"target_version"`
	State         string   `json:"state"`
	Notes         []string `json:"notes"`
}

// findComponent returns the list row for name, or nil.
func findComponent(t *testing.T, name string) *componentRow {
	t.Helper()
	res, code := runCLI(t, "components", "list")
	if code != 0 {
		t.Fatalf("components list: exit %d, error %q", code, res.Error)
	}
	var rows []componentRow
	if len(res.Data) > 0 {
		decodeData(t, res, &rows)
	}
	for i := range rows {
		if rows[i].Component.Name == name {
			return &rows[i]
		}
	}
	return nil
}

// pollComponentEvents lists events until one for the component shows
// up. Event delivery is asynchronous behind the coalescing window, so a
// single immediate list call can race the sink.
func pollComponentEvents(t *testing.T, component string, extra ...string) ([]eventRow, int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		args := append([]string{"events", "list"}, extra...)
		res, code := runCLI(t, args...)
		var rows []eventRow
		if len(res.Data) > 0 {
			decodeData(t, res, &rows)
		}
		var mine []eventRow
		for _, row := range rows {
			if comp, _ := row.Context["component"].(string); comp == component {
				mine = append(mine, row)
			}
		}
		if len(mine) > 0 {
			return mine, code
		}
		if time.Now().After(deadline) {
			t.Fatalf("no events for %s within 5s", component)
		}
		time.Sleep(150 * time.Millisecond)
	}
}

func TestComponentLifecycle(t *testing.T) {
	registerComponent(t, "e2e-battery-01")

	row := findComponent(t, "e2e-battery-01")
	if row == nil {
		t.Fatal("registered component missing from list")
	}
	if row.Component.Criticality != "high" {
		t.Errorf("criticality = %q, want %q", row.Component.Criticality, "high")
	}

	// Duplicate registration is refused.
	res, code := runCLI(t, "components", "register", "e2e-battery-01",
		"--category", "battery", "--firmware", "1.0.0", "--address", "10.50.0.1")
	if code != 2 || res.Success {
		t.Errorf("duplicate register: exit %d success %v, want exit 2 failure", code, res.Success)
	}

	res, code = runCLI(t, "components", "criticality", "e2e-battery-01", "critical")
	if code != 0 {
		t.Fatalf("criticality update: exit %d, error %q", code, res.Error)
	}
	if row = findComponent(t, "e2e-battery-01"); row == nil || row.Component.Criticality != "critical" {
		t.Errorf("criticality update not visible in list")
	}

	res, code = runCLI(t, "components", "remove", "e2e-battery-01")
	if code != 0 {
		t.Fatalf("remove: exit %d, error %q", code, res.Error)
	}
	if findComponent(t, "e2e-battery-01") != nil {
		t.Error("component still listed after removal")
	}
}

func TestTelemetryDetection(t *testing.T) {
	registerComponent(t, "e2e-meter-01")

	var ingest struct {
		ReadingID string   `json:"reading_id"`
		Severity  string   `json:"severity"`
		EventIDs  []string `json:"event_ids"`
	}

	res, code := runCLI(t, "telemetry", "send", "e2e-meter-01",
		"voltage=230", "frequency=60", "status=online")
	if code != 0 {
		t.Fatalf("normal send: exit %d, error %q", code, res.Error)
	}
	decodeData(t, res, &ingest)
	if ingest.Severity != "normal" || len(ingest.EventIDs) != 0 {
		t.Errorf("normal reading classified %q with %d events", ingest.Severity, len(ingest.EventIDs))
	}

	res, code = runCLI(t, "telemetry", "send", "e2e-meter-01",
		"voltage=612", "frequency=60", "status=online")
	if code != 1 {
		t.Fatalf("violation send: exit %d, want 1 (findings)", code)
	}
	decodeData(t, res, &ingest)
	if ingest.Severity != "critical" || len(ingest.EventIDs) == 0 {
		t.Errorf("violation classified %q with %d events", ingest.Severity, len(ingest.EventIDs))
	}

	events, listCode := pollComponentEvents(t, "e2e-meter-01", "--severity", "critical")
	if listCode != 1 {
		t.Errorf("events list with criticals: exit %d, want 1", listCode)
	}
	if events[0].Category != "rule-violation" {
		t.Errorf("event category = %q, want rule-violation", events[0].Category)
	}

	// History shows both readings, newest first.
	res, code = runCLI(t, "telemetry", "history", "e2e-meter-01", "--limit", "10")
	if code != 0 {
		t.Fatalf("history: exit %d, error %q", code, res.Error)
	}
	var readings []struct {
		Severity string `json:"severity"`
	}
	decodeData(t, res, &readings)
	if len(readings) != 2 {
		t.Fatalf("history returned %d readings, want 2", len(readings))
	}

	res, code = runCLI(t, "events", "summary", "--hours", "1")
	if code != 1 {
		t.Errorf("summary with criticals: exit %d, want 1", code)
	}
	var summary struct {
		Total      int            `json:"total"`
		BySeverity map[string]int `json:"by_severity"`
	}
	decodeData(t, res, &summary)
	if summary.Total == 0 || summary.BySeverity["critical"] == 0 {
		t.Errorf("summary missing critical events: %+v", summary)
	}
}

func TestSimulateDrill(t *testing.T) {
	registerComponent(t, "e2e-inverter-01")

	// Bare invocation lists the catalog.
	res, code := runCLI(t, "simulate")
	if code != 0 {
		t.Fatalf("scenario list: exit %d, error %q", code, res.Error)
	}
	var scenarios []struct {
		Tag         string `json:"tag"`
		Description string `json:"description"`
	}
	decodeData(t, res, &scenarios)
	if len(scenarios) != 5 {
		t.Fatalf("catalog has %d scenarios, want 5", len(scenarios))
	}
	found := false
	for _, sc := range scenarios {
		if sc.Tag == "voltage-spike" {
			found = true
		}
	}
	if !found {
		t.Fatal("voltage-spike missing from catalog")
	}

	res, code = runCLI(t, "simulate", "voltage-spike", "--component", "e2e-inverter-01")
	if code != 0 {
		t.Fatalf("drill run: exit %d, error %q", code, res.Error)
	}
	var drill struct {
		Scenario  string     `json:"scenario"`
		Component string     `json:"component"`
		Truncated bool       `json:"truncated"`
		Events    []eventRow `json:"events"`
	}
	decodeData(t, res, &drill)
	if drill.Truncated {
		t.Error("drill reported truncated on an idle queue")
	}
	if len(drill.Events) == 0 {
		t.Fatal("overvoltage drill raised no events")
	}

	res, code = runCLI(t, "simulate", "no-such-drill", "--component", "e2e-inverter-01")
	if code != 2 || res.Success {
		t.Errorf("unknown drill: exit %d success %v, want exit 2 failure", code, res.Success)
	}
}

func TestPatchRolloutLifecycle(t *testing.T) {
	registerComponent(t, "e2e-plc-01")

	artifact := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(artifact, []byte("factory image 1.1.0"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, code := runCLI(t, "patch", "deploy", "e2e-plc-01", artifact,
		"--target-version", "1.1.0",
		"--requested-by", "e2e",
		"--seed", seedPath,
		"--wait")
	if code != 0 {
		t.Fatalf("deploy: exit %d, error %q", code, res.Error)
	}
	var rollout rolloutRow
	decodeData(t, res, &rollout)
	if rollout.State != "succeeded" {
		t.Fatalf("rollout state = %q, want succeeded (notes: %v)", rollout.State, rollout.Notes)
	}

	res, code = runCLI(t, "patch", "status", "e2e-plc-01")
	if code != 0 {
		t.Fatalf("status: exit %d, error %q", code, res.Error)
	}
	var rollouts []rolloutRow
	decodeData(t, res, &rollouts)
	if len(rollouts) == 0 || rollouts[0].State != "succeeded" {
		t.Fatalf("patch status = %+v, want a succeeded rollout", rollouts)
	}

	if row := findComponent(t, "e2e-plc-01"); row == nil || row.Component.FirmwareVersion != "1.1.0" {
		t.Error("firmware version not updated after rollout")
	}

	// Re-deploying the installed version is an integrity rejection:
	// the command succeeds, the rollout does not, and the exit code
	// flags it.
	res, code = runCLI(t, "patch", "deploy", "e2e-plc-01", artifact,
		"--target-version", "1.1.0",
		"--seed", seedPath)
	if code != 1 {
		t.Fatalf("stale deploy: exit %d, want 1 (findings)", code)
	}
	decodeData(t, res, &rollout)
	if rollout.State != "rejected" {
		t.Errorf("stale rollout state = %q, want rejected", rollout.State)
	}
}

func TestStreamTail(t *testing.T) {
	registerComponent(t, "e2e-stream-01")

	tail := exec.Command(cliBinary, "telemetry", "tail",
		"--component", "e2e-stream-01", "--output", "json")
	stdout, err := tail.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	tail.Stderr = os.Stderr
	if err := tail.Start(); err != nil {
		t.Fatalf("start tail: %v", err)
	}
	defer tail.Process.Kill()

	// Let the WebSocket attach before publishing.
	time.Sleep(500 * time.Millisecond)

	lineCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			lineCh <- scanner.Text()
		}
	}()

	for i := 0; i < 3; i++ {
		runCLI(t, "telemetry", "send", "e2e-stream-01",
			"voltage=231", "frequency=60", "status=online")
		time.Sleep(200 * time.Millisecond)
	}

	select {
	case line := <-lineCh:
		var reading struct {
			ID        string `json:"id"`
			Component string `json:"component"`
			Severity  string `json:"severity"`
		}
		if err := json.Unmarshal([]byte(line), &reading); err != nil {
			t.Fatalf("tail line %q: %v", line, err)
		}
		if reading.Component != "e2e-stream-01" {
			t.Errorf("tail delivered reading for %q", reading.Component)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reading arrived on the stream within 10s")
	}

	// Interrupt is a clean shutdown, not a failure.
	if err := tail.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("interrupt tail: %v", err)
	}
	if err := tail.Wait(); err != nil {
		t.Errorf("tail exited uncleanly: %v", err)
	}
}

func TestOpsSurface(t *testing.T) {
	registerComponent(t, "e2e-relay-01")

	res, code := runCLI(t, "control", "dispatch", "e2e-relay-01", "isolate", "feeder", "7")
	if code != 0 {
		t.Fatalf("dispatch: exit %d, error %q", code, res.Error)
	}
	var dispatch struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"`
	}
	decodeData(t, res, &dispatch)
	if dispatch.Status != "recorded" || dispatch.EventID == "" {
		t.Errorf("dispatch = %+v, want recorded with an event id", dispatch)
	}

	res, code = runCLI(t, "baseline", "reset")
	if code != 0 {
		t.Fatalf("baseline reset: exit %d, error %q", code, res.Error)
	}

	res, code = runCLI(t, "status")
	if code != 0 {
		t.Fatalf("status: exit %d, error %q", code, res.Error)
	}
	var health struct {
		Status     string            `json:"status"`
		Service    string            `json:"service"`
		Components int               `json:"components"`
		Subsystems map[string]string `json:"subsystems"`
	}
	decodeData(t, res, &health)
	if health.Status != "ok" || health.Service != "sentinel" {
		t.Errorf("health = %+v", health)
	}
	if health.Components == 0 || len(health.Subsystems) == 0 {
		t.Errorf("health missing inventory: %+v", health)
	}

	res, code = runCLI(t, "version")
	if code != 0 {
		t.Fatalf("version: exit %d, error %q", code, res.Error)
	}
	var ver struct {
		Version string `json:"version"`
		Service string `json:"service"`
		Server  string `json:"server"`
	}
	decodeData(t, res, &ver)
	if ver.Version == "" || ver.Service != "sentinel" || ver.Server != serverURL {
		t.Errorf("version = %+v", ver)
	}
}

// TestPipedOutputDefaultsToJSON pins the no-flag behavior scripts rely
// on: a non-TTY stdout selects JSON without --output.
func TestPipedOutputDefaultsToJSON(t *testing.T) {
	out, err := exec.Command(cliBinary, "components", "list").Output()
	if err != nil {
		t.Fatalf("bare list: %v", err)
	}
	var res cliResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("piped output is not the JSON envelope: %v\n%s", err, out)
	}
	if res.Command != "components list" {
		t.Errorf("envelope command = %q", res.Command)
	}
}
