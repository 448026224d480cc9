// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridwarden/gridwarden/cmd/gridwarden/config"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

func TestParsePayloadArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "numeric values become floats",
			args: []string{"voltage=240.5", "frequency=50"},
			want: map[string]any{"voltage": 240.5, "frequency": float64(50)},
		},
		{
			name: "booleans become bools",
			args: []string{"breaker_open=true"},
			want: map[string]any{"breaker_open": true},
		},
		{
			name: "everything else stays a string",
			args: []string{"status=nominal", "firmware=2.1.0"},
			want: map[string]any{"status": "nominal", "firmware": "2.1.0"},
		},
		{
			name: "value may contain an equals sign",
			args: []string{"expr=a=b"},
			want: map[string]any{"expr": "a=b"},
		},
		{
			name: "empty value is an empty string",
			args: []string{"mode="},
			want: map[string]any{"mode": ""},
		},
		{
			name:    "missing equals is rejected",
			args:    []string{"voltage"},
			wantErr: true,
		},
		{
			name:    "empty key is rejected",
			args:    []string{"=240"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayloadArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePayloadArgs failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("payload[%q] = %#v, want %#v", k, got[k], want)
				}
			}
		})
	}
}

func TestEventComponent(t *testing.T) {
	withComponent := datatypes.SecurityEvent{
		Context: map[string]any{"component": "meter-3"},
	}
	if got := eventComponent(withComponent); got != "meter-3" {
		t.Errorf("eventComponent = %q, want meter-3", got)
	}

	withoutComponent := datatypes.SecurityEvent{Context: map[string]any{"rule": "r1"}}
	if got := eventComponent(withoutComponent); got != "-" {
		t.Errorf("eventComponent = %q, want -", got)
	}

	// A JSON round trip can leave non-string values behind.
	nonString := datatypes.SecurityEvent{Context: map[string]any{"component": 7}}
	if got := eventComponent(nonString); got != "-" {
		t.Errorf("eventComponent = %q, want - for a non-string value", got)
	}
}

func TestHumanAge(t *testing.T) {
	if got := humanAge(time.Time{}); got != "never" {
		t.Errorf("zero time = %q, want never", got)
	}
	if got := humanAge(time.Now().Add(-30 * time.Second)); got != "30s ago" {
		t.Errorf("30s = %q, want 30s ago", got)
	}
	if got := humanAge(time.Now().Add(-5 * time.Minute)); got != "5m ago" {
		t.Errorf("5m = %q, want 5m ago", got)
	}
	if got := humanAge(time.Now().Add(-3 * time.Hour)); got != "3h ago" {
		t.Errorf("3h = %q, want 3h ago", got)
	}

	old := time.Now().Add(-48 * time.Hour)
	if got := humanAge(old); got != old.Format("2006-01-02") {
		t.Errorf("48h = %q, want the date", got)
	}

	future := time.Now().Add(time.Hour)
	if got := humanAge(future); got != future.Format(time.RFC3339) {
		t.Errorf("future = %q, want RFC3339", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q, want unchanged", got)
	}
	got := truncate("a long detail string", 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q, want 10 chars ending in ...", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Errorf("tiny max = %q, want ab", got)
	}
	if got := truncate("anything", 0); got != "anything" {
		t.Errorf("zero max = %q, want unchanged", got)
	}
}

func TestFormatPayload(t *testing.T) {
	if got := formatPayload(nil); got != "-" {
		t.Errorf("empty payload = %q, want -", got)
	}
	got := formatPayload(map[string]any{"voltage": 240.5, "breaker": "open"})
	if got != "breaker=open voltage=240.5" {
		t.Errorf("payload = %q, keys should be sorted", got)
	}
}

func TestWantJSON(t *testing.T) {
	saveGlobals(t)

	outputFormat = "json"
	if !wantJSON() {
		t.Error("explicit --output json should force JSON")
	}

	outputFormat = "table"
	if wantJSON() {
		t.Error("explicit --output table should force tables")
	}

	outputFormat = ""
	config.Global.Output.Format = "json"
	if !wantJSON() {
		t.Error("config format json should force JSON")
	}

	// A configured table preference degrades on pipes: under go test
	// stdout is not a terminal, so JSON wins.
	config.Global.Output.Format = "table"
	if !wantJSON() {
		t.Error("config format table should degrade to JSON on a pipe")
	}
}

func TestResolveSeedPath(t *testing.T) {
	saveGlobals(t)
	config.Global.Signing.SeedPath = "/etc/gridwarden/seed.hex"

	if got := resolveSeedPath("/tmp/override.hex"); got != "/tmp/override.hex" {
		t.Errorf("resolveSeedPath = %q, want the flag value", got)
	}
	if got := resolveSeedPath(""); got != "/etc/gridwarden/seed.hex" {
		t.Errorf("resolveSeedPath = %q, want the config value", got)
	}
}

func TestLoadSigner_MissingFile(t *testing.T) {
	_, err := loadSigner(filepath.Join(t.TempDir(), "no-such-seed.hex"))
	if err == nil {
		t.Fatal("expected an error for a missing seed file")
	}
	if !strings.Contains(err.Error(), "failed to read the seed file") {
		t.Errorf("error %q should name the read failure", err.Error())
	}
}

func TestLoadSigner_NotHex(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "seed.hex")
	if err := os.WriteFile(seedPath, []byte("not hex at all"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := loadSigner(seedPath)
	if err == nil {
		t.Fatal("expected an error for a non-hex seed")
	}
	if !strings.Contains(err.Error(), "not hex") {
		t.Errorf("error %q should name the hex failure", err.Error())
	}
}

func TestLoadSigner_WrongLength(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "seed.hex")
	short := hex.EncodeToString(make([]byte, 16))
	if err := os.WriteFile(seedPath, []byte(short), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := loadSigner(seedPath)
	if err == nil {
		t.Fatal("expected an error for a short seed")
	}
	if !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("error %q should name the expected size", err.Error())
	}
}

func TestLoadSigner_SignsVerifiably(t *testing.T) {
	t.Setenv("GRIDWARDEN_INSECURE_MEMORY", "true")

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	wantPub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

	seedPath := filepath.Join(t.TempDir(), "seed.hex")
	// Trailing newline must be tolerated, editors add one.
	content := hex.EncodeToString(seed) + "\n"
	if err := os.WriteFile(seedPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	signer, err := loadSigner(seedPath)
	if err != nil {
		t.Fatalf("loadSigner failed: %v", err)
	}
	if !wantPub.Equal(signer.PublicKey()) {
		t.Fatal("public key does not match the seed")
	}

	payload := []byte("firmware image bytes")
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !ed25519.Verify(wantPub, payload, sig) {
		t.Error("signature does not verify against the payload")
	}
}

func TestWaitForRollout_PollsUntilTerminal(t *testing.T) {
	saveGlobals(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		state := datatypes.PatchApplying
		if n >= 2 {
			state = datatypes.PatchSucceeded
		}
		body := rolloutListResponse{
			Component: "inverter-1",
			Rollouts: []datatypes.PatchStatus{{
				ID:            "rl-1",
				Component:     "inverter-1",
				TargetVersion: "2.1.0",
				State:         state,
			}},
			Count: 1,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	client := testClient(srv, "")
	final, err := waitForRollout(client, "rl-1", "inverter-1", OutputConfig{Quiet: true})
	if err != nil {
		t.Fatalf("waitForRollout failed: %v", err)
	}
	if final.State != datatypes.PatchSucceeded {
		t.Errorf("final state = %s, want succeeded", final.State)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("calls = %d, want at least 2 polls", calls)
	}
}

func TestWaitForRollout_SurfacesTransportErrors(t *testing.T) {
	saveGlobals(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"component \"ghost\" is not registered","code":"unknown_component"}`))
	}))
	defer srv.Close()

	client := testClient(srv, "")
	_, err := waitForRollout(client, "rl-9", "ghost", OutputConfig{Quiet: true})
	if err == nil {
		t.Fatal("expected the poll error to surface")
	}
	if !strings.Contains(err.Error(), "not registered") {
		t.Errorf("error %q should carry the service message", err.Error())
	}
}
