// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwarden/gridwarden/cmd/gridwarden/config"
	"github.com/gridwarden/gridwarden/cmd/gridwarden/gcs"
	"github.com/gridwarden/gridwarden/pkg/ux"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
)

// === COMMAND FLAGS ===

var (
	deployTargetVersion string
	deployRequestedBy   string
	deploySignature     string
	deploySeedPath      string
	deployWait          bool
	signSeedPath        string
	signNewSeedPath     string
	fetchOut            string
	publishBucket       string
	publishObject       string
)

const (
	// rolloutWaitTimeout bounds --wait polling; the apply phase is
	// paced server-side.
	rolloutWaitTimeout  = 2 * time.Minute
	rolloutPollInterval = 500 * time.Millisecond

	// gcsTimeout bounds one artifact transfer.
	gcsTimeout = 5 * time.Minute
)

func init() {
	patchDeployCmd.Flags().StringVar(&deployTargetVersion, "target-version", "",
		"firmware version this patch installs")
	patchDeployCmd.Flags().StringVar(&deployRequestedBy, "requested-by", "",
		"operator recorded on the rollout")
	patchDeployCmd.Flags().StringVar(&deploySignature, "signature", "",
		"detached base64 signature (skips local signing)")
	patchDeployCmd.Flags().StringVar(&deploySeedPath, "seed", "",
		"hex Ed25519 seed file used to sign the payload")
	patchDeployCmd.Flags().BoolVar(&deployWait, "wait", false,
		"poll until the rollout reaches a terminal state")
	patchDeployCmd.MarkFlagRequired("target-version")

	patchSignCmd.Flags().StringVar(&signSeedPath, "seed", "",
		"hex Ed25519 seed file")
	patchSignCmd.Flags().StringVar(&signNewSeedPath, "new-seed", "",
		"generate a fresh seed, write it here, and sign with it")

	patchFetchCmd.Flags().StringVar(&fetchOut, "out", "",
		"local path for the artifact (default: the object name)")

	patchPublishCmd.Flags().StringVar(&publishBucket, "bucket", "",
		"GCS bucket (default: gcs.bucket from the config)")
	patchPublishCmd.Flags().StringVar(&publishObject, "object", "",
		"object name (default: the file name)")
}

// loadSigner reads a hex-encoded Ed25519 seed file and seals it.
func loadSigner(seedPath string) (*patch.Signer, error) {
	raw, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the seed file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("seed file %s is not hex: %w", seedPath, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return patch.NewSigner(seed, nil)
}

// resolveSeedPath picks the signing seed with flag > config precedence.
func resolveSeedPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return config.Global.Signing.SeedPath
}

func runPatchDeploy(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	component, file := args[0], args[1]

	payload, err := os.ReadFile(file)
	if err != nil {
		OutputError(cfg.JSON, "failed to read the firmware file", err)
		os.Exit(CLIExitError)
	}
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	signature := deploySignature
	if signature == "" {
		seedPath := resolveSeedPath(deploySeedPath)
		if seedPath == "" {
			OutputError(cfg.JSON, "no signature",
				fmt.Errorf("provide --signature, --seed, or signing.seed_path in the config"))
			os.Exit(CLIExitError)
		}
		signer, err := loadSigner(seedPath)
		if err != nil {
			OutputError(cfg.JSON, "failed to load the signing seed", err)
			os.Exit(CLIExitError)
		}
		sig, err := signer.Sign(payload)
		if err != nil {
			OutputError(cfg.JSON, "failed to sign the payload", err)
			os.Exit(CLIExitError)
		}
		signature = base64.StdEncoding.EncodeToString(sig)
	}

	req := datatypes.RolloutRequest{
		Component:     component,
		TargetVersion: deployTargetVersion,
		Payload:       base64.StdEncoding.EncodeToString(payload),
		Checksum:      checksum,
		Signature:     signature,
		RequestedBy:   deployRequestedBy,
	}
	if len(req.Payload) > datatypes.MaxPatchPayloadBytes {
		OutputError(cfg.JSON, "firmware too large",
			fmt.Errorf("encoded payload is %d bytes, limit %d", len(req.Payload), datatypes.MaxPatchPayloadBytes))
		os.Exit(CLIExitError)
	}

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var resp datatypes.RolloutResponse
	if err := client.post(ctx, "/v1/patches", req, &resp); err != nil {
		OutputError(cfg.JSON, "failed to start the rollout", err)
		os.Exit(CLIExitError)
	}

	rollout := resp.Rollout
	if deployWait {
		final, werr := waitForRollout(client, rollout.ID, component, cfg)
		if werr != nil {
			OutputError(cfg.JSON, "rollout did not finish", werr)
			os.Exit(CLIExitError)
		}
		rollout = final
	}

	failed := rollout.State == datatypes.PatchRejected || rollout.State == datatypes.PatchFailed
	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "patch deploy", start, rollout, failed, nil))
	}

	if failed {
		ux.Error(fmt.Sprintf("Rollout %s is %s", rollout.ID, ux.StateBadge(string(rollout.State))))
		for _, note := range rollout.Notes {
			ux.Muted("  " + note)
		}
		os.Exit(CLIExitFindings)
	}
	ux.Success(fmt.Sprintf("Rollout %s is %s", rollout.ID, ux.StateBadge(string(rollout.State))))
	if !deployWait && !rollout.State.Terminal() {
		ux.Hint(fmt.Sprintf("follow it with: gridwarden patch status %s", component))
	}
}

// waitForRollout polls the rollout history until the rollout reaches a
// terminal state.
func waitForRollout(client *apiClient, id, component string, cfg OutputConfig) (datatypes.PatchStatus, error) {
	var spin *ux.Spinner
	if !cfg.JSON && !cfg.Quiet {
		spin = ux.NewSpinner(fmt.Sprintf("Rollout %s pending", id))
		spin.Start()
	}
	stopSpin := func() {
		if spin != nil {
			spin.Stop()
		}
	}

	endpoint := "/v1/patches/" + url.PathEscape(component)
	deadline := time.Now().Add(rolloutWaitTimeout)
	for {
		if time.Now().After(deadline) {
			stopSpin()
			return datatypes.PatchStatus{}, fmt.Errorf("rollout %s not terminal after %s", id, rolloutWaitTimeout)
		}

		ctx, cancel := requestContext()
		var list rolloutListResponse
		err := client.get(ctx, endpoint, &list)
		cancel()
		if err != nil {
			stopSpin()
			return datatypes.PatchStatus{}, err
		}

		for _, r := range list.Rollouts {
			if r.ID != id {
				continue
			}
			if spin != nil {
				spin.UpdateMessage(fmt.Sprintf("Rollout %s %s", id, r.State))
			}
			if r.State.Terminal() {
				stopSpin()
				return r, nil
			}
		}
		time.Sleep(rolloutPollInterval)
	}
}

func runPatchStatus(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	component := args[0]

	client := newAPIClient()
	ctx, cancel := requestContext()
	defer cancel()

	var list rolloutListResponse
	if err := client.get(ctx, "/v1/patches/"+url.PathEscape(component), &list); err != nil {
		OutputError(cfg.JSON, "failed to fetch the rollout history", err)
		os.Exit(CLIExitError)
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "patch status", start, list, false, nil))
	}

	if list.Count == 0 {
		ux.Info(fmt.Sprintf("No rollouts recorded for %s", component))
		return
	}

	ux.Title(fmt.Sprintf("Rollouts for %s (%d)", list.Component, list.Count))
	headers := []string{"ID", "TARGET", "STATE", "REQUESTED BY", "UPDATED", "NOTE"}
	rows := make([][]string, 0, len(list.Rollouts))
	for _, r := range list.Rollouts {
		note := "-"
		if len(r.Notes) > 0 {
			note = truncate(r.Notes[len(r.Notes)-1], 48)
		}
		requestedBy := r.RequestedBy
		if requestedBy == "" {
			requestedBy = "-"
		}
		rows = append(rows, []string{
			r.ID,
			r.TargetVersion,
			string(r.State),
			requestedBy,
			humanAge(r.UpdatedAt),
			note,
		})
	}
	fmt.Println(ux.Table(headers, rows, stateCellStyler(2)))
}

func runPatchSign(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	file := args[0]

	payload, err := os.ReadFile(file)
	if err != nil {
		OutputError(cfg.JSON, "failed to read the firmware file", err)
		os.Exit(CLIExitError)
	}

	var (
		signer   *patch.Signer
		seedUsed string
	)
	switch {
	case signNewSeedPath != "":
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			OutputError(cfg.JSON, "failed to generate a seed", err)
			os.Exit(CLIExitError)
		}
		// Persist the hex copy before sealing: NewSigner wipes the
		// seed slice.
		if err := os.WriteFile(signNewSeedPath, []byte(hex.EncodeToString(seed)), 0600); err != nil {
			OutputError(cfg.JSON, "failed to write the seed file", err)
			os.Exit(CLIExitError)
		}
		signer, err = patch.NewSigner(seed, nil)
		seedUsed = signNewSeedPath
	case resolveSeedPath(signSeedPath) != "":
		seedUsed = resolveSeedPath(signSeedPath)
		signer, err = loadSigner(seedUsed)
	default:
		OutputError(cfg.JSON, "no signing seed",
			fmt.Errorf("provide --seed, --new-seed, or signing.seed_path in the config"))
		os.Exit(CLIExitError)
	}
	if err != nil {
		OutputError(cfg.JSON, "failed to initialise the signer", err)
		os.Exit(CLIExitError)
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		OutputError(cfg.JSON, "failed to sign the payload", err)
		os.Exit(CLIExitError)
	}
	sum := sha256.Sum256(payload)

	result := SignResult{
		File:      file,
		ByteSize:  len(payload),
		Checksum:  hex.EncodeToString(sum[:]),
		Signature: base64.StdEncoding.EncodeToString(sig),
		PublicKey: hex.EncodeToString(signer.PublicKey()),
		SeedPath:  seedUsed,
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "patch sign", start, result, false, nil))
	}

	ux.Success(fmt.Sprintf("Signed %s (%d bytes)", file, result.ByteSize))
	fmt.Printf("  Checksum:   %s\n", result.Checksum)
	fmt.Printf("  Signature:  %s\n", result.Signature)
	fmt.Printf("  Public key: %s\n", result.PublicKey)
	ux.Hint("add the public key to patching.trusted_keys in the sentinel config")
}

func runPatchFetch(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	uri := args[0]

	bucket, object, err := gcs.ParseURI(uri)
	if err != nil {
		OutputError(cfg.JSON, "invalid artifact URI", err)
		os.Exit(CLIExitError)
	}
	out := fetchOut
	if out == "" {
		out = path.Base(object)
	}

	creds := config.Global.GCS.CredentialsFile
	if creds == "" {
		OutputError(cfg.JSON, "GCS is not configured",
			fmt.Errorf("set gcs.credentials_file in the config"))
		os.Exit(CLIExitError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gcsTimeout)
	defer cancel()

	store, err := gcs.NewClient(ctx, config.Global.GCS.ProjectID, bucket, creds)
	if err != nil {
		OutputError(cfg.JSON, "failed to connect to GCS", err)
		os.Exit(CLIExitError)
	}
	if err := store.FetchObject(ctx, object, out); err != nil {
		OutputError(cfg.JSON, "failed to fetch the artifact", err)
		os.Exit(CLIExitError)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		OutputError(cfg.JSON, "failed to read the fetched artifact", err)
		os.Exit(CLIExitError)
	}
	sum := sha256.Sum256(data)

	result := FetchResult{
		URI:       uri,
		LocalPath: out,
		ByteSize:  int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "patch fetch", start, result, false, nil))
	}

	ux.Success(fmt.Sprintf("Fetched %s to %s (%d bytes)", uri, out, result.ByteSize))
	fmt.Printf("  Checksum: %s\n", result.Checksum)
	ux.Hint(fmt.Sprintf("deploy it with: gridwarden patch deploy <component> %s --target-version <version>", out))
}

func runPatchPublish(cmd *cobra.Command, args []string) {
	cfg := outputConfig()
	start := time.Now()
	file := args[0]

	bucket := publishBucket
	if bucket == "" {
		bucket = config.Global.GCS.Bucket
	}
	if bucket == "" {
		OutputError(cfg.JSON, "no bucket",
			fmt.Errorf("provide --bucket or set gcs.bucket in the config"))
		os.Exit(CLIExitError)
	}
	object := publishObject
	if object == "" {
		object = filepath.Base(file)
	}

	creds := config.Global.GCS.CredentialsFile
	if creds == "" {
		OutputError(cfg.JSON, "GCS is not configured",
			fmt.Errorf("set gcs.credentials_file in the config"))
		os.Exit(CLIExitError)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		OutputError(cfg.JSON, "failed to read the firmware file", err)
		os.Exit(CLIExitError)
	}
	sum := sha256.Sum256(data)

	ctx, cancel := context.WithTimeout(context.Background(), gcsTimeout)
	defer cancel()

	store, err := gcs.NewClient(ctx, config.Global.GCS.ProjectID, bucket, creds)
	if err != nil {
		OutputError(cfg.JSON, "failed to connect to GCS", err)
		os.Exit(CLIExitError)
	}
	if err := store.UploadFile(ctx, file, object); err != nil {
		OutputError(cfg.JSON, "failed to publish the artifact", err)
		os.Exit(CLIExitError)
	}

	result := PublishResult{
		LocalPath: file,
		URI:       fmt.Sprintf("gs://%s/%s", bucket, object),
		Checksum:  hex.EncodeToString(sum[:]),
	}

	if cfg.JSON || cfg.Quiet {
		os.Exit(OutputResult(cfg, "patch publish", start, result, false, nil))
	}

	ux.Success(fmt.Sprintf("Published %s to %s", file, result.URI))
	fmt.Printf("  Checksum: %s\n", result.Checksum)
}
