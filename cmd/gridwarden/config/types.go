// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

type GridWardenConfig struct {
	// Server: how to reach the sentinel service
	Server ServerConfig `yaml:"server"`

	// Output: default rendering preferences
	Output OutputConfig `yaml:"output"`

	// GCS: firmware artifact storage for patch fetch/publish
	GCS GCSConfig `yaml:"gcs"`

	// Signing: local firmware signing material
	Signing SigningConfig `yaml:"signing"`
}

type ServerConfig struct {
	URL            string `yaml:"url"`             // e.g. http://localhost:8080
	APIKey         string `yaml:"api_key"`         // bearer key for the sentinel API
	TimeoutSeconds int    `yaml:"timeout_seconds"` // per-request timeout
}

type OutputConfig struct {
	// Format can be "table" or "json". Table output degrades to JSON
	// automatically when stdout is not a terminal.
	Format string `yaml:"format"`
}

type GCSConfig struct {
	ProjectID       string `yaml:"project_id"`
	Bucket          string `yaml:"bucket"`           // default bucket for patch publish
	CredentialsFile string `yaml:"credentials_file"` // service account key path
}

type SigningConfig struct {
	// SeedPath points at a hex-encoded ed25519 seed used by patch sign.
	SeedPath string `yaml:"seed_path"`
}

func DefaultConfig() GridWardenConfig {
	return GridWardenConfig{
		Server: ServerConfig{
			URL:            "http://localhost:8080",
			APIKey:         "",
			TimeoutSeconds: 10,
		},
		Output: OutputConfig{
			Format: "table",
		},
		GCS:     GCSConfig{},
		Signing: SigningConfig{},
	}
}
