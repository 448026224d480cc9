// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the sentinel service configuration.
//
// Priority is environment > file > defaults. The file is YAML:
//
//	server:
//	  addr: ":8080"
//	  mode: release
//	auth:
//	  enabled: true
//	  keys:
//	    - key: "0f3b2a..."
//	      role: operator
//	detection:
//	  rule_path: /etc/gridwarden/rules.yaml
//	  coalesce_window: 2s
//	patching:
//	  trusted_keys: ["4c8a91..."]
//	storage:
//	  path: /var/lib/gridwarden
//
// A missing file is not an error; the service runs on defaults. Every
// SENTINEL_* override is optional and unparseable values are ignored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

var confValidate = validator.New()

// Duration wraps time.Duration so YAML accepts "2s"-style strings.
// Bare integers are read as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration at line %d: expected a scalar", value.Line)
	}
	if value.ShortTag() == "!!int" {
		n, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full sentinel service configuration.
//
// Thread Safety: safe to read concurrently, not safe to modify after
// Load returns.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Auth          AuthConfig           `yaml:"auth"`
	Logging       LoggingConfig        `yaml:"logging"`
	Detection     DetectionConfig      `yaml:"detection"`
	Patching      PatchingConfig       `yaml:"patching"`
	Storage       StorageConfig        `yaml:"storage"`
	Archive       store.ArchiveConfig  `yaml:"archive"`
	Feeder        FeederConfig         `yaml:"feeder"`
	Observability observability.Config `yaml:"observability"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host optional.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// Mode selects the gin mode: debug, release, or test.
	Mode string `yaml:"mode" validate:"oneof=debug release test"`

	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// AuthConfig holds the static API keys and the per-key rate limit.
type AuthConfig struct {
	// Enabled turns on key checks. When false every request is
	// treated as admin; only use that in development.
	Enabled bool `yaml:"enabled"`

	Keys []KeyConfig `yaml:"keys" validate:"dive"`

	// RatePerSecond and RateBurst parameterize the per-key token
	// bucket. Zero values select the defaults.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	RateBurst     int     `yaml:"rate_burst" validate:"gte=0"`
}

// KeyConfig binds one API key to a role.
type KeyConfig struct {
	Key  string `yaml:"key" validate:"required,min=16"`
	Role string `yaml:"role" validate:"required,oneof=viewer analyst operator admin"`
}

// LoggingConfig mirrors pkg/logging knobs in YAML-friendly form.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ToLogger converts to a pkg/logging Config for the named service.
func (c LoggingConfig) ToLogger(service string) logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.Level),
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
	}
}

// DetectionConfig tunes both detectors and the event sink.
type DetectionConfig struct {
	// RulePath points at the YAML rule file. Empty selects the
	// embedded default ruleset.
	RulePath string `yaml:"rule_path"`

	// WatchRules hot-reloads RulePath on change.
	WatchRules bool `yaml:"watch_rules"`

	WindowSize int     `yaml:"window_size" validate:"gte=0"`
	MinSamples int     `yaml:"min_samples" validate:"gte=0"`
	WarnZ      float64 `yaml:"warn_z" validate:"gte=0"`
	CriticalZ  float64 `yaml:"critical_z" validate:"gte=0"`

	CoalesceWindow Duration `yaml:"coalesce_window"`
	QueueSize      int      `yaml:"queue_size" validate:"gte=0"`
}

// ToDeviation converts to the deviation detector's config.
func (c DetectionConfig) ToDeviation() detect.DeviationConfig {
	return detect.DeviationConfig{
		WindowSize: c.WindowSize,
		MinSamples: c.MinSamples,
		WarnZ:      c.WarnZ,
		CriticalZ:  c.CriticalZ,
	}
}

// ToSink converts to the event sink's config.
func (c DetectionConfig) ToSink() sink.Config {
	return sink.Config{
		CoalesceWindow: c.CoalesceWindow.Std(),
		QueueSize:      c.QueueSize,
	}
}

// PatchingConfig controls firmware rollout verification and the
// simulated apply step.
type PatchingConfig struct {
	// TrustedKeys are hex-encoded ed25519 public keys. Artifacts must
	// be signed by one of them.
	TrustedKeys []string `yaml:"trusted_keys"`

	// FailureRate is the injected apply failure probability. Zero
	// selects the stock 0.1; negative disables injection.
	FailureRate float64 `yaml:"failure_rate" validate:"lte=1"`

	// ApplyDelay stretches the simulated apply step so rollout states
	// are observable.
	ApplyDelay Duration `yaml:"apply_delay"`
}

// ToEngine parses the trusted keys and builds the rollout engine
// config.
func (c PatchingConfig) ToEngine() (patch.Config, error) {
	cfg := patch.Config{
		FailureRate: c.FailureRate,
		ApplyDelay:  c.ApplyDelay.Std(),
	}
	for i, hexKey := range c.TrustedKeys {
		key, err := patch.ParsePublicKey(strings.TrimSpace(hexKey))
		if err != nil {
			return cfg, fmt.Errorf("trusted_keys[%d]: %w", i, err)
		}
		cfg.TrustedKeys = append(cfg.TrustedKeys, key)
	}
	return cfg, nil
}

// StorageConfig locates the badger warm tier.
type StorageConfig struct {
	Path       string   `yaml:"path"`
	InMemory   bool     `yaml:"in_memory"`
	SyncWrites bool     `yaml:"sync_writes"`
	GCInterval Duration `yaml:"gc_interval"`
}

// ToStore converts to the store's config.
func (c StorageConfig) ToStore(log *logging.Logger) store.Config {
	if c.InMemory {
		cfg := store.InMemoryConfig()
		cfg.Logger = log
		return cfg
	}
	cfg := store.DefaultConfig()
	cfg.Path = c.Path
	cfg.SyncWrites = c.SyncWrites
	if c.GCInterval > 0 {
		cfg.GCInterval = c.GCInterval.Std()
	}
	cfg.Logger = log
	return cfg
}

// FeederConfig controls the synthetic baseline feeder.
type FeederConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Jitter   Duration `yaml:"jitter"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			Mode:          "release",
			ReadTimeout:   Duration(15 * time.Second),
			WriteTimeout:  Duration(15 * time.Second),
			ShutdownGrace: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			Enabled:       false,
			RatePerSecond: 20,
			RateBurst:     40,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Detection: DetectionConfig{
			WatchRules:     true,
			WindowSize:     30,
			MinSamples:     5,
			WarnZ:          3.0,
			CriticalZ:      5.0,
			CoalesceWindow: Duration(2 * time.Second),
			QueueSize:      256,
		},
		Patching: PatchingConfig{
			FailureRate: 0.1,
			ApplyDelay:  Duration(2 * time.Second),
		},
		Storage: StorageConfig{
			Path:       "data/sentinel",
			SyncWrites: true,
			GCInterval: Duration(5 * time.Minute),
		},
		Archive: store.ArchiveConfig{
			URL:    "http://localhost:8086",
			Org:    "gridwarden",
			Bucket: "telemetry",
		},
		Feeder: FeederConfig{
			Enabled:  false,
			Interval: Duration(6 * time.Second),
			Jitter:   Duration(2 * time.Second),
		},
		Observability: observability.DefaultConfig(),
	}
}

// Load merges defaults, the YAML file at path, and SENTINEL_*
// environment overrides, then validates the result.
//
// A missing file falls back to defaults; a present but invalid file is
// an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SENTINEL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SENTINEL_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("SENTINEL_LOG_JSON"); v != "" {
		cfg.Logging.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("SENTINEL_AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SENTINEL_API_KEYS"); v != "" {
		if keys := parseKeyList(v); len(keys) > 0 {
			cfg.Auth.Keys = keys
		}
	}
	if v := os.Getenv("SENTINEL_RULE_PATH"); v != "" {
		cfg.Detection.RulePath = v
	}
	if v := os.Getenv("SENTINEL_WATCH_RULES"); v != "" {
		cfg.Detection.WatchRules = v == "true" || v == "1"
	}
	if v := os.Getenv("SENTINEL_COALESCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.CoalesceWindow = Duration(d)
		}
	}
	if v := os.Getenv("SENTINEL_TRUSTED_KEYS"); v != "" {
		cfg.Patching.TrustedKeys = splitNonEmpty(v)
	}
	if v := os.Getenv("SENTINEL_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Patching.FailureRate = f
		}
	}
	if v := os.Getenv("SENTINEL_STORE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SENTINEL_STORE_IN_MEMORY"); v != "" {
		cfg.Storage.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("SENTINEL_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SENTINEL_INFLUX_URL"); v != "" {
		cfg.Archive.URL = v
	}
	if v := os.Getenv("SENTINEL_INFLUX_TOKEN"); v != "" {
		cfg.Archive.Token = v
	}
	if v := os.Getenv("SENTINEL_INFLUX_ORG"); v != "" {
		cfg.Archive.Org = v
	}
	if v := os.Getenv("SENTINEL_INFLUX_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("SENTINEL_FEEDER_ENABLED"); v != "" {
		cfg.Feeder.Enabled = v == "true" || v == "1"
	}
}

// parseKeyList reads "key:role,key:role" pairs. Malformed pairs are
// skipped, matching the lenient env handling elsewhere.
func parseKeyList(s string) []KeyConfig {
	var keys []KeyConfig
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		key, role, ok := strings.Cut(pair, ":")
		if !ok || key == "" || role == "" {
			continue
		}
		keys = append(keys, KeyConfig{Key: key, Role: role})
	}
	return keys
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks structural tags plus the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := confValidate.Struct(c); err != nil {
		return err
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	if c.Detection.CriticalZ > 0 && c.Detection.WarnZ > 0 && c.Detection.CriticalZ <= c.Detection.WarnZ {
		return fmt.Errorf("detection.critical_z must exceed detection.warn_z")
	}
	if c.Detection.MinSamples > c.Detection.WindowSize && c.Detection.WindowSize > 0 {
		return fmt.Errorf("detection.min_samples cannot exceed detection.window_size")
	}
	if c.Auth.Enabled && len(c.Auth.Keys) == 0 {
		return fmt.Errorf("auth.enabled requires at least one key")
	}
	if c.Archive.Enabled {
		if c.Archive.URL == "" || c.Archive.Org == "" || c.Archive.Bucket == "" {
			return fmt.Errorf("archive.enabled requires url, org, and bucket")
		}
	}
	if _, err := c.Patching.ToEngine(); err != nil {
		return fmt.Errorf("patching: %w", err)
	}
	return nil
}
