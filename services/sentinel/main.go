// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command sentinel runs the GridWarden microgrid security service: it
// ingests component telemetry, classifies it through the rule and
// baseline detectors, records security events, serves the REST and
// WebSocket API, and orchestrates signed firmware rollouts.
//
// Configuration comes from a YAML file plus SENTINEL_* environment
// overrides; see the config package for the full schema. A missing
// config file starts the service on defaults, which listen on :8080
// with authentication disabled.
//
// Usage:
//
//	sentinel -config /etc/gridwarden/sentinel.yaml
//
// Useful overrides for local work:
//
//	SENTINEL_STORE_IN_MEMORY=1 SENTINEL_FEEDER_ENABLED=1 sentinel
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/config"
	"github.com/gridwarden/gridwarden/services/sentinel/detect"
	"github.com/gridwarden/gridwarden/services/sentinel/detect/ruleset"
	"github.com/gridwarden/gridwarden/services/sentinel/feeder"
	"github.com/gridwarden/gridwarden/services/sentinel/ingest"
	"github.com/gridwarden/gridwarden/services/sentinel/middleware"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
	"github.com/gridwarden/gridwarden/services/sentinel/observability"
	"github.com/gridwarden/gridwarden/services/sentinel/patch"
	"github.com/gridwarden/gridwarden/services/sentinel/registry"
	"github.com/gridwarden/gridwarden/services/sentinel/routes"
	"github.com/gridwarden/gridwarden/services/sentinel/simulate"
	"github.com/gridwarden/gridwarden/services/sentinel/sink"
	"github.com/gridwarden/gridwarden/services/sentinel/store"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	defaultPath := os.Getenv("SENTINEL_CONFIG")
	if defaultPath == "" {
		defaultPath = "sentinel.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the sentinel YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.ToLogger("sentinel"))
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error("sentinel exited", "error", err)
		os.Exit(1)
	}
}

// run boots every subsystem, serves until a signal arrives, and tears
// down in reverse boot order so late subsystems can still write through
// early ones while draining.
func run(cfg config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("telemetry shutdown incomplete", "error", err)
		}
	}()

	records, err := store.Open(cfg.Storage.ToStore(log))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			log.Warn("store close", "error", err)
		}
	}()

	reg := registry.New(records)
	persisted, err := records.ListComponents(ctx)
	if err != nil {
		return fmt.Errorf("load components: %w", err)
	}
	reg.Load(persisted)
	log.Info("component registry loaded", "components", reg.Len())

	readings := ingest.NewStore(ingest.StoreConfig{})

	hub := notify.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	snk := sink.New(cfg.Detection.ToSink(), records, hub, log)
	defer snk.Close()

	ruleData, err := loadRules(cfg.Detection.RulePath)
	if err != nil {
		return err
	}
	rules, err := detect.NewRuleDetector(ruleData)
	if err != nil {
		return fmt.Errorf("parse detection rules: %w", err)
	}
	deviation := detect.NewDeviationDetector(cfg.Detection.ToDeviation())
	log.Info("detectors ready", "rules", rules.RuleCount(),
		"rule_source", ruleSource(cfg.Detection.RulePath))

	if cfg.Detection.RulePath != "" && cfg.Detection.WatchRules {
		watcher, err := config.NewRuleWatcher(cfg.Detection.RulePath, rules.Reload, log)
		if err != nil {
			return fmt.Errorf("rule watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("rule watcher: %w", err)
		}
		defer watcher.Stop()
	}

	var archiver ingest.Archiver
	if cfg.Archive.Enabled {
		archive := store.NewArchive(cfg.Archive, log)
		defer archive.Close()
		archiver = archive
		log.Info("telemetry archive enabled", "url", cfg.Archive.URL, "bucket", cfg.Archive.Bucket)
	}

	pipeline := ingest.NewPipeline(reg, readings, []detect.Detector{rules, deviation}, snk, archiver, hub, log)
	runner := simulate.NewRunner(reg, pipeline, snk, log)

	engineCfg, err := cfg.Patching.ToEngine()
	if err != nil {
		return fmt.Errorf("patching config: %w", err)
	}
	if len(engineCfg.TrustedKeys) == 0 {
		log.Warn("no trusted signing keys configured, every rollout will be rejected")
	}
	engine := patch.New(engineCfg, reg, records, snk, hub, log)
	defer engine.Close()

	open, err := records.OpenPatches(ctx)
	if err != nil {
		return fmt.Errorf("load open rollouts: %w", err)
	}
	if n := engine.Recover(ctx, open); n > 0 {
		log.Warn("finalized rollouts interrupted by restart", "count", n)
	}

	// Removal cascade. Hooks run under the registry lock, so a reading
	// for a removed component can never race its cleanup.
	reg.OnRemove(func(name string) {
		readings.RemoveComponent(name)
		deviation.RemoveComponent(name)
		engine.RemoveComponent(name)
		if _, err := records.PurgeComponent(context.Background(), name); err != nil {
			log.Warn("purge component records", "component", name, "error", err)
		}
	})

	if cfg.Feeder.Enabled {
		feed := feeder.New(feeder.Config{
			Interval: cfg.Feeder.Interval.Std(),
			Jitter:   cfg.Feeder.Jitter.Std(),
		}, reg, pipeline, log)
		if err := feed.Start(ctx); err != nil {
			return fmt.Errorf("start feeder: %w", err)
		}
		defer feed.Stop()
	}

	meter := otel.Meter("sentinel")
	metrics, err := observability.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	registerGauges(meter, metrics, snk, hub, reg, log)

	var ring *middleware.Keyring
	if cfg.Auth.Enabled {
		entries := make(map[string]string, len(cfg.Auth.Keys))
		for _, k := range cfg.Auth.Keys {
			entries[k.Key] = k.Role
		}
		ring, err = middleware.NewKeyring(entries)
		if err != nil {
			return fmt.Errorf("build keyring: %w", err)
		}
		log.Info("api authentication enabled", "keys", ring.Len())
	} else {
		log.Warn("api authentication disabled, all callers are treated as admin")
	}
	limiter := middleware.NewRateLimiter(cfg.Auth.RatePerSecond, cfg.Auth.RateBurst, log)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("sentinel"))

	routes.SetupRoutes(router, routes.Deps{
		Registry:       reg,
		Readings:       readings,
		Pipeline:       pipeline,
		Events:         records,
		Engine:         engine,
		Runner:         runner,
		Sink:           snk,
		Hub:            hub,
		Deviation:      deviation,
		Ring:           ring,
		Limiter:        limiter,
		Metrics:        metrics,
		MetricsHandler: observability.MetricsHandler(),
		Log:            log,
		Version:        version,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("sentinel listening", "addr", cfg.Server.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	grace := cfg.Server.ShutdownGrace.Std()
	log.Info("shutting down", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// loadRules returns the detection rule bytes: the configured file when a
// path is set, the embedded defaults otherwise. A configured path that
// cannot be read is a boot failure rather than a silent fallback.
func loadRules(path string) ([]byte, error) {
	if path == "" {
		return ruleset.DefaultRules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}
	return data, nil
}

func ruleSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// registerGauges wires the scrape-time gauges to their live sources. A
// gauge that fails to register is logged and skipped; the counters are
// independent of it.
func registerGauges(meter metric.Meter, m *observability.Metrics, snk *sink.Sink, hub *notify.Hub, reg *registry.Registry, log *logging.Logger) {
	if _, err := m.RegisterPendingEventSlots(meter, func() int64 { return int64(snk.PendingSlots()) }); err != nil {
		log.Warn("register pending_event_slots gauge", "error", err)
	}
	if _, err := m.RegisterStreamSubscribers(meter, func() int64 { return int64(hub.ClientCount()) }); err != nil {
		log.Warn("register stream_subscribers gauge", "error", err)
	}
	if _, err := m.RegisterTrackedComponents(meter, func() int64 { return int64(reg.Len()) }); err != nil {
		log.Warn("register tracked_components gauge", "error", err)
	}
}
