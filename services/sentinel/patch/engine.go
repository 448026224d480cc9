// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patch orchestrates firmware rollouts as an explicit state
// machine.
//
// Every rollout walks pending, verifying, then either rejected (bad
// artifact), or applying followed by succeeded or failed. The allowed
// edges live in one transition table validated on every move; nothing
// mutates a PatchStatus except through that table. Rollouts are
// serialized per component with an atomic check-and-set, so two
// concurrent requests can never both hold the applying state.
package patch

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

var (
	// ErrInvalidTransition is returned for any edge not in the
	// transition table, including every move out of a terminal state.
	ErrInvalidTransition = errors.New("invalid patch transition")

	// ErrRolloutInProgress is returned when a component already has a
	// rollout in a non-terminal state.
	ErrRolloutInProgress = errors.New("rollout already in progress")

	// ErrUnknownRollout is returned for IDs the engine has never seen.
	ErrUnknownRollout = errors.New("unknown rollout")
)

// transitions is the complete set of legal state machine edges.
// Terminal states deliberately have no entry.
var transitions = map[datatypes.PatchState][]datatypes.PatchState{
	datatypes.PatchPending:   {datatypes.PatchVerifying},
	datatypes.PatchVerifying: {datatypes.PatchApplying, datatypes.PatchRejected},
	datatypes.PatchApplying:  {datatypes.PatchSucceeded, datatypes.PatchFailed},
}

func transitionAllowed(from, to datatypes.PatchState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComponentDirectory is the registry surface the engine needs: current
// firmware for the strictly-newer gate, and the single write path that
// records a succeeded rollout.
type ComponentDirectory interface {
	Get(name string) (datatypes.Component, error)
	SetFirmware(ctx context.Context, name, version string) (datatypes.Component, error)
}

// Store receives every PatchStatus state change exactly once.
type Store interface {
	PutPatch(ctx context.Context, status datatypes.PatchStatus) error
}

// Broadcaster receives every PatchStatus state change exactly once,
// after persistence. Implementations must not block.
type Broadcaster interface {
	BroadcastPatch(status datatypes.PatchStatus)
}

// EventSubmitter receives the patch-integrity finding minted when a
// rollout is rejected. Implemented by sink.Sink.
type EventSubmitter interface {
	Submit(finding datatypes.Finding, actor string) (string, error)
}

// Config tunes the engine.
type Config struct {
	// TrustedKeys verify artifact signatures. An empty set rejects
	// every rollout.
	TrustedKeys []ed25519.PublicKey

	// FailureRate is the probability the simulated apply step fails.
	// Zero selects the stock 0.1; negative disables fault injection.
	FailureRate float64

	// ApplyDelay stretches the simulated apply step.
	ApplyDelay time.Duration

	// ApplyFault, when set, replaces the random fault source. Tests
	// use it for deterministic failure injection.
	ApplyFault func() bool
}

// EnsureDefaults fills unset fields with the stock tuning.
func (c *Config) EnsureDefaults() {
	if c.FailureRate == 0 {
		c.FailureRate = 0.1
	}
}

// Engine drives rollout state machines for all components.
type Engine struct {
	cfg        Config
	components ComponentDirectory
	store      Store
	events     EventSubmitter
	bcast      Broadcaster
	log        *logging.Logger
	now        func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	active   map[string]string
	rollouts map[string]*rollout

	wg sync.WaitGroup
}

type rollout struct {
	mu     sync.Mutex
	status datatypes.PatchStatus
	done   chan struct{}
}

func (r *rollout) snapshot() datatypes.PatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Clone()
}

// New builds an engine. Store, events, and bcast may be nil; the
// corresponding hand-off is skipped.
func New(cfg Config, components ComponentDirectory, store Store, events EventSubmitter, bcast Broadcaster, log *logging.Logger) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		cfg:        cfg,
		components: components,
		store:      store,
		events:     events,
		bcast:      bcast,
		log:        log,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
		active:     make(map[string]string),
		rollouts:   make(map[string]*rollout),
	}
}

// Request starts a rollout and drives it through verification.
//
// On return the rollout is either applying (apply continues on a
// background goroutine; watch it with AwaitTerminal) or already
// rejected. A rejected artifact is a recorded outcome, not a request
// error: the caller gets the terminal status and a patch-integrity
// SecurityEvent is emitted, while the error return stays nil. Errors
// are reserved for requests that create no rollout at all: unknown
// component or a rollout already in progress.
func (e *Engine) Request(ctx context.Context, req datatypes.RolloutRequest) (datatypes.PatchStatus, error) {
	comp, err := e.components.Get(req.Component)
	if err != nil {
		return datatypes.PatchStatus{}, err
	}

	lock := e.componentLock(req.Component)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if activeID, busy := e.active[req.Component]; busy {
		e.mu.Unlock()
		return datatypes.PatchStatus{}, fmt.Errorf("%w: rollout %s", ErrRolloutInProgress, activeID)
	}
	now := e.now().UTC()
	ro := &rollout{
		status: datatypes.PatchStatus{
			ID:            uuid.NewString(),
			Component:     req.Component,
			TargetVersion: req.TargetVersion,
			State:         datatypes.PatchPending,
			RequestedBy:   req.RequestedBy,
			Notes:         []string{fmt.Sprintf("rollout requested, artifact checksum sha256:%s", req.Checksum)},
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		done: make(chan struct{}),
	}
	e.rollouts[ro.status.ID] = ro
	e.active[req.Component] = ro.status.ID
	e.mu.Unlock()

	e.publish(ctx, ro.snapshot())
	e.mustTransition(ctx, ro, datatypes.PatchVerifying, "artifact verification started")

	if verifyErr := e.verify(req, comp.FirmwareVersion); verifyErr != nil {
		e.mustTransition(ctx, ro, datatypes.PatchRejected, "rejected: "+verifyErr.Error())
		e.emitIntegrityEvent(ro.snapshot(), verifyErr, req.RequestedBy)
		return ro.snapshot(), nil
	}

	e.mustTransition(ctx, ro, datatypes.PatchApplying, "artifact verified, apply scheduled")
	e.wg.Add(1)
	go e.apply(ro, req.Component, req.TargetVersion)

	return ro.snapshot(), nil
}

func (e *Engine) verify(req datatypes.RolloutRequest, currentVersion string) error {
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return fmt.Errorf("%w: malformed payload encoding", ErrSignatureInvalid)
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", ErrSignatureInvalid)
	}
	return VerifyArtifact(payload, req.Checksum, signature, e.cfg.TrustedKeys, currentVersion, req.TargetVersion)
}

// apply simulates the rollout's apply step off the request goroutine.
func (e *Engine) apply(ro *rollout, component, version string) {
	defer e.wg.Done()
	ctx := context.Background()

	if e.cfg.ApplyDelay > 0 {
		time.Sleep(e.cfg.ApplyDelay)
	}

	if e.injectFault() {
		e.mustTransition(ctx, ro, datatypes.PatchFailed, "apply failed: injected fault")
		return
	}
	if _, err := e.components.SetFirmware(ctx, component, version); err != nil {
		e.mustTransition(ctx, ro, datatypes.PatchFailed, "apply failed: firmware update: "+err.Error())
		return
	}
	e.mustTransition(ctx, ro, datatypes.PatchSucceeded, "firmware updated to "+version)
}

func (e *Engine) injectFault() bool {
	if e.cfg.ApplyFault != nil {
		return e.cfg.ApplyFault()
	}
	if e.cfg.FailureRate <= 0 {
		return false
	}
	return rand.Float64() < e.cfg.FailureRate
}

// transition moves a rollout along one table edge and publishes the
// change. Illegal edges, including any move out of a terminal state,
// fail with ErrInvalidTransition and change nothing.
func (e *Engine) transition(ctx context.Context, ro *rollout, to datatypes.PatchState, note string) error {
	ro.mu.Lock()
	from := ro.status.State
	if !transitionAllowed(from, to) {
		ro.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	ro.status.State = to
	ro.status.UpdatedAt = e.now().UTC()
	ro.status.Notes = append(ro.status.Notes, note)
	snap := ro.status.Clone()
	ro.mu.Unlock()

	if to.Terminal() {
		e.mu.Lock()
		if e.active[snap.Component] == snap.ID {
			delete(e.active, snap.Component)
		}
		e.mu.Unlock()
		close(ro.done)
	}

	e.publish(ctx, snap)
	return nil
}

// mustTransition is for edges the engine itself sequences; a failure
// here is a bug, reported loudly rather than swallowed.
func (e *Engine) mustTransition(ctx context.Context, ro *rollout, to datatypes.PatchState, note string) {
	if err := e.transition(ctx, ro, to, note); err != nil && e.log != nil {
		e.log.Error("patch state machine violation",
			"error", err, "rollout_id", ro.snapshot().ID, "to", string(to))
	}
}

func (e *Engine) publish(ctx context.Context, snap datatypes.PatchStatus) {
	if e.store != nil {
		if err := e.store.PutPatch(ctx, snap); err != nil && e.log != nil {
			e.log.Error("persist patch status",
				"error", err, "rollout_id", snap.ID, "state", string(snap.State))
		}
	}
	if e.bcast != nil {
		e.bcast.BroadcastPatch(snap)
	}
}

func (e *Engine) emitIntegrityEvent(snap datatypes.PatchStatus, reason error, actor string) {
	if e.events == nil {
		return
	}
	_, err := e.events.Submit(datatypes.Finding{
		Detector:  "patch-orchestrator",
		Component: snap.Component,
		Category:  datatypes.CategoryPatchIntegrity,
		Severity:  datatypes.SeverityCritical,
		Details:   fmt.Sprintf("patch %s for %s rejected: %v", snap.TargetVersion, snap.Component, reason),
		Context: map[string]any{
			"rollout_id":     snap.ID,
			"target_version": snap.TargetVersion,
		},
	}, actor)
	if err != nil && e.log != nil {
		e.log.Error("submit patch-integrity event", "error", err, "rollout_id", snap.ID)
	}
}

func (e *Engine) componentLock(component string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[component]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[component] = lock
	}
	return lock
}

// Get returns the engine's view of a rollout.
func (e *Engine) Get(id string) (datatypes.PatchStatus, error) {
	e.mu.Lock()
	ro, ok := e.rollouts[id]
	e.mu.Unlock()
	if !ok {
		return datatypes.PatchStatus{}, fmt.Errorf("%w: %s", ErrUnknownRollout, id)
	}
	return ro.snapshot(), nil
}

// List returns every rollout this engine instance has seen, newest
// first. Historical rollouts from previous runs live in the store.
func (e *Engine) List() []datatypes.PatchStatus {
	e.mu.Lock()
	out := make([]datatypes.PatchStatus, 0, len(e.rollouts))
	for _, ro := range e.rollouts {
		out = append(out, ro.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AwaitTerminal blocks until the rollout reaches a terminal state or
// ctx expires, returning the status either way.
func (e *Engine) AwaitTerminal(ctx context.Context, id string) (datatypes.PatchStatus, error) {
	e.mu.Lock()
	ro, ok := e.rollouts[id]
	e.mu.Unlock()
	if !ok {
		return datatypes.PatchStatus{}, fmt.Errorf("%w: %s", ErrUnknownRollout, id)
	}

	select {
	case <-ro.done:
		return ro.snapshot(), nil
	case <-ctx.Done():
		return ro.snapshot(), ctx.Err()
	}
}

// Recover finalizes rollouts found non-terminal at boot. A restart
// mid-rollout leaves the apply outcome unknowable, so the record is
// closed as failed with an explanatory note. This is the one
// administrative write that bypasses the transition table; the live
// machine never takes this path.
func (e *Engine) Recover(ctx context.Context, statuses []datatypes.PatchStatus) int {
	recovered := 0
	for _, status := range statuses {
		if status.State.Terminal() {
			continue
		}
		status.State = datatypes.PatchFailed
		status.UpdatedAt = e.now().UTC()
		status.Notes = append(status.Notes, "finalized at startup: service restarted mid-rollout")
		e.publish(ctx, status)
		recovered++
		if e.log != nil {
			e.log.Warn("finalized interrupted rollout",
				"rollout_id", status.ID, "component", status.Component)
		}
	}
	return recovered
}

// RemoveComponent drops per-component serialization state. Wired as a
// registry removal hook; rollout history stays readable by ID.
func (e *Engine) RemoveComponent(component string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, component)
	delete(e.active, component)
}

// Close waits for in-flight apply goroutines to finish.
func (e *Engine) Close() {
	e.wg.Wait()
}
