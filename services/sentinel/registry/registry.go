// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry holds the authoritative set of registered microgrid
// components. Detection, simulation, and patching all refuse to act on
// a name that is not registered here, which is what enforces the
// referential integrity of readings and rollouts.
//
// Component identity is immutable. Firmware version changes only through
// SetFirmware (called by the patch orchestrator on a succeeded rollout)
// and criticality only through SetCriticality (the administrative
// action). Removing a component cascades: the persistent store drops its
// records and every registered OnRemove hook runs, which is how baseline
// state and telemetry buffers are discarded.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gridwarden/gridwarden/pkg/validation"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

var (
	// ErrUnknownComponent is returned for any operation naming a
	// component that was never registered or has been removed.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrDuplicateComponent is returned when registering a name twice.
	ErrDuplicateComponent = errors.New("component already registered")
)

// Store is the persistence surface the registry writes through to. The
// badger-backed store implements it; tests use an in-memory fake.
type Store interface {
	PutComponent(ctx context.Context, c datatypes.Component) error
	DeleteComponent(ctx context.Context, name string) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	components map[string]datatypes.Component
	store      Store
	onRemove   []func(name string)
	now        func() time.Time
}

// New creates a Registry writing through to store. A nil store keeps the
// registry purely in memory, which the tests use.
func New(store Store) *Registry {
	return &Registry{
		components: make(map[string]datatypes.Component),
		store:      store,
		now:        time.Now,
	}
}

// OnRemove registers a cleanup hook invoked after a component is
// removed. Hooks run synchronously in registration order while the
// removal still holds the registry lock, so a reading for the removed
// component can never interleave with its cleanup.
func (r *Registry) OnRemove(hook func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, hook)
}

// Load seeds the registry from previously persisted components. Called
// once at boot before the service accepts traffic.
func (r *Registry) Load(components []datatypes.Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range components {
		r.components[c.Name] = c
	}
}

// Register adds a new component. Name format and criticality tier are
// validated here so nothing downstream ever sees a malformed identity.
func (r *Registry) Register(ctx context.Context, c datatypes.Component) (datatypes.Component, error) {
	if err := validation.ComponentName(c.Name); err != nil {
		return datatypes.Component{}, err
	}
	if !c.Criticality.Valid() {
		return datatypes.Component{}, fmt.Errorf("invalid criticality %q", c.Criticality)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[c.Name]; exists {
		return datatypes.Component{}, fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Name)
	}

	now := r.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	if r.store != nil {
		if err := r.store.PutComponent(ctx, c); err != nil {
			return datatypes.Component{}, fmt.Errorf("persist component %s: %w", c.Name, err)
		}
	}
	r.components[c.Name] = c
	return c, nil
}

// Get returns the component by name.
func (r *Registry) Get(name string) (datatypes.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	if !ok {
		return datatypes.Component{}, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	return c, nil
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[name]
	return ok
}

// List returns all components sorted by name.
func (r *Registry) List() []datatypes.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]datatypes.Component, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// SetFirmware records a new firmware version. Reserved for the patch
// orchestrator's succeeded transition.
func (r *Registry) SetFirmware(ctx context.Context, name, version string) (datatypes.Component, error) {
	return r.update(ctx, name, func(c *datatypes.Component) {
		c.FirmwareVersion = version
	})
}

// SetCriticality applies the administrative criticality change.
func (r *Registry) SetCriticality(ctx context.Context, name string, tier datatypes.Criticality) (datatypes.Component, error) {
	if !tier.Valid() {
		return datatypes.Component{}, fmt.Errorf("invalid criticality %q", tier)
	}
	return r.update(ctx, name, func(c *datatypes.Component) {
		c.Criticality = tier
	})
}

func (r *Registry) update(ctx context.Context, name string, mutate func(*datatypes.Component)) (datatypes.Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[name]
	if !ok {
		return datatypes.Component{}, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	mutate(&c)
	c.UpdatedAt = r.now()

	if r.store != nil {
		if err := r.store.PutComponent(ctx, c); err != nil {
			return datatypes.Component{}, fmt.Errorf("persist component %s: %w", name, err)
		}
	}
	r.components[name] = c
	return c, nil
}

// Remove deletes a component and cascades: persisted records go first,
// then the in-memory entry, then the cleanup hooks.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.components[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	if r.store != nil {
		if err := r.store.DeleteComponent(ctx, name); err != nil {
			return fmt.Errorf("cascade delete %s: %w", name, err)
		}
	}
	delete(r.components, name)
	for _, hook := range r.onRemove {
		hook(name)
	}
	return nil
}
