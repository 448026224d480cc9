// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("record not found")

// Key layout. Records are JSON under typed prefixes; events carry a
// second time-ordered index entry so listings can walk newest-first
// without loading the whole key space.
//
//	component:<name>              -> Component
//	event:<id>                    -> SecurityEvent
//	evtix:<created-nanos>:<id>    -> <id>
//	patch:<rollout-id>            -> PatchStatus
const (
	componentPrefix  = "component:"
	eventPrefix      = "event:"
	eventIndexPrefix = "evtix:"
	patchPrefix      = "patch:"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000

	// purgeBatch bounds deletes per transaction, keeping cascades
	// under badger's transaction size limit.
	purgeBatch = 128
)

func componentKey(name string) []byte {
	return []byte(componentPrefix + name)
}

func eventKey(id string) []byte {
	return []byte(eventPrefix + id)
}

func eventIndexKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", eventIndexPrefix, createdAt.UnixNano(), id))
}

func patchKey(id string) []byte {
	return []byte(patchPrefix + id)
}

func (s *Store) putJSON(ctx context.Context, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) getJSON(ctx context.Context, key []byte, v any) error {
	return s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// =============================================================================
// Components
// =============================================================================

// PutComponent writes one component record, overwriting any previous
// version. Satisfies the registry's persistence interface.
func (s *Store) PutComponent(ctx context.Context, c datatypes.Component) error {
	return s.putJSON(ctx, componentKey(c.Name), c)
}

// DeleteComponent removes the component record itself. Dependent events
// and rollouts are removed separately by PurgeComponent.
func (s *Store) DeleteComponent(ctx context.Context, name string) error {
	return s.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(componentKey(name))
	})
}

// GetComponent reads one component record.
func (s *Store) GetComponent(ctx context.Context, name string) (datatypes.Component, error) {
	var c datatypes.Component
	if err := s.getJSON(ctx, componentKey(name), &c); err != nil {
		return datatypes.Component{}, err
	}
	return c, nil
}

// ListComponents returns every stored component, sorted by name. Used
// to reseed the in-memory registry at boot.
func (s *Store) ListComponents(ctx context.Context) ([]datatypes.Component, error) {
	var out []datatypes.Component
	prefix := []byte(componentPrefix)

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c datatypes.Component
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are name-ordered already; the sort documents the contract.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// Security Events
// =============================================================================

// PutEvent writes one sealed event and its time index entry. Rewriting
// the same event is idempotent.
func (s *Store) PutEvent(ctx context.Context, event datatypes.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(event.ID), data); err != nil {
			return err
		}
		return txn.Set(eventIndexKey(event.CreatedAt, event.ID), []byte(event.ID))
	})
}

// GetEvent reads one event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (datatypes.SecurityEvent, error) {
	var e datatypes.SecurityEvent
	if err := s.getJSON(ctx, eventKey(id), &e); err != nil {
		return datatypes.SecurityEvent{}, err
	}
	return e, nil
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	// Component matches the component tag events carry in context.
	Component string

	// Category and Severity match exactly when set.
	Category datatypes.Category
	Severity datatypes.Severity

	// Since excludes events created before it.
	Since time.Time

	// Limit caps the result count. Zero selects the default page size.
	Limit int
}

func (f EventFilter) matches(e datatypes.SecurityEvent) bool {
	if f.Component != "" {
		comp, _ := e.Context["component"].(string)
		if comp != f.Component {
			return false
		}
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

// ListEvents walks the time index newest-first, applying the filter
// until the limit fills or the window is exhausted.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]datatypes.SecurityEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	out := make([]datatypes.SecurityEvent, 0, limit)
	prefix := []byte(eventIndexPrefix)

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the prefix space, then walk backwards through it.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(eventKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Index entry outlived its event; skip.
				continue
			}
			if err != nil {
				return err
			}
			var e datatypes.SecurityEvent
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}

			// Index keys are time-ordered, so everything past this
			// point is older still.
			if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
				return nil
			}
			if !filter.matches(e) {
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Patch Rollouts
// =============================================================================

// PutPatch writes the current status of one rollout. The patch engine
// calls this on every state change, so the stored record is always the
// newest snapshot.
func (s *Store) PutPatch(ctx context.Context, status datatypes.PatchStatus) error {
	return s.putJSON(ctx, patchKey(status.ID), status)
}

// GetPatch reads one rollout by ID.
func (s *Store) GetPatch(ctx context.Context, id string) (datatypes.PatchStatus, error) {
	var p datatypes.PatchStatus
	if err := s.getJSON(ctx, patchKey(id), &p); err != nil {
		return datatypes.PatchStatus{}, err
	}
	return p, nil
}

// ListPatches returns stored rollouts newest-first, optionally scoped
// to one component. Rollout counts stay small, so this is a plain scan.
func (s *Store) ListPatches(ctx context.Context, component string, limit int) ([]datatypes.PatchStatus, error) {
	var out []datatypes.PatchStatus
	prefix := []byte(patchPrefix)

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p datatypes.PatchStatus
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if component != "" && p.Component != component {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OpenPatches returns rollouts stored in a non-terminal state. Called
// once at boot so the patch engine can finalize work interrupted by a
// restart.
func (s *Store) OpenPatches(ctx context.Context) ([]datatypes.PatchStatus, error) {
	all, err := s.ListPatches(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, p := range all {
		if !p.State.Terminal() {
			open = append(open, p)
		}
	}
	return open, nil
}

// =============================================================================
// Cascade removal
// =============================================================================

// PurgeComponent removes the events and rollouts belonging to a
// decommissioned component. Wired as a registry removal hook; the
// component record itself is removed by DeleteComponent.
func (s *Store) PurgeComponent(ctx context.Context, name string) (int, error) {
	var doomed [][]byte

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e datatypes.SecurityEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			comp, _ := e.Context["component"].(string)
			if comp != name {
				continue
			}
			doomed = append(doomed, eventKey(e.ID), eventIndexKey(e.CreatedAt, e.ID))
		}

		prefix = []byte(patchPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p datatypes.PatchStatus
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			if p.Component == name {
				doomed = append(doomed, patchKey(p.ID))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(doomed); start += purgeBatch {
		end := min(start+purgeBatch, len(doomed))
		err := s.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, key := range doomed[start:end] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("purge %s records: %w", name, err)
		}
	}
	return len(doomed), nil
}
