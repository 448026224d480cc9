// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gridwarden/gridwarden/pkg/logging"
)

// ReloadFunc receives the rule file's contents once a change settles.
// Returning an error leaves the previous rules active.
type ReloadFunc func(data []byte) error

// RuleWatcher hot-reloads the detection rule file.
//
// It watches the file's parent directory rather than the file itself:
// editors and config management tools replace files by renaming a
// temp file over them, which kills a watch bound to the old inode.
// Changes are debounced so a half-written file is not parsed
// mid-save. A file that fails to read or parse keeps the previous
// rules and logs the error.
type RuleWatcher struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	log      *logging.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// NewRuleWatcher builds a watcher for path. Call Start to begin
// watching and Stop to release the inotify handle.
func NewRuleWatcher(path string, reload ReloadFunc, log *logging.Logger) (*RuleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &RuleWatcher{
		path:     abs,
		debounce: 200 * time.Millisecond,
		reload:   reload,
		log:      log,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory must exist.
func (w *RuleWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.loop()
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *RuleWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// Reloads returns how many reloads have been applied.
func (w *RuleWatcher) Reloads() uint64 { return w.reloads.Load() }

// Failures returns how many changes were rejected or unreadable.
func (w *RuleWatcher) Failures() uint64 { return w.failures.Load() }

func (w *RuleWatcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			// Write is an in-place save; Create and Rename show up
			// when a temp file is renamed over the target.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			w.apply()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("rule watcher error", "error", err)
		}
	}
}

func (w *RuleWatcher) apply() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.failures.Add(1)
		w.log.Error("rule file unreadable, keeping previous rules",
			"path", w.path, "error", err)
		return
	}
	if err := w.reload(data); err != nil {
		w.failures.Add(1)
		w.log.Error("rule reload rejected, keeping previous rules",
			"path", w.path, "error", err)
		return
	}
	w.reloads.Add(1)
	w.log.Info("detection rules reloaded", "path", w.path)
}
