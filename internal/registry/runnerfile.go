// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	internallog "github.com/tombee/foreman/internal/log"
)

// runnerFile is the on-disk shape of the runners file.
type runnerFile struct {
	Runners []Runner `yaml:"runners"`
}

// LoadFile parses a runners YAML file into runner definitions.
func LoadFile(path string) ([]Runner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runners file: %w", err)
	}

	var file runnerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse runners file: %w", err)
	}

	seen := make(map[string]bool)
	for i, def := range file.Runners {
		if def.ID == "" {
			return nil, fmt.Errorf("runner %d: id is required", i)
		}
		if def.Type == "" {
			return nil, fmt.Errorf("runner %s: type is required", def.ID)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate runner id: %s", def.ID)
		}
		seen[def.ID] = true
	}
	return file.Runners, nil
}

// Apply reconciles the registry against a set of definitions: new runners
// are added, existing ones updated (preserving health and job counts),
// and runners absent from the definitions removed.
func (g *Registry) Apply(defs []Runner) {
	keep := make(map[string]bool, len(defs))
	for _, def := range defs {
		keep[def.ID] = true
		g.Register(def)
	}
	for _, r := range g.List() {
		if !keep[r.ID] {
			g.Remove(r.ID)
		}
	}
}

// Watcher reloads runner definitions into a registry when the runners
// file changes on disk.
type Watcher struct {
	path     string
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher for the given runners file. The containing
// directory is watched so editors that replace the file atomically still
// trigger a reload.
func NewWatcher(path string, reg *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		path:     absPath,
		registry: reg,
		watcher:  fsw,
		logger:   internallog.WithComponent(slog.Default(), "runner-watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for runners file changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("runner file watcher started", slog.String("path", w.path))
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("runner file watcher error", internallog.Error(err))
		}
	}
}

// reload applies the runners file to the registry. A malformed file is
// logged and skipped; the previous definitions stay in effect.
func (w *Watcher) reload() {
	defs, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload runners file", internallog.Error(err))
		return
	}
	w.registry.Apply(defs)
	w.logger.Info("runner definitions reloaded", slog.Int("count", len(defs)))
}
