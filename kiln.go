// Copyright 2020 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kiln is the compilation core's public surface: a Compiler that
// wires the build pipeline, module-group derivation, partial-bundling
// engine, persistent cache, incremental update engine and file watcher
// into the four operations an embedder calls (construct, compile, update,
// context), the same role private/buf/bufctl's Controller plays over the
// teacher's heavier internal packages.
package kiln

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilnconfig"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnbuild"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilncache"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnctx"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngroup"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnupdate"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnwatcher"
)

// UpdateType mirrors spec.md §6's UpdateType for embedders outside the
// kilnupdate package.
type UpdateType = kilnupdate.Type

const (
	Added   = kilnupdate.Added
	Updated = kilnupdate.Updated
	Removed = kilnupdate.Removed
)

// PathUpdate is one entry of update()'s paths argument.
type PathUpdate = kilnupdate.PathUpdate

// UpdateResult is spec.md §6's UpdateResult.
type UpdateResult = kilnupdate.Result

// Compiler is the embedder-facing compilation core: construct once per
// project, call Compile for a full build, Update for an HMR pass, and
// Context for read-only access to the lockable subgraphs.
type Compiler struct {
	logger *zap.Logger
	cfg    *kilnconfig.Config

	cctx    *kilnctx.Context
	builder *kilnbuild.Builder

	bundleConfig kilnbundle.Config
	sizer        kilnbundle.Sizer

	mu           sync.RWMutex
	entryNames   map[kilnmodule.ID]string
	groupEntries []kilngroup.Entry
	update       *kilnupdate.Engine
	watcher      *kilnwatcher.Watcher
}

// New constructs a Compiler over an already-validated config and plugin
// set, running config_resolved against every plugin, per spec.md §6:
// "construct and run config, config_resolved, and plugin registration."
// It does not run the build pipeline; call Compile for that.
func New(ctx context.Context, logger *zap.Logger, cfg *kilnconfig.Config, plugins []kilnplugin.Plugin) (*Compiler, error) {
	driver := kilnplugin.NewDriver(logger, plugins)
	for _, p := range driver.Plugins() {
		if _, err := p.ConfigHook(ctx, cfg); err != nil {
			return nil, fmt.Errorf("kiln: plugin %q config hook: %w", p.Name(), err)
		}
	}
	for _, p := range driver.Plugins() {
		if err := p.ConfigResolvedHook(ctx, cfg); err != nil {
			return nil, fmt.Errorf("kiln: plugin %q config_resolved hook: %w", p.Name(), err)
		}
	}

	bundleConfig, err := cfg.BundleConfig()
	if err != nil {
		return nil, err
	}

	cache := kilncache.New(logger, cfg.CacheDir, cfg.CacheNamespace, string(cfg.Mode))
	cctx := kilnctx.New(logger, cfg, cache, driver)
	builder := kilnbuild.New(logger, cctx, 0)

	c := &Compiler{
		logger:       logger.Named("kiln"),
		cfg:          cfg,
		cctx:         cctx,
		builder:      builder,
		bundleConfig: bundleConfig,
		entryNames:   make(map[kilnmodule.ID]string, len(cfg.Entries)),
	}
	c.sizer = func(id kilnmodule.ID) int {
		m, ok := cctx.Graph.Module(id)
		if !ok {
			return 0
		}
		return len(m.Content)
	}
	return c, nil
}

// entryNamer looks up a resolved entry id's configured name, for
// kilnbundle.AssignPots's base-name derivation (spec.md §4.5 step C).
func (c *Compiler) entryNamer(id kilnmodule.ID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.entryNames[id]
	return name, ok
}

// deriveGroups dispatches analyze_module_graph (spec.md §4.3 step 6); if no
// plugin claims it, it falls back to the default BFS/DFS-based
// kilngroup.Derive pass.
func (c *Compiler) deriveGroups(ctx context.Context, entries []kilngroup.Entry) (*kilngroup.Graph, error) {
	res, err := c.cctx.Driver.AnalyzeModuleGraph(ctx, c.cctx.Graph)
	if err != nil {
		return nil, err
	}
	if res.Found {
		return res.Groups, nil
	}
	return kilngroup.Derive(c.cctx.Graph, entries), nil
}

// partition dispatches partial_bundling (spec.md §4.3 step 7); if no
// plugin claims it, it falls back to the default bucket-generation/
// AssignPots pass.
func (c *Compiler) partition(ctx context.Context, moduleIDs []kilnmodule.ID, groups *kilngroup.Graph) ([]kilnbundle.Pot, error) {
	res, err := c.cctx.Driver.PartialBundling(ctx, kilnplugin.PartialBundlingRequest{
		ModuleIDs: moduleIDs,
		Graph:     c.cctx.Graph,
		Groups:    groups,
	})
	if err != nil {
		return nil, err
	}
	if res.Found {
		return res.Pots, nil
	}
	buckets := kilnbundle.GenerateBuckets(c.cctx.Graph, groups, c.bundleConfig, c.sizer)
	return kilnbundle.AssignPots(c.cctx.Graph, buckets, c.bundleConfig, c.entryNamer, c.sizer), nil
}

// Compile runs spec.md §4.3-§4.5 in full: the build pipeline, module-group
// derivation, and partial bundling. It reseeds the update engine with the
// freshly resolved entry ids, since an embedder's first Update call always
// follows a Compile.
func (c *Compiler) Compile(ctx context.Context) (kilnbuild.Result, error) {
	buildEntries := make([]kilnbuild.EntrySpec, len(c.cfg.Entries))
	for i, e := range c.cfg.Entries {
		buildEntries[i] = kilnbuild.EntrySpec{Name: e.Name, Path: e.Path}
	}

	result, err := c.builder.Run(ctx, buildEntries)
	if err != nil {
		return result, err
	}

	groupEntries := make([]kilngroup.Entry, len(result.EntryIDs))
	c.mu.Lock()
	for i, id := range result.EntryIDs {
		c.entryNames[id] = c.cfg.Entries[i].Name
		groupEntries[i] = kilngroup.Entry{ID: id, Name: c.cfg.Entries[i].Name}
	}
	c.groupEntries = groupEntries
	c.mu.Unlock()

	groups, err := c.deriveGroups(ctx, groupEntries)
	if err != nil {
		return result, err
	}
	c.cctx.SetGroups(groups)

	pots, err := c.partition(ctx, c.cctx.Graph.IDs(), groups)
	if err != nil {
		return result, err
	}
	c.cctx.SetPots(pots)

	if _, err := c.builder.RenderPots(ctx, pots); err != nil {
		return result, err
	}

	c.mu.Lock()
	c.update = kilnupdate.New(c.logger, c.cctx, c.builder, groupEntries, c.bundleConfig, c.sizer, c.entryNamer)
	c.mu.Unlock()

	return result, nil
}

// Update runs spec.md §4.7's incremental pathway. Compile must have run at
// least once.
func (c *Compiler) Update(ctx context.Context, updates []PathUpdate, notify func(), sync bool) (UpdateResult, error) {
	c.mu.RLock()
	engine := c.update
	c.mu.RUnlock()
	if engine == nil {
		return UpdateResult{}, fmt.Errorf("kiln: Update called before the first Compile")
	}
	return engine.Run(ctx, updates, notify, sync)
}

// Context returns the CompilationContext, per spec.md §6: "read-only
// accessor exposing the lockable subgraphs." Every field it exposes
// locks independently; callers never need a lock on the Compiler itself.
func (c *Compiler) Context() *kilnctx.Context {
	return c.cctx
}

// Watch starts the file watcher over paths (spec.md §5's file-watch change
// fan-in), coalescing OS events into Updated PathUpdates (paths made
// relative to the project root, the form module ids use) and driving them
// through Update asynchronously. changeErr, if non-nil, receives any error
// an async Update returns; it may be nil to discard them.
func (c *Compiler) Watch(paths []string, notify func(), changeErr func(error)) error {
	w, err := kilnwatcher.New(c.logger, 0, func(changed []string) {
		updates := make([]PathUpdate, len(changed))
		for i, p := range changed {
			if rel, err := filepath.Rel(c.cfg.ProjectRoot, p); err == nil {
				p = filepath.ToSlash(rel)
			}
			updates[i] = PathUpdate{Path: p, Type: Updated}
		}
		if _, err := c.Update(context.Background(), updates, notify, false); err != nil && changeErr != nil {
			changeErr(err)
		}
	})
	if err != nil {
		return err
	}
	if err := w.Watch(paths); err != nil {
		_ = w.Close()
		return err
	}
	c.mu.Lock()
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	c.watcher = w
	c.mu.Unlock()
	return nil
}

// StopWatching closes the active watcher started by Watch, if any.
func (c *Compiler) StopWatching() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
