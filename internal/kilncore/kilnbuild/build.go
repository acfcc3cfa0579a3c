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

// Package kilnbuild implements the build pipeline of spec.md §4.3: a
// parallel resolve->load->transform->parse->analyze-deps traversal driven
// by a work-stealing task queue, not nested async control flow (spec.md
// §9). Concurrency is bounded by a golang.org/x/sync/semaphore.Weighted and
// tasks are fanned out with golang.org/x/sync/errgroup, the same pairing
// private/buf/bufcurl and the teacher's worker-pool call sites use for
// bounded parallel I/O. Per-module and per-resolve errors are aggregated
// with go.uber.org/multierr, mirroring internal/pkg/storage/storageutil.Copy.
package kilnbuild

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kilnbuild/kiln/internal/kilncore/kilncache"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnctx"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilnerr"
)

// EntrySpec is one configured build entry, as the caller (the root
// Compiler) extracts it from kilnconfig.Config (spec.md §4.3 step 1).
type EntrySpec struct {
	Name string
	Path string
}

// Builder runs the build pipeline once per compile or per affected-module
// set during an update (spec.md §4.7 step 3 re-runs the same per-module
// work unit starting from load).
type Builder struct {
	logger *zap.Logger
	cctx   *kilnctx.Context
	sem    *semaphore.Weighted
}

// New returns a Builder bounding concurrent work units to concurrency
// (spec.md §5: "a shared worker pool sized by available CPU count"). A
// concurrency of 0 or less defaults to runtime.NumCPU().
func New(logger *zap.Logger, cctx *kilnctx.Context, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Builder{
		logger: logger.Named("kilnbuild"),
		cctx:   cctx,
		sem:    semaphore.NewWeighted(int64(concurrency)),
	}
}

// Result is what one full pass of the build pipeline produces.
type Result struct {
	EntryIDs []kilnmodule.ID
	Added    []kilnmodule.ID
}

// Run dispatches spec.md §4.3 steps 1-5: a synthetic resolve per entry,
// recursive module discovery via the plugin driver, and the per-module work
// unit on the bounded worker pool, terminating with build_end followed by
// optimize_module_graph. It returns the resolved entry ids (in entries
// order) and every module id newly inserted into the graph during this run.
func (b *Builder) Run(ctx context.Context, entries []EntrySpec) (Result, error) {
	if err := b.cctx.Driver.BuildStart(ctx); err != nil {
		return Result{}, err
	}

	eg, egctx := errgroup.WithContext(ctx)
	var (
		mu      sync.Mutex
		errs    error
		added   []kilnmodule.ID
		entryID = make([]kilnmodule.ID, len(entries))
	)
	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierr.Append(errs, err)
	}
	recordAdded := func(id kilnmodule.ID) {
		mu.Lock()
		defer mu.Unlock()
		added = append(added, id)
	}

	var spawnWorkUnit func(id kilnmodule.ID, immutable bool)
	var spawnResolve func(req kilnplugin.ResolveRequest, importer kilnmodule.ID)

	spawnResolve = func(req kilnplugin.ResolveRequest, importer kilnmodule.ID) {
		eg.Go(func() error {
			if err := b.sem.Acquire(egctx, 1); err != nil {
				return err
			}
			res, err := b.cctx.Driver.Resolve(egctx, req)
			b.sem.Release(1)
			if err != nil {
				resolveErr := kilnerr.NewResolveError(req.Source, req.Importer.String(), err.Error())
				recordErr(resolveErr)
				return resolveErr
			}
			if !res.Found {
				resolveErr := kilnerr.NewResolveError(req.Source, req.Importer.String(), "no plugin resolved this specifier")
				recordErr(resolveErr)
				return resolveErr
			}

			id := kilnmodule.NewID(res.ResolvedPath, res.Query)
			created := b.cctx.Graph.EnsurePending(id)
			if !importer.IsZero() {
				b.cctx.Graph.AddEdge(importer, id, kilnmodule.Edge{Source: req.Source, Kind: req.Kind})
			}

			if res.External {
				if created {
					b.cctx.Graph.Finalize(kilnmodule.Module{ID: id, External: true, Meta: res.Meta})
				}
				return nil
			}

			if created {
				if res.Meta != nil {
					b.cctx.Meta.Set(resolveMetaKey(id), res.Meta)
				}
				recordAdded(id)
				spawnWorkUnit(id, res.Immutable)
			}
			return nil
		})
	}

	spawnWorkUnit = func(id kilnmodule.ID, immutable bool) {
		eg.Go(func() error {
			if err := b.sem.Acquire(egctx, 1); err != nil {
				return err
			}
			defer b.sem.Release(1)
			deps, err := b.runWorkUnit(egctx, id, immutable)
			if err != nil {
				recordErr(err)
				return err
			}
			for _, dep := range deps {
				spawnResolve(kilnplugin.ResolveRequest{Source: dep.Source, Importer: id, Kind: dep.Kind}, id)
			}
			return nil
		})
	}

	for i, entry := range entries {
		i, entry := i, entry
		eg.Go(func() error {
			if err := b.sem.Acquire(egctx, 1); err != nil {
				return err
			}
			res, err := b.cctx.Driver.Resolve(egctx, kilnplugin.ResolveRequest{Source: entry.Path, Kind: kilnmodule.DepKindEntry})
			b.sem.Release(1)
			if err != nil {
				resolveErr := kilnerr.NewResolveError(entry.Path, "", err.Error())
				recordErr(resolveErr)
				return resolveErr
			}
			if !res.Found {
				resolveErr := kilnerr.NewResolveError(entry.Path, "", "no plugin resolved this entry")
				recordErr(resolveErr)
				return resolveErr
			}
			id := kilnmodule.NewID(res.ResolvedPath, res.Query)
			mu.Lock()
			entryID[i] = id
			mu.Unlock()
			if b.cctx.Graph.EnsurePending(id) {
				if res.Meta != nil {
					b.cctx.Meta.Set(resolveMetaKey(id), res.Meta)
				}
				recordAdded(id)
				spawnWorkUnit(id, res.Immutable)
			}
			return nil
		})
	}

	waitErr := eg.Wait()
	if errs != nil {
		return Result{}, errs
	}
	if waitErr != nil {
		return Result{}, waitErr
	}

	if err := b.cctx.Driver.BuildEnd(ctx); err != nil {
		return Result{}, err
	}
	if err := b.cctx.Driver.OptimizeModuleGraph(ctx, b.cctx.Graph); err != nil {
		return Result{}, err
	}
	return Result{EntryIDs: entryID, Added: added}, nil
}

// runWorkUnit executes spec.md §4.3 step 4 for one module: load, hash,
// cache probe, transform, parse, process, analyze-deps, finalize.
func (b *Builder) runWorkUnit(ctx context.Context, id kilnmodule.ID, immutable bool) ([]kilnplugin.DepEntry, error) {
	traceID := uuid.NewString()
	logger := b.logger.With(zap.String("module", id.String()), zap.String("trace", traceID))

	var meta map[string]any
	if v, ok := b.cctx.Meta.Get(resolveMetaKey(id)); ok {
		meta, _ = v.(map[string]any)
	}
	loadRes, err := b.cctx.Driver.Load(ctx, kilnplugin.LoadRequest{ResolvedPath: id.Path(), Query: id.Query(), Meta: meta})
	if err != nil {
		return nil, err
	}

	pluginVersions := make([]string, 0, len(b.cctx.Driver.Plugins()))
	for _, p := range b.cctx.Driver.Plugins() {
		pluginVersions = append(pluginVersions, p.Name())
	}
	hash := kilncache.ContentHash(loadRes.Content, loadRes.ModuleType, pluginVersions, string(b.cctx.Config.Mode))
	cacheKey := kilncache.Namespace(immutable) + hash

	if cm, ok, err := b.cctx.Cache.Get(ctx, cacheKey); err == nil && ok {
		logger.Debug("cache hit, skipping transform/parse/analyze")
		cm.Module.ID = id
		cm.Module.ContentHash = hash
		b.cctx.Graph.Finalize(cm.Module)
		return cm.Deps, nil
	}

	transformed, sourceMap, err := b.cctx.Driver.Transform(ctx, kilnplugin.TransformRequest{
		Content:      loadRes.Content,
		ModuleType:   loadRes.ModuleType,
		ResolvedPath: id.Path(),
		Query:        id.Query(),
	})
	if err != nil {
		return nil, err
	}

	parsed, err := b.cctx.Driver.Parse(ctx, transformed)
	if err != nil {
		return nil, err
	}
	parsed.ID = id
	parsed.ContentHash = hash
	parsed.SourceMap = sourceMap
	parsed.Immutable = immutable

	if err := b.cctx.Driver.ProcessModule(ctx, &parsed); err != nil {
		return nil, err
	}
	deps, err := b.cctx.Driver.AnalyzeDeps(ctx, &parsed)
	if err != nil {
		return nil, err
	}
	if err := b.cctx.Driver.FinalizeModule(ctx, &parsed, deps); err != nil {
		return nil, err
	}

	if err := b.cctx.Cache.Put(ctx, cacheKey, kilncache.CachedModule{Module: parsed, Deps: deps}); err != nil {
		logger.Warn("cache write failed, build proceeds", zap.Error(err))
	}

	b.cctx.Graph.Finalize(parsed)
	b.cctx.Meta.Delete(resolveMetaKey(id))
	return deps, nil
}

// CacheKeyFor reconstructs the cache key a finalized module was stored
// under, so the update engine can invalidate it before a rebuild (spec.md
// §4.7 step 3).
func CacheKeyFor(m kilnmodule.Module) string {
	return kilncache.Namespace(m.Immutable) + m.ContentHash
}

// Rebuild re-runs the per-module work unit for an already-finalized module,
// starting from load (spec.md §4.7 step 3), reusing its current Immutable
// classification.
func (b *Builder) Rebuild(ctx context.Context, id kilnmodule.ID) ([]kilnplugin.DepEntry, error) {
	m, ok := b.cctx.Graph.Module(id)
	if !ok {
		return nil, kilnerr.Newf(kilnerr.KindGeneric, "rebuild: unknown module %q", id.String())
	}
	return b.runWorkUnit(ctx, id, m.Immutable)
}

// BuildNew runs the per-module work unit for a module id just marked
// pending by the caller's own EnsurePending call, used by the update
// engine when re-analyzing deps surfaces a specifier with no existing
// module (spec.md §4.7 step 4).
func (b *Builder) BuildNew(ctx context.Context, id kilnmodule.ID, immutable bool) ([]kilnplugin.DepEntry, error) {
	return b.runWorkUnit(ctx, id, immutable)
}

// resolveMetaKey namespaces a module's resolve-time meta payload within the
// shared kilnctx.Meta scratch map, so load() can see the meta a resolve
// hook attached to this module id (spec.md §4.1's load input is
// `{resolved_path, query, meta}`).
func resolveMetaKey(id kilnmodule.ID) string {
	return "kilnbuild.resolve-meta:" + id.String()
}
