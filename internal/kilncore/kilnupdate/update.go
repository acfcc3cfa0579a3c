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

// Package kilnupdate implements the incremental update (HMR) engine of
// spec.md §4.7: classify changed paths, compute the affected module set
// via the ModuleGraph and WatchGraph, re-run the per-module work unit
// starting from load, repartition, and compute HMR accept-chain
// boundaries.
package kilnupdate

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbuild"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnctx"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngroup"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
)

// Type classifies a changed path, per spec.md §6's UpdateType.
type Type string

const (
	Added   Type = "added"
	Updated Type = "updated"
	Removed Type = "removed"
)

// PathUpdate is one entry of the paths argument to update(...).
type PathUpdate struct {
	Path string
	Type Type
}

// DynamicResource is one entry of UpdateResult.dynamic_resources_map: a pot
// reached via a dynamic import. Path holds the pot id, not the name of an
// emitted resource, and ResourceType holds the pot's module type (for
// example "script" or "css"), not an HTML tag name.
type DynamicResource struct {
	Path         string
	ResourceType string
}

// ExtraWatch is the add/remove half of UpdateResult.extra_watch_result.
type ExtraWatch struct {
	Add    []string
	Remove []string
}

// Result is spec.md §6's UpdateResult. Resources holds the re-rendered
// output of every pot touched by this update (spec.md §4.3 step 8, run only
// over AffectedPotIDs); dispatching render_resource_pot/generate_resources
// for those pots is squarely in scope (§1 lists the PluginDriver's hook
// dispatch as in-scope) — only a generator plugin's own byte-producing
// logic is external, per §1's "concrete code generators" non-goal.
type Result struct {
	AddedModuleIDs      []kilnmodule.ID
	UpdatedModuleIDs    []kilnmodule.ID
	RemovedModuleIDs    []kilnmodule.ID
	AffectedPotIDs      []string
	Resources           []kilnresource.Resource
	Boundaries          map[string][][]string
	DynamicResourcesMap map[string][]DynamicResource
	ExtraWatch          ExtraWatch
}

// Engine drives update(), reusing the Builder's per-module work unit and
// the default grouping/partial-bundling engine for repartitioning.
type Engine struct {
	logger       *zap.Logger
	cctx         *kilnctx.Context
	builder      *kilnbuild.Builder
	entries      []kilngroup.Entry
	bundleConfig kilnbundle.Config
	sizer        kilnbundle.Sizer
	entryNamer   kilnbundle.EntryNamer
}

// New returns an Engine. entries must be the same entry set last passed to
// kilnbuild.Builder.Run, used to reseed grouping after repartitioning.
func New(
	logger *zap.Logger,
	cctx *kilnctx.Context,
	builder *kilnbuild.Builder,
	entries []kilngroup.Entry,
	bundleConfig kilnbundle.Config,
	sizer kilnbundle.Sizer,
	entryNamer kilnbundle.EntryNamer,
) *Engine {
	return &Engine{
		logger:       logger.Named("kilnupdate"),
		cctx:         cctx,
		builder:      builder,
		entries:      entries,
		bundleConfig: bundleConfig,
		sizer:        sizer,
		entryNamer:   entryNamer,
	}
}

// Run executes spec.md §4.7 steps 1-7. When sync is false the work is
// driven from a spawned goroutine standing in for the shared worker pool;
// when true it runs on the caller's own goroutine. Either way notify is
// invoked exactly once, after the result is ready.
func (e *Engine) Run(ctx context.Context, updates []PathUpdate, notify func(), sync bool) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	run := func() outcome {
		result, err := e.run(ctx, updates)
		return outcome{result, err}
	}

	var out outcome
	if sync {
		out = run()
	} else {
		done := make(chan outcome, 1)
		go func() { done <- run() }()
		out = <-done
	}
	if notify != nil {
		notify()
	}
	return out.result, out.err
}

func (e *Engine) run(ctx context.Context, updates []PathUpdate) (Result, error) {
	moduleUpdates := make([]kilnplugin.ModuleUpdate, len(updates))
	for i, u := range updates {
		moduleUpdates[i] = kilnplugin.ModuleUpdate{Path: u.Path, Type: string(u.Type)}
	}
	if err := e.cctx.Driver.UpdateModules(ctx, moduleUpdates); err != nil {
		return Result{}, err
	}

	pathIndex := make(map[string][]kilnmodule.ID)
	for _, id := range e.cctx.Graph.IDs() {
		pathIndex[id.Path()] = append(pathIndex[id.Path()], id)
	}

	affected := make(map[kilnmodule.ID]struct{})
	removedPaths := make(map[string]struct{})
	var added []kilnmodule.ID

	for _, u := range updates {
		switch u.Type {
		case Added:
			added = append(added, pathIndex[u.Path]...)
		case Removed:
			removedPaths[u.Path] = struct{}{}
			fallthrough
		case Updated:
			for _, id := range pathIndex[u.Path] {
				affected[id] = struct{}{}
			}
			for _, ancestorPath := range e.cctx.Watch.AncestorsOf(u.Path) {
				for _, id := range pathIndex[ancestorPath] {
					affected[id] = struct{}{}
				}
			}
		}
	}

	var removed []kilnmodule.ID
	for path := range removedPaths {
		for _, id := range pathIndex[path] {
			removed = append(removed, id)
			delete(affected, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].String() < removed[j].String() })
	for _, id := range removed {
		e.cctx.Graph.RemoveEdgesFrom(id)
		e.cctx.Graph.Remove(id)
		e.cctx.Watch.RemoveFrom(id.Path())
	}

	var updatedIDs []kilnmodule.ID
	for id := range affected {
		updatedIDs = append(updatedIDs, id)
	}
	sort.Slice(updatedIDs, func(i, j int) bool { return updatedIDs[i].String() < updatedIDs[j].String() })

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, id := range updatedIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.rebuildOne(ctx, id); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if errs != nil {
		return Result{}, errs
	}
	e.logger.Debug("affected module set rebuilt",
		zap.Int("updated", len(updatedIDs)),
		zap.Int("removed", len(removed)),
		zap.Int("added", len(added)),
	)

	e.removeOrphans(removed)

	groups, err := e.deriveGroups(ctx)
	if err != nil {
		return Result{}, err
	}
	e.cctx.SetGroups(groups)

	pots, err := e.partition(ctx, groups)
	if err != nil {
		return Result{}, err
	}
	e.cctx.SetPots(pots)

	boundaries := e.computeBoundaries(updatedIDs)
	dynamicResources := e.computeDynamicResources(updatedIDs, pots)
	affectedPots := affectedPotIDs(updatedIDs, pots)

	resources, err := e.builder.RenderPots(ctx, potsByID(pots, affectedPots))
	if err != nil {
		return Result{}, err
	}

	return Result{
		AddedModuleIDs:      added,
		UpdatedModuleIDs:    updatedIDs,
		RemovedModuleIDs:    removed,
		AffectedPotIDs:      affectedPots,
		Resources:           resources,
		Boundaries:          boundaries,
		DynamicResourcesMap: dynamicResources,
		ExtraWatch:          ExtraWatch{},
	}, nil
}

// deriveGroups dispatches analyze_module_graph; if no plugin claims it, it
// falls back to the default kilngroup.Derive pass (spec.md §4.7 step 5).
func (e *Engine) deriveGroups(ctx context.Context) (*kilngroup.Graph, error) {
	res, err := e.cctx.Driver.AnalyzeModuleGraph(ctx, e.cctx.Graph)
	if err != nil {
		return nil, err
	}
	if res.Found {
		return res.Groups, nil
	}
	return kilngroup.Derive(e.cctx.Graph, e.entries), nil
}

// partition dispatches partial_bundling; if no plugin claims it, it falls
// back to the default bucket-generation/AssignPots pass (spec.md §4.7
// step 5).
func (e *Engine) partition(ctx context.Context, groups *kilngroup.Graph) ([]kilnbundle.Pot, error) {
	size := e.sizer
	if size == nil {
		size = func(id kilnmodule.ID) int {
			m, _ := e.cctx.Graph.Module(id)
			return len(m.Content)
		}
	}
	res, err := e.cctx.Driver.PartialBundling(ctx, kilnplugin.PartialBundlingRequest{
		ModuleIDs: e.cctx.Graph.IDs(),
		Graph:     e.cctx.Graph,
		Groups:    groups,
	})
	if err != nil {
		return nil, err
	}
	if res.Found {
		return res.Pots, nil
	}
	buckets := kilnbundle.GenerateBuckets(e.cctx.Graph, groups, e.bundleConfig, size)
	return kilnbundle.AssignPots(e.cctx.Graph, buckets, e.bundleConfig, e.entryNamer, size), nil
}

// potsByID filters pots down to the ones named in ids, the set this
// update's render/generate pass needs to re-run (spec.md §4.3 step 8,
// scoped to the pots affected by this update rather than every pot).
func potsByID(pots []kilnbundle.Pot, ids []string) []kilnbundle.Pot {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]kilnbundle.Pot, 0, len(ids))
	for _, pot := range pots {
		if _, ok := want[pot.ID]; ok {
			out = append(out, pot)
		}
	}
	return out
}

// affectedPotIDs returns the sorted, deduplicated set of pot ids containing
// any of updated.
func affectedPotIDs(updated []kilnmodule.ID, pots []kilnbundle.Pot) []string {
	updatedSet := make(map[kilnmodule.ID]struct{}, len(updated))
	for _, id := range updated {
		updatedSet[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, pot := range pots {
		for _, m := range pot.Modules {
			if _, ok := updatedSet[m]; ok {
				if _, dup := seen[pot.ID]; !dup {
					seen[pot.ID] = struct{}{}
					out = append(out, pot.ID)
				}
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// rebuildOne invalidates id's cache entry and re-runs its work unit from
// load (spec.md §4.7 step 3), clearing stale outgoing edges first so the
// post-rebuild edge set reflects only the new analyze-deps result (step
// 4's "compute edge diff").
func (e *Engine) rebuildOne(ctx context.Context, id kilnmodule.ID) error {
	if m, ok := e.cctx.Graph.Module(id); ok {
		_ = e.cctx.Cache.Delete(ctx, kilnbuild.CacheKeyFor(m))
	}
	e.cctx.Graph.RemoveEdgesFrom(id)
	e.cctx.Watch.RemoveFrom(id.Path())

	deps, err := e.builder.Rebuild(ctx, id)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		res, err := e.cctx.Resolve(ctx, kilnplugin.ResolveRequest{Source: dep.Source, Importer: id, Kind: dep.Kind})
		if err != nil {
			return err
		}
		if !res.Found {
			continue
		}
		depID := kilnmodule.NewID(res.ResolvedPath, res.Query)
		created := e.cctx.Graph.EnsurePending(depID)
		e.cctx.Graph.AddEdge(id, depID, kilnmodule.Edge{Source: dep.Source, Kind: dep.Kind, Order: dep.Order})
		if res.External {
			if created {
				e.cctx.Graph.Finalize(kilnmodule.Module{ID: depID, External: true, Meta: res.Meta})
			}
			continue
		}
		if created {
			if _, err := e.builder.BuildNew(ctx, depID, res.Immutable); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeOrphans drops every module left with no importer and no place in
// entries, rescanning the graph once for each removed module and again for
// each orphan it drops in turn (spec.md §4.7 step 4: "mark orphaned modules for removal once no live
// importer remains").
func (e *Engine) removeOrphans(removed []kilnmodule.ID) {
	entrySet := make(map[kilnmodule.ID]struct{}, len(e.entries))
	for _, entry := range e.entries {
		entrySet[entry.ID] = struct{}{}
	}

	queue := append([]kilnmodule.ID(nil), removed...)
	seen := make(map[kilnmodule.ID]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		for _, candidateID := range e.cctx.Graph.IDs() {
			if _, isEntry := entrySet[candidateID]; isEntry {
				continue
			}
			if len(e.cctx.Graph.Importers(candidateID)) > 0 {
				continue
			}
			if _, alreadyQueued := seen[candidateID]; alreadyQueued {
				continue
			}
			e.cctx.Graph.RemoveEdgesFrom(candidateID)
			e.cctx.Graph.Remove(candidateID)
			queue = append(queue, candidateID)
		}
	}
}

// computeBoundaries implements spec.md §4.7 step 6: walk importers upward
// from each updated module, a chain terminating at the first module that
// is an entry or has Accept set.
func (e *Engine) computeBoundaries(updated []kilnmodule.ID) map[string][][]string {
	entrySet := make(map[kilnmodule.ID]struct{}, len(e.entries))
	for _, entry := range e.entries {
		entrySet[entry.ID] = struct{}{}
	}

	boundaries := make(map[string][][]string)
	for _, id := range updated {
		var chains [][]string
		var walk func(current kilnmodule.ID, chain []string, onPath map[kilnmodule.ID]struct{})
		walk = func(current kilnmodule.ID, chain []string, onPath map[kilnmodule.ID]struct{}) {
			chain = append(chain, current.String())
			if _, cyclic := onPath[current]; cyclic {
				return
			}
			onPath[current] = struct{}{}

			m, _ := e.cctx.Graph.Module(current)
			_, isEntry := entrySet[current]
			if isEntry || m.Accept {
				cp := append([]string(nil), chain...)
				chains = append(chains, cp)
				return
			}
			importers := e.cctx.Graph.Importers(current)
			if len(importers) == 0 {
				cp := append([]string(nil), chain...)
				chains = append(chains, cp)
				return
			}
			for _, importer := range importers {
				nextOnPath := make(map[kilnmodule.ID]struct{}, len(onPath))
				for k := range onPath {
					nextOnPath[k] = struct{}{}
				}
				walk(importer, chain, nextOnPath)
			}
		}
		walk(id, nil, make(map[kilnmodule.ID]struct{}))
		boundaries[id.String()] = chains
	}
	return boundaries
}

// computeDynamicResources implements the dynamic_resources_map half of
// spec.md §6: for each updated module that dynamically imports another
// module, name the pot that import now resolves to.
func (e *Engine) computeDynamicResources(updated []kilnmodule.ID, pots []kilnbundle.Pot) map[string][]DynamicResource {
	potFor := make(map[kilnmodule.ID]kilnbundle.Pot)
	for _, pot := range pots {
		for _, m := range pot.Modules {
			potFor[m] = pot
		}
	}

	out := make(map[string][]DynamicResource)
	for _, id := range updated {
		for _, edge := range e.cctx.Graph.Edges(id) {
			if edge.Edge.Kind != kilnmodule.DepKindDynamicImport {
				continue
			}
			pot, ok := potFor[edge.To]
			if !ok {
				continue
			}
			out[id.String()] = append(out[id.String()], DynamicResource{
				Path:         pot.ID,
				ResourceType: string(pot.Type),
			})
		}
	}
	return out
}
