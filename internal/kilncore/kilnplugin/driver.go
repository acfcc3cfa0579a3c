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

package kilnplugin

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
	"github.com/kilnbuild/kiln/internal/kilnerr"
)

// Driver holds an ordered collection of plugins, sorted once at
// construction by descending priority with registration order breaking
// ties (spec.md §4.1). Dispatch is synchronous from the caller's
// perspective even though individual hook implementations may do their own
// concurrent work; the driver itself never holds a lock across a plugin
// call.
type Driver struct {
	logger  *zap.Logger
	plugins []Plugin
}

// NewDriver returns a Driver over plugins, sorted by descending priority.
func NewDriver(logger *zap.Logger, plugins []Plugin) *Driver {
	sorted := append([]Plugin(nil), plugins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Driver{logger: logger.Named("kilnplugin"), plugins: sorted}
}

// Plugins returns the priority-sorted plugin list.
func (d *Driver) Plugins() []Plugin { return d.plugins }

// BuildStart dispatches build_start serially to every plugin.
func (d *Driver) BuildStart(ctx context.Context) error {
	for _, p := range d.plugins {
		if err := p.BuildStartHook(ctx); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// BuildEnd dispatches build_end serially to every plugin.
func (d *Driver) BuildEnd(ctx context.Context) error {
	for _, p := range d.plugins {
		if err := p.BuildEndHook(ctx); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// Resolve dispatches resolve with first-non-empty policy: plugins are
// asked in priority order until one returns Found=true.
func (d *Driver) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	for _, p := range d.plugins {
		res, err := p.Resolve(ctx, req)
		if err != nil {
			return ResolveResult{}, kilnerr.NewPluginError(p.Name(), err)
		}
		if res.Found {
			return res, nil
		}
	}
	return ResolveResult{}, nil
}

// Load dispatches load with first-non-empty policy.
func (d *Driver) Load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	for _, p := range d.plugins {
		res, err := p.Load(ctx, req)
		if err != nil {
			return LoadResult{}, kilnerr.NewLoadError(req.ResolvedPath, err)
		}
		if res.Found {
			return res, nil
		}
	}
	return LoadResult{}, kilnerr.Newf(kilnerr.KindLoad, "no plugin claimed %q", req.ResolvedPath)
}

// Transform dispatches transform as a chain: every plugin that opts in
// (returns handled=true) sees the output of the previous one. The most
// recent non-nil source map wins, matching how a single chain of
// transforms (e.g. TS -> JS -> minify) composes in practice.
func (d *Driver) Transform(ctx context.Context, req TransformRequest) (TransformRequest, *kilnmodule.SourceMap, error) {
	current := req
	var sourceMap *kilnmodule.SourceMap
	for _, p := range d.plugins {
		res, handled, err := p.Transform(ctx, current)
		if err != nil {
			return TransformRequest{}, nil, kilnerr.NewTransformError(current.ResolvedPath, p.Name(), err)
		}
		if !handled {
			continue
		}
		current.Content = res.Content
		if res.ModuleType != "" {
			current.ModuleType = res.ModuleType
		}
		if res.SourceMap != nil {
			sourceMap = res.SourceMap
		}
	}
	return current, sourceMap, nil
}

// Parse dispatches parse with first-non-empty policy.
func (d *Driver) Parse(ctx context.Context, req TransformRequest) (kilnmodule.Module, error) {
	for _, p := range d.plugins {
		res, err := p.Parse(ctx, req)
		if err != nil {
			return kilnmodule.Module{}, kilnerr.Newf(kilnerr.KindParse, "%s: %v", req.ResolvedPath, err)
		}
		if res.Found {
			return res.Module, nil
		}
	}
	return kilnmodule.Module{}, kilnerr.Newf(kilnerr.KindParse, "no plugin parsed %q", req.ResolvedPath)
}

// ProcessModule dispatches process_module serially to every plugin, each
// seeing (and able to mutate) the same Module.
func (d *Driver) ProcessModule(ctx context.Context, m *kilnmodule.Module) error {
	for _, p := range d.plugins {
		if err := p.ProcessModule(ctx, m); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// AnalyzeDeps dispatches analyze_deps serially, accumulating every
// plugin's returned entries.
func (d *Driver) AnalyzeDeps(ctx context.Context, m *kilnmodule.Module) ([]DepEntry, error) {
	var all []DepEntry
	for _, p := range d.plugins {
		entries, err := p.AnalyzeDeps(ctx, m)
		if err != nil {
			return nil, kilnerr.NewPluginError(p.Name(), err)
		}
		all = append(all, entries...)
	}
	return all, nil
}

// FinalizeModule dispatches finalize_module serially.
func (d *Driver) FinalizeModule(ctx context.Context, m *kilnmodule.Module, deps []DepEntry) error {
	for _, p := range d.plugins {
		if err := p.FinalizeModule(ctx, m, deps); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// OptimizeModuleGraph dispatches optimize_module_graph serially, at the end
// of the build pipeline's termination step, right after build_end.
func (d *Driver) OptimizeModuleGraph(ctx context.Context, g *kilngraph.Graph) error {
	for _, p := range d.plugins {
		if err := p.OptimizeModuleGraph(ctx, g); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// AnalyzeModuleGraph dispatches analyze_module_graph with first-non-empty
// policy: plugins are asked in priority order until one claims the whole
// ModuleGroupGraph, replacing the default kilngroup.Derive pass.
func (d *Driver) AnalyzeModuleGraph(ctx context.Context, g *kilngraph.Graph) (AnalyzeModuleGraphResult, error) {
	for _, p := range d.plugins {
		res, err := p.AnalyzeModuleGraph(ctx, g)
		if err != nil {
			return AnalyzeModuleGraphResult{}, kilnerr.NewPluginError(p.Name(), err)
		}
		if res.Found {
			return res, nil
		}
	}
	return AnalyzeModuleGraphResult{}, nil
}

// PartialBundling dispatches partial_bundling with first-non-empty policy,
// replacing the default bucket-generation/AssignPots pass when a plugin
// claims it.
func (d *Driver) PartialBundling(ctx context.Context, req PartialBundlingRequest) (PartialBundlingResult, error) {
	for _, p := range d.plugins {
		res, err := p.PartialBundling(ctx, req)
		if err != nil {
			return PartialBundlingResult{}, kilnerr.NewPluginError(p.Name(), err)
		}
		if res.Found {
			return res, nil
		}
	}
	return PartialBundlingResult{}, nil
}

// ProcessResourcePots dispatches process_resource_pots serially, each
// plugin seeing (and able to mutate in place) the same pot slice.
func (d *Driver) ProcessResourcePots(ctx context.Context, pots *[]kilnbundle.Pot) error {
	for _, p := range d.plugins {
		if err := p.ProcessResourcePots(ctx, pots); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// RenderResourcePot dispatches render_resource_pot with first-non-empty
// policy: the first plugin that claims the pot renders its whole content.
func (d *Driver) RenderResourcePot(ctx context.Context, req RenderRequest) (RenderResult, error) {
	for _, p := range d.plugins {
		res, err := p.RenderResourcePot(ctx, req)
		if err != nil {
			return RenderResult{}, kilnerr.NewRenderError(req.Pot.ID, err)
		}
		if res.Found {
			return res, nil
		}
	}
	return RenderResult{}, nil
}

// RenderResourcePotModules dispatches render_resource_pot_modules as a
// chain, the per-module-aware counterpart to RenderResourcePot: every
// plugin that opts in sees the previous plugin's content, the same
// accumulation shape as Transform.
func (d *Driver) RenderResourcePotModules(ctx context.Context, req RenderRequest) (RenderResult, error) {
	current := req
	result := RenderResult{}
	for _, p := range d.plugins {
		res, handled, err := p.RenderResourcePotModules(ctx, current)
		if err != nil {
			return RenderResult{}, kilnerr.NewRenderError(req.Pot.ID, err)
		}
		if !handled {
			continue
		}
		current.Content = res.Content
		result = RenderResult{Found: true, Content: res.Content}
	}
	return result, nil
}

// AugmentResourceHash dispatches augment_resource_hash serially,
// accumulating (concatenating) every plugin's hash fragment.
func (d *Driver) AugmentResourceHash(ctx context.Context, pot kilnbundle.Pot) (string, error) {
	var sb strings.Builder
	for _, p := range d.plugins {
		frag, err := p.AugmentResourceHash(ctx, pot)
		if err != nil {
			return "", kilnerr.NewPluginError(p.Name(), err)
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

// GenerateResources dispatches generate_resources with first-non-empty
// policy: the first plugin that claims the rendered pot produces its
// output Resource set.
func (d *Driver) GenerateResources(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	for _, p := range d.plugins {
		res, err := p.GenerateResources(ctx, req)
		if err != nil {
			return GenerateResult{}, kilnerr.NewGenerateError(req.Pot.ID, err)
		}
		if res.Found {
			return res, nil
		}
	}
	return GenerateResult{}, nil
}

// ProcessGeneratedResources dispatches process_generated_resources
// serially, each plugin seeing (and able to mutate in place) the same
// resource slice.
func (d *Driver) ProcessGeneratedResources(ctx context.Context, resources *[]kilnresource.Resource) error {
	for _, p := range d.plugins {
		if err := p.ProcessGeneratedResources(ctx, resources); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// FinalizeResources dispatches handle_entry_resource/finalize_resources
// serially. Go maps are already reference types, so each plugin mutates
// the same resources map in place rather than returning a replacement.
func (d *Driver) FinalizeResources(ctx context.Context, resources map[string]kilnresource.Resource) error {
	for _, p := range d.plugins {
		if err := p.FinalizeResources(ctx, resources); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}

// UpdateModules dispatches update_modules serially, once per Engine.run
// pass, telling every plugin which paths changed and how.
func (d *Driver) UpdateModules(ctx context.Context, updates []ModuleUpdate) error {
	for _, p := range d.plugins {
		if err := p.UpdateModules(ctx, updates); err != nil {
			return kilnerr.NewPluginError(p.Name(), err)
		}
	}
	return nil
}
