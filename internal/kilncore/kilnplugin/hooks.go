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

// Package kilnplugin defines the plugin contract (spec.md §4.1/§9): a
// Go interface with one method per hook, default-implemented to "no
// decision", plus the PluginDriver that dispatches the fixed hook set in
// priority order. This intentionally avoids any reflection- or
// attribute-based plugin dispatch.
package kilnplugin

import (
	"context"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngroup"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
)

// ResolveRequest is the input to the resolve hook.
type ResolveRequest struct {
	Source   string
	Importer kilnmodule.ID
	Kind     kilnmodule.DepKind
}

// ResolveResult is a resolve hook's decision. Found distinguishes "no
// decision" from "resolved to this path", per spec.md §6's contract note.
type ResolveResult struct {
	Found        bool
	ResolvedPath string
	External     bool
	SideEffects  bool
	Immutable    bool // third-party code eligible for long-term caching (spec.md §3)
	Query        string
	Meta         map[string]any
}

// LoadRequest is the input to the load hook.
type LoadRequest struct {
	ResolvedPath string
	Query        string
	Meta         map[string]any
}

// LoadResult is a load hook's decision.
type LoadResult struct {
	Found      bool
	Content    string
	ModuleType kilnmodule.Type
}

// TransformRequest is the input to one step of the chained transform hook.
type TransformRequest struct {
	Content      string
	ModuleType   kilnmodule.Type
	ResolvedPath string
	Query        string
	Meta         map[string]any
}

// TransformResult is what one plugin's transform step contributes. A zero
// ModuleType means "unchanged"; otherwise the module is reclassified for
// the next step.
type TransformResult struct {
	Content    string
	SourceMap  *kilnmodule.SourceMap
	ModuleType kilnmodule.Type
}

// ParseResult is the parse hook's decision: a populated Module, or
// Found=false for "no decision".
type ParseResult struct {
	Found  bool
	Module kilnmodule.Module
}

// DepEntry is one accumulated analyze-deps result: an alias of
// kilnmodule.Edge whose Source holds the raw target (still unresolved at
// this point).
type DepEntry = kilnmodule.Edge

// AnalyzeModuleGraphResult is the analyze_module_graph hook's decision:
// a whole ModuleGroupGraph, replacing the default kilngroup.Derive pass, or
// Found=false for "no decision".
type AnalyzeModuleGraphResult struct {
	Found  bool
	Groups *kilngroup.Graph
}

// PartialBundlingRequest is the input to the partial_bundling hook.
type PartialBundlingRequest struct {
	ModuleIDs []kilnmodule.ID
	Graph     *kilngraph.Graph
	Groups    *kilngroup.Graph
}

// PartialBundlingResult is the partial_bundling hook's decision: a whole
// ResourcePot set, replacing the default bucket/AssignPots pass, or
// Found=false.
type PartialBundlingResult struct {
	Found bool
	Pots  []kilnbundle.Pot
}

// RenderRequest is the input to render_resource_pot and its chained
// render_resource_pot_modules variant.
type RenderRequest struct {
	Pot     kilnbundle.Pot
	Content string
}

// RenderResult is a render hook's decision.
type RenderResult struct {
	Found   bool
	Content string
}

// GenerateRequest is the input to generate_resources: a pot and its
// rendered content.
type GenerateRequest struct {
	Pot     kilnbundle.Pot
	Content string
}

// GenerateResult is the generate_resources hook's decision.
type GenerateResult struct {
	Found     bool
	Resources []kilnresource.Resource
}

// ModuleUpdate is one entry of the update_modules hook's input: a changed
// path plus its update kind, rendered as a plain string so this package
// never needs to import kilnupdate (which itself imports kilnplugin).
type ModuleUpdate struct {
	Path string
	Type string
}

// Plugin is the full hook surface. Every method has a default
// no-decision/no-op implementation on Base, below; real plugins embed Base
// and override only the hooks they implement.
type Plugin interface {
	Name() string
	Priority() int

	ConfigHook(ctx context.Context, cfg any) (any, error)
	ConfigResolvedHook(ctx context.Context, cfg any) error
	BuildStartHook(ctx context.Context) error

	Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error)
	Load(ctx context.Context, req LoadRequest) (LoadResult, error)
	Transform(ctx context.Context, req TransformRequest) (TransformResult, bool, error)
	Parse(ctx context.Context, req TransformRequest) (ParseResult, error)
	ProcessModule(ctx context.Context, m *kilnmodule.Module) error
	AnalyzeDeps(ctx context.Context, m *kilnmodule.Module) ([]DepEntry, error)
	FinalizeModule(ctx context.Context, m *kilnmodule.Module, deps []DepEntry) error

	BuildEndHook(ctx context.Context) error
	OptimizeModuleGraph(ctx context.Context, g *kilngraph.Graph) error

	AnalyzeModuleGraph(ctx context.Context, g *kilngraph.Graph) (AnalyzeModuleGraphResult, error)
	PartialBundling(ctx context.Context, req PartialBundlingRequest) (PartialBundlingResult, error)
	ProcessResourcePots(ctx context.Context, pots *[]kilnbundle.Pot) error

	RenderResourcePot(ctx context.Context, req RenderRequest) (RenderResult, error)
	RenderResourcePotModules(ctx context.Context, req RenderRequest) (RenderResult, bool, error)
	AugmentResourceHash(ctx context.Context, pot kilnbundle.Pot) (string, error)
	GenerateResources(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	ProcessGeneratedResources(ctx context.Context, resources *[]kilnresource.Resource) error
	FinalizeResources(ctx context.Context, resources map[string]kilnresource.Resource) error

	UpdateModules(ctx context.Context, updates []ModuleUpdate) error
}

// Base gives every hook a "no decision"/no-op default. Embed it in a plugin
// struct and override only what the plugin actually implements, the same
// shape as an io.Reader wrapped in a no-op default in the teacher's
// interface-heavy packages.
type Base struct{}

func (Base) ConfigHook(context.Context, any) (any, error)      { return nil, nil }
func (Base) ConfigResolvedHook(context.Context, any) error     { return nil }
func (Base) BuildStartHook(context.Context) error              { return nil }
func (Base) Resolve(context.Context, ResolveRequest) (ResolveResult, error) {
	return ResolveResult{}, nil
}
func (Base) Load(context.Context, LoadRequest) (LoadResult, error) { return LoadResult{}, nil }
func (Base) Transform(context.Context, TransformRequest) (TransformResult, bool, error) {
	return TransformResult{}, false, nil
}
func (Base) Parse(context.Context, TransformRequest) (ParseResult, error) {
	return ParseResult{}, nil
}
func (Base) ProcessModule(context.Context, *kilnmodule.Module) error { return nil }
func (Base) AnalyzeDeps(context.Context, *kilnmodule.Module) ([]DepEntry, error) {
	return nil, nil
}
func (Base) FinalizeModule(context.Context, *kilnmodule.Module, []DepEntry) error { return nil }
func (Base) BuildEndHook(context.Context) error                                  { return nil }
func (Base) OptimizeModuleGraph(context.Context, *kilngraph.Graph) error          { return nil }

func (Base) AnalyzeModuleGraph(context.Context, *kilngraph.Graph) (AnalyzeModuleGraphResult, error) {
	return AnalyzeModuleGraphResult{}, nil
}
func (Base) PartialBundling(context.Context, PartialBundlingRequest) (PartialBundlingResult, error) {
	return PartialBundlingResult{}, nil
}
func (Base) ProcessResourcePots(context.Context, *[]kilnbundle.Pot) error { return nil }

func (Base) RenderResourcePot(context.Context, RenderRequest) (RenderResult, error) {
	return RenderResult{}, nil
}
func (Base) RenderResourcePotModules(context.Context, RenderRequest) (RenderResult, bool, error) {
	return RenderResult{}, false, nil
}
func (Base) AugmentResourceHash(context.Context, kilnbundle.Pot) (string, error) { return "", nil }
func (Base) GenerateResources(context.Context, GenerateRequest) (GenerateResult, error) {
	return GenerateResult{}, nil
}
func (Base) ProcessGeneratedResources(context.Context, *[]kilnresource.Resource) error { return nil }
func (Base) FinalizeResources(context.Context, map[string]kilnresource.Resource) error { return nil }

func (Base) UpdateModules(context.Context, []ModuleUpdate) error { return nil }
