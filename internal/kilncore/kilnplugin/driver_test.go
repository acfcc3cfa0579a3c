package kilnplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
)

type fakePlugin struct {
	Base
	name        string
	priority    int
	resolveFn   func(ResolveRequest) (ResolveResult, error)
	transformFn func(TransformRequest) (TransformResult, bool, error)
}

func (f *fakePlugin) Name() string  { return f.name }
func (f *fakePlugin) Priority() int { return f.priority }

func (f *fakePlugin) Resolve(_ context.Context, req ResolveRequest) (ResolveResult, error) {
	if f.resolveFn == nil {
		return ResolveResult{}, nil
	}
	return f.resolveFn(req)
}

func (f *fakePlugin) Transform(_ context.Context, req TransformRequest) (TransformResult, bool, error) {
	if f.transformFn == nil {
		return TransformResult{}, false, nil
	}
	return f.transformFn(req)
}

func TestResolveFirstNonEmptyRespectsPriority(t *testing.T) {
	low := &fakePlugin{name: "low", priority: 1, resolveFn: func(ResolveRequest) (ResolveResult, error) {
		return ResolveResult{Found: true, ResolvedPath: "from-low"}, nil
	}}
	high := &fakePlugin{name: "high", priority: 10, resolveFn: func(ResolveRequest) (ResolveResult, error) {
		return ResolveResult{Found: true, ResolvedPath: "from-high"}, nil
	}}
	d := NewDriver(zap.NewNop(), []Plugin{low, high})
	res, err := d.Resolve(context.Background(), ResolveRequest{Source: "./x"})
	require.NoError(t, err)
	assert.Equal(t, "from-high", res.ResolvedPath)
}

func TestResolveSkipsNoDecision(t *testing.T) {
	noop := &fakePlugin{name: "noop", priority: 10}
	real := &fakePlugin{name: "real", priority: 1, resolveFn: func(ResolveRequest) (ResolveResult, error) {
		return ResolveResult{Found: true, ResolvedPath: "resolved"}, nil
	}}
	d := NewDriver(zap.NewNop(), []Plugin{noop, real})
	res, err := d.Resolve(context.Background(), ResolveRequest{})
	require.NoError(t, err)
	assert.Equal(t, "resolved", res.ResolvedPath)
}

func TestTransformChainsOutputs(t *testing.T) {
	upper := &fakePlugin{name: "upper", priority: 10, transformFn: func(req TransformRequest) (TransformResult, bool, error) {
		return TransformResult{Content: req.Content + "-upper"}, true, nil
	}}
	lower := &fakePlugin{name: "lower", priority: 1, transformFn: func(req TransformRequest) (TransformResult, bool, error) {
		return TransformResult{Content: req.Content + "-lower"}, true, nil
	}}
	d := NewDriver(zap.NewNop(), []Plugin{upper, lower})
	out, _, err := d.Transform(context.Background(), TransformRequest{Content: "src"})
	require.NoError(t, err)
	assert.Equal(t, "src-upper-lower", out.Content)
}

func TestAnalyzeDepsAccumulates(t *testing.T) {
	a := &fakePluginDeps{name: "a", deps: []DepEntry{{Source: "./b", Kind: kilnmodule.DepKindStaticImport}}}
	b := &fakePluginDeps{name: "b", deps: []DepEntry{{Source: "./c", Kind: kilnmodule.DepKindDynamicImport}}}
	d := NewDriver(zap.NewNop(), []Plugin{a, b})
	entries, err := d.AnalyzeDeps(context.Background(), &kilnmodule.Module{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type fakePluginDeps struct {
	Base
	name string
	deps []DepEntry
}

func (f *fakePluginDeps) Name() string  { return f.name }
func (f *fakePluginDeps) Priority() int { return 0 }
func (f *fakePluginDeps) AnalyzeDeps(context.Context, *kilnmodule.Module) ([]DepEntry, error) {
	return f.deps, nil
}

func TestPartialBundlingFirstNonEmptyRespectsPriority(t *testing.T) {
	low := &fakePartialBundlingPlugin{name: "low", priority: 1, pots: []kilnbundle.Pot{{ID: "from-low"}}}
	high := &fakePartialBundlingPlugin{name: "high", priority: 10, pots: []kilnbundle.Pot{{ID: "from-high"}}}
	d := NewDriver(zap.NewNop(), []Plugin{low, high})
	res, err := d.PartialBundling(context.Background(), PartialBundlingRequest{})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "from-high", res.Pots[0].ID)
}

func TestPartialBundlingNoDecisionReturnsNotFound(t *testing.T) {
	noop := &fakePartialBundlingPlugin{name: "noop", priority: 0}
	d := NewDriver(zap.NewNop(), []Plugin{noop})
	res, err := d.PartialBundling(context.Background(), PartialBundlingRequest{})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

type fakePartialBundlingPlugin struct {
	Base
	name     string
	priority int
	pots     []kilnbundle.Pot
}

func (f *fakePartialBundlingPlugin) Name() string  { return f.name }
func (f *fakePartialBundlingPlugin) Priority() int { return f.priority }
func (f *fakePartialBundlingPlugin) PartialBundling(context.Context, PartialBundlingRequest) (PartialBundlingResult, error) {
	if f.pots == nil {
		return PartialBundlingResult{}, nil
	}
	return PartialBundlingResult{Found: true, Pots: f.pots}, nil
}

func TestRenderResourcePotModulesChainsOutputs(t *testing.T) {
	upper := &fakeRenderPlugin{name: "upper", priority: 10, suffix: "-upper"}
	lower := &fakeRenderPlugin{name: "lower", priority: 1, suffix: "-lower"}
	d := NewDriver(zap.NewNop(), []Plugin{upper, lower})
	res, err := d.RenderResourcePotModules(context.Background(), RenderRequest{Content: "src"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "src-upper-lower", res.Content)
}

type fakeRenderPlugin struct {
	Base
	name     string
	priority int
	suffix   string
}

func (f *fakeRenderPlugin) Name() string  { return f.name }
func (f *fakeRenderPlugin) Priority() int { return f.priority }
func (f *fakeRenderPlugin) RenderResourcePotModules(_ context.Context, req RenderRequest) (RenderResult, bool, error) {
	return RenderResult{Content: req.Content + f.suffix}, true, nil
}

func TestAugmentResourceHashAccumulatesFragments(t *testing.T) {
	a := &fakeHashPlugin{name: "a", fragment: "aaa"}
	b := &fakeHashPlugin{name: "b", fragment: "bbb"}
	d := NewDriver(zap.NewNop(), []Plugin{a, b})
	hash, err := d.AugmentResourceHash(context.Background(), kilnbundle.Pot{ID: "main"})
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", hash)
}

type fakeHashPlugin struct {
	Base
	name     string
	fragment string
}

func (f *fakeHashPlugin) Name() string  { return f.name }
func (f *fakeHashPlugin) Priority() int { return 0 }
func (f *fakeHashPlugin) AugmentResourceHash(context.Context, kilnbundle.Pot) (string, error) {
	return f.fragment, nil
}

func TestGenerateResourcesFirstNonEmptyRespectsPriority(t *testing.T) {
	low := &fakeGeneratePlugin{name: "low", priority: 1, name2: "from-low"}
	high := &fakeGeneratePlugin{name: "high", priority: 10, name2: "from-high"}
	d := NewDriver(zap.NewNop(), []Plugin{low, high})
	res, err := d.GenerateResources(context.Background(), GenerateRequest{})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "from-high", res.Resources[0].Name)
}

type fakeGeneratePlugin struct {
	Base
	name     string
	priority int
	name2    string
}

func (f *fakeGeneratePlugin) Name() string  { return f.name }
func (f *fakeGeneratePlugin) Priority() int { return f.priority }
func (f *fakeGeneratePlugin) GenerateResources(context.Context, GenerateRequest) (GenerateResult, error) {
	return GenerateResult{Found: true, Resources: []kilnresource.Resource{{Name: f.name2}}}, nil
}

func TestFinalizeResourcesMutatesMapInPlace(t *testing.T) {
	dropper := &fakeFinalizePlugin{name: "dropper"}
	d := NewDriver(zap.NewNop(), []Plugin{dropper})
	resources := map[string]kilnresource.Resource{"drop-me": {Name: "drop-me"}, "keep-me": {Name: "keep-me"}}
	require.NoError(t, d.FinalizeResources(context.Background(), resources))
	_, stillThere := resources["drop-me"]
	assert.False(t, stillThere)
	_, kept := resources["keep-me"]
	assert.True(t, kept)
}

type fakeFinalizePlugin struct {
	Base
	name string
}

func (f *fakeFinalizePlugin) Name() string  { return f.name }
func (f *fakeFinalizePlugin) Priority() int { return 0 }
func (f *fakeFinalizePlugin) FinalizeResources(_ context.Context, resources map[string]kilnresource.Resource) error {
	delete(resources, "drop-me")
	return nil
}

func TestUpdateModulesDispatchesToEveryPlugin(t *testing.T) {
	var seen []ModuleUpdate
	plugin := &fakeUpdateModulesPlugin{name: "u", record: func(u []ModuleUpdate) { seen = u }}
	d := NewDriver(zap.NewNop(), []Plugin{plugin})
	require.NoError(t, d.UpdateModules(context.Background(), []ModuleUpdate{{Path: "a.ts", Type: "updated"}}))
	require.Len(t, seen, 1)
	assert.Equal(t, "a.ts", seen[0].Path)
}

type fakeUpdateModulesPlugin struct {
	Base
	name   string
	record func([]ModuleUpdate)
}

func (f *fakeUpdateModulesPlugin) Name() string  { return f.name }
func (f *fakeUpdateModulesPlugin) Priority() int { return 0 }
func (f *fakeUpdateModulesPlugin) UpdateModules(_ context.Context, updates []ModuleUpdate) error {
	f.record(updates)
	return nil
}
