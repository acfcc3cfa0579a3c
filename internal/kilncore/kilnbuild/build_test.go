package kilnbuild

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilncache"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnctx"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilnconfig"
)

// fsPlugin is a minimal in-memory resolve/load/parse/analyze-deps plugin:
// content lines of the form "import <path>" become static-import deps, and
// every source path resolves to itself.
type fsPlugin struct {
	kilnplugin.Base
	contents map[string]string

	loads        int32
	parses       int32
	analyzeCalls int32
}

func (p *fsPlugin) Name() string  { return "fs" }
func (p *fsPlugin) Priority() int { return 0 }

func (p *fsPlugin) Resolve(_ context.Context, req kilnplugin.ResolveRequest) (kilnplugin.ResolveResult, error) {
	if _, ok := p.contents[req.Source]; !ok {
		return kilnplugin.ResolveResult{}, nil
	}
	return kilnplugin.ResolveResult{Found: true, ResolvedPath: req.Source}, nil
}

func (p *fsPlugin) Load(_ context.Context, req kilnplugin.LoadRequest) (kilnplugin.LoadResult, error) {
	atomic.AddInt32(&p.loads, 1)
	content, ok := p.contents[req.ResolvedPath]
	if !ok {
		return kilnplugin.LoadResult{}, nil
	}
	return kilnplugin.LoadResult{Found: true, Content: content, ModuleType: kilnmodule.TypeScript}, nil
}

func (p *fsPlugin) Parse(_ context.Context, req kilnplugin.TransformRequest) (kilnplugin.ParseResult, error) {
	atomic.AddInt32(&p.parses, 1)
	return kilnplugin.ParseResult{Found: true, Module: kilnmodule.Module{
		Type:    req.ModuleType,
		Content: req.Content,
	}}, nil
}

func (p *fsPlugin) AnalyzeDeps(_ context.Context, m *kilnmodule.Module) ([]kilnplugin.DepEntry, error) {
	atomic.AddInt32(&p.analyzeCalls, 1)
	var deps []kilnplugin.DepEntry
	for _, line := range strings.Split(m.Content, "\n") {
		line = strings.TrimSpace(line)
		target, ok := strings.CutPrefix(line, "import ")
		if !ok {
			continue
		}
		deps = append(deps, kilnplugin.DepEntry{Source: target, Kind: kilnmodule.DepKindStaticImport})
	}
	return deps, nil
}

func newTestContext(t *testing.T, plugin *fsPlugin, cacheDir string) *kilnctx.Context {
	t.Helper()
	cfg := &kilnconfig.Config{
		ProjectRoot: "/proj",
		Mode:        kilnconfig.ModeDevelopment,
		Entries:     []kilnconfig.Entry{{Name: "main", Path: "a.ts"}},
	}
	require.NoError(t, cfg.Validate())
	cache := kilncache.New(zap.NewNop(), cacheDir, "test", string(cfg.Mode))
	driver := kilnplugin.NewDriver(zap.NewNop(), []kilnplugin.Plugin{plugin})
	return kilnctx.New(zap.NewNop(), cfg, cache, driver)
}

func TestRunBuildsGraphWithEntryAndDeps(t *testing.T) {
	plugin := &fsPlugin{contents: map[string]string{
		"a.ts": "import b.ts\nimport c.ts",
		"b.ts": "",
		"c.ts": "",
	}}
	cctx := newTestContext(t, plugin, t.TempDir())
	b := New(zap.NewNop(), cctx, 2)

	result, err := b.Run(context.Background(), []EntrySpec{{Name: "main", Path: "a.ts"}})
	require.NoError(t, err)
	require.Len(t, result.EntryIDs, 1)
	assert.Equal(t, "a.ts", result.EntryIDs[0].Path())
	assert.Len(t, result.Added, 3)
	assert.Equal(t, 3, cctx.Graph.Len())

	aMod, ok := cctx.Graph.Module(result.EntryIDs[0])
	require.True(t, ok)
	assert.Equal(t, kilnmodule.TypeScript, aMod.Type)

	importers := cctx.Graph.Importers(kilnmodule.NewID("b.ts", ""))
	require.Len(t, importers, 1)
	assert.Equal(t, result.EntryIDs[0], importers[0])
}

func TestRunFailsEntryWithNoResolvingPlugin(t *testing.T) {
	plugin := &fsPlugin{contents: map[string]string{}}
	cctx := newTestContext(t, plugin, t.TempDir())
	b := New(zap.NewNop(), cctx, 2)

	_, err := b.Run(context.Background(), []EntrySpec{{Name: "main", Path: "missing.ts"}})
	require.Error(t, err)
}

func TestRunCacheHitSkipsReparse(t *testing.T) {
	cacheDir := t.TempDir()
	contents := map[string]string{
		"a.ts": "import b.ts",
		"b.ts": "",
	}

	first := &fsPlugin{contents: contents}
	cctx1 := newTestContext(t, first, cacheDir)
	b1 := New(zap.NewNop(), cctx1, 2)
	_, err := b1.Run(context.Background(), []EntrySpec{{Name: "main", Path: "a.ts"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.parses)

	second := &fsPlugin{contents: contents}
	cctx2 := newTestContext(t, second, cacheDir)
	b2 := New(zap.NewNop(), cctx2, 2)
	_, err = b2.Run(context.Background(), []EntrySpec{{Name: "main", Path: "a.ts"}})
	require.NoError(t, err)

	assert.EqualValues(t, 2, second.loads, "load still runs to recompute the content hash")
	assert.EqualValues(t, 0, second.parses, "cache hit should short-circuit parse")
	assert.EqualValues(t, 0, second.analyzeCalls, "cache hit should short-circuit analyze-deps")
	assert.Equal(t, 2, cctx2.Graph.Len())
}
