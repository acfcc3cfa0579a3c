package kilnfsplugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestResolveRelativeTriesExtensionsThenIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "import './b'\n")
	writeFile(t, root, "src/b.ts", "export const b = 1\n")
	writeFile(t, root, "src/components/index.ts", "export const c = 1\n")
	p := New(root)

	entryImporter := kilnmodule.NewID("src/a.ts", "")
	res, err := p.Resolve(context.Background(), kilnplugin.ResolveRequest{
		Source:   "./b",
		Importer: entryImporter,
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "src/b.ts", res.ResolvedPath)

	res, err = p.Resolve(context.Background(), kilnplugin.ResolveRequest{
		Source:   "./components",
		Importer: entryImporter,
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "src/components/index.ts", res.ResolvedPath)
}

func TestResolveEntryUsesProjectRootWhenImporterIsZero(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.ts", "console.log(1)\n")
	p := New(root)

	res, err := p.Resolve(context.Background(), kilnplugin.ResolveRequest{
		Source: "./src/main.ts",
		Kind:   kilnmodule.DepKindEntry,
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "src/main.ts", res.ResolvedPath)
}

func TestResolveUnknownPathIsNoDecision(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	res, err := p.Resolve(context.Background(), kilnplugin.ResolveRequest{Source: "./missing"})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestResolveBareSpecifierIsExternalAndImmutable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/left-pad/package.json", `{"main": "index.js"}`)
	writeFile(t, root, "node_modules/left-pad/index.js", "module.exports = function(){}\n")
	p := New(root)

	res, err := p.Resolve(context.Background(), kilnplugin.ResolveRequest{Source: "left-pad"})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.True(t, res.External)
	assert.True(t, res.Immutable)
	assert.Equal(t, "node_modules/left-pad/index.js", res.ResolvedPath)
}

func TestLoadClassifiesByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "const x = 1\n")
	p := New(root)

	res, err := p.Load(context.Background(), kilnplugin.LoadRequest{ResolvedPath: "src/a.ts"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, kilnmodule.TypeScript, res.ModuleType)
	assert.Equal(t, "const x = 1\n", res.Content)
}

func TestAnalyzeDepsFindsStaticDynamicAndRequireImports(t *testing.T) {
	p := New(t.TempDir())
	m := &kilnmodule.Module{
		Type: kilnmodule.TypeScript,
		Content: "import foo from './foo'\n" +
			"const lazy = () => import('./lazy')\n" +
			"const old = require('./old')\n",
	}
	entries, err := p.AnalyzeDeps(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "./foo", entries[0].Source)
	assert.Equal(t, kilnmodule.DepKindStaticImport, entries[0].Kind)
	assert.Equal(t, "./lazy", entries[1].Source)
	assert.Equal(t, kilnmodule.DepKindDynamicImport, entries[1].Kind)
	assert.Equal(t, "./old", entries[2].Source)
	assert.Equal(t, kilnmodule.DepKindRequire, entries[2].Kind)
}

func TestAnalyzeDepsFindsCSSImports(t *testing.T) {
	p := New(t.TempDir())
	m := &kilnmodule.Module{
		Type:    kilnmodule.TypeCSS,
		Content: `@import "./base.css";` + "\n" + `@import url(./theme.css);` + "\n",
	}
	entries, err := p.AnalyzeDeps(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "./base.css", entries[0].Source)
	assert.Equal(t, "./theme.css", entries[1].Source)
}
