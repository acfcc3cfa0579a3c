package kiln

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilnconfig"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilnplugin/kilnfsplugin"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newCompiler(t *testing.T, root string, entries []kilnconfig.Entry) *Compiler {
	t.Helper()
	cfg := &kilnconfig.Config{
		ProjectRoot: root,
		Mode:        kilnconfig.ModeDevelopment,
		Entries:     entries,
	}
	require.NoError(t, cfg.Validate())

	compiler, err := New(context.Background(), zap.NewNop(), cfg, []kilnplugin.Plugin{kilnfsplugin.New(root)})
	require.NoError(t, err)
	return compiler
}

// TestCompileSingleEntryWithOneDepYieldsOnePot covers spec.md scenario S1:
// entry a.ts imports b.ts; compile() yields one pot named "a" containing
// both modules, topologically ordered [b.ts, a.ts].
func TestCompileSingleEntryWithOneDepYieldsOnePot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "import './b'\n")
	writeFile(t, root, "b.ts", "export const b = 1\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{{Name: "a", Path: "./a.ts"}})
	result, err := compiler.Compile(context.Background())
	require.NoError(t, err)

	require.Len(t, result.EntryIDs, 1)
	assert.Equal(t, "a.ts", result.EntryIDs[0].Path())
	assert.Len(t, result.Added, 2)

	pots := compiler.Context().Pots()
	require.Len(t, pots, 1)
	assert.Equal(t, "a", pots[0].ID)
	require.Len(t, pots[0].Modules, 2)
	assert.Equal(t, "b.ts", pots[0].Modules[0].Path())
	assert.Equal(t, "a.ts", pots[0].Modules[1].Path())
}

// TestCompileTwoEntriesShareDepInASharedPot covers spec.md scenario S2: two
// entries importing a shared module put that module in its own pot named
// after the shared file, while each entry's pot keeps only its own module.
func TestCompileTwoEntriesShareDepInASharedPot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "import './shared'\n")
	writeFile(t, root, "b.ts", "import './shared'\n")
	writeFile(t, root, "shared.ts", "export const s = 1\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{
		{Name: "a", Path: "./a.ts"},
		{Name: "b", Path: "./b.ts"},
	})
	_, err := compiler.Compile(context.Background())
	require.NoError(t, err)

	pots := compiler.Context().Pots()
	byID := make(map[string][]string)
	for _, pot := range pots {
		var paths []string
		for _, id := range pot.Modules {
			paths = append(paths, id.Path())
		}
		byID[pot.ID] = paths
	}

	assert.Equal(t, []string{"a.ts"}, byID["a"])
	assert.Equal(t, []string{"b.ts"}, byID["b"])
	assert.Equal(t, []string{"shared.ts"}, byID["shared"])
}

// TestUpdateBeforeCompileErrors exercises the ordering precondition
// documented on Update.
func TestUpdateBeforeCompileErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "console.log(1)\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{{Name: "a", Path: "./a.ts"}})
	_, err := compiler.Update(context.Background(), []PathUpdate{{Path: "a.ts", Type: Updated}}, nil, true)
	assert.Error(t, err)
}

// TestUpdateRebuildsChangedModule covers spec.md scenario S5.
func TestUpdateRebuildsChangedModule(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "import './b'\n")
	writeFile(t, root, "b.ts", "export const b = 1\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{{Name: "a", Path: "./a.ts"}})
	_, err := compiler.Compile(context.Background())
	require.NoError(t, err)

	writeFile(t, root, "b.ts", "export const b = 2\n")
	result, err := compiler.Update(context.Background(), []PathUpdate{{Path: "b.ts", Type: Updated}}, nil, true)
	require.NoError(t, err)

	require.Len(t, result.UpdatedModuleIDs, 1)
	assert.Equal(t, "b.ts", result.UpdatedModuleIDs[0].Path())
	require.Contains(t, result.Boundaries, result.UpdatedModuleIDs[0].String())
}

// TestWatchRebuildsOnFileChange exercises Watch end-to-end: it writes a
// changed file after the watch has started and waits for notify to fire.
func TestWatchRebuildsOnFileChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "import './b'\n")
	writeFile(t, root, "b.ts", "export const b = 1\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{{Name: "a", Path: "./a.ts"}})
	_, err := compiler.Compile(context.Background())
	require.NoError(t, err)

	notified := make(chan struct{}, 1)
	require.NoError(t, compiler.Watch([]string{root}, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	}, nil))
	defer compiler.StopWatching()

	writeFile(t, root, "b.ts", "export const b = 2\n")

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch to trigger a rebuild")
	}
}

// TestStopWatchingIsIdempotent covers the no-watcher and already-stopped
// cases.
func TestStopWatchingIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "console.log(1)\n")

	compiler := newCompiler(t, root, []kilnconfig.Entry{{Name: "a", Path: "./a.ts"}})
	assert.NoError(t, compiler.StopWatching())

	_, err := compiler.Compile(context.Background())
	require.NoError(t, err)
	require.NoError(t, compiler.Watch([]string{root}, nil, nil))
	assert.NoError(t, compiler.StopWatching())
	assert.NoError(t, compiler.StopWatching())
}
