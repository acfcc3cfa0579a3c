package kilngraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

func TestEnsurePendingOnlyCreatesOnce(t *testing.T) {
	g := New()
	a := kilnmodule.NewID("a.ts", "")
	assert.True(t, g.EnsurePending(a))
	assert.False(t, g.EnsurePending(a))
}

func TestFinalizeAndModule(t *testing.T) {
	g := New()
	a := kilnmodule.NewID("a.ts", "")
	g.EnsurePending(a)
	_, ok := g.Module(a)
	require.False(t, ok, "pending module must not be visible")

	g.Finalize(kilnmodule.Module{ID: a, Type: kilnmodule.TypeScript, Content: "x"})
	m, ok := g.Module(a)
	require.True(t, ok)
	assert.Equal(t, "x", m.Content)
}

func TestEdgesAreSortedForDeterminism(t *testing.T) {
	g := New()
	a := kilnmodule.NewID("a.ts", "")
	b := kilnmodule.NewID("b.ts", "")
	c := kilnmodule.NewID("c.ts", "")
	g.EnsurePending(a)
	g.EnsurePending(b)
	g.EnsurePending(c)
	g.AddEdge(a, c, kilnmodule.Edge{Source: "./c", Kind: kilnmodule.DepKindStaticImport, Order: 1})
	g.AddEdge(a, b, kilnmodule.Edge{Source: "./b", Kind: kilnmodule.DepKindStaticImport, Order: 0})

	edges := g.Edges(a)
	require.Len(t, edges, 2)
	assert.Equal(t, b, edges[0].To)
	assert.Equal(t, c, edges[1].To)
}

func TestImportersTracked(t *testing.T) {
	g := New()
	a := kilnmodule.NewID("a.ts", "")
	b := kilnmodule.NewID("b.ts", "")
	g.EnsurePending(a)
	g.EnsurePending(b)
	g.AddEdge(a, b, kilnmodule.Edge{Source: "./b", Kind: kilnmodule.DepKindStaticImport})
	assert.Equal(t, []kilnmodule.ID{a}, g.Importers(b))
}

func TestRemoveEdgesFromClearsReverseIndex(t *testing.T) {
	g := New()
	a := kilnmodule.NewID("a.ts", "")
	b := kilnmodule.NewID("b.ts", "")
	g.EnsurePending(a)
	g.EnsurePending(b)
	g.AddEdge(a, b, kilnmodule.Edge{Source: "./b", Kind: kilnmodule.DepKindStaticImport})
	g.RemoveEdgesFrom(a)
	assert.Empty(t, g.Importers(b))
	assert.Empty(t, g.Edges(a))
}

func TestIDsSortedAndOnlyFinalized(t *testing.T) {
	g := New()
	b := kilnmodule.NewID("b.ts", "")
	a := kilnmodule.NewID("a.ts", "")
	g.EnsurePending(b)
	g.Finalize(kilnmodule.Module{ID: a})
	assert.Equal(t, []kilnmodule.ID{a}, g.IDs())
}
