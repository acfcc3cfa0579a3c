package kilngroup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// TestS2SharedModuleGetsBothEntryGroups covers scenario S2 from spec.md §8:
// two entries importing a shared module put it in both group-sets.
func TestS2SharedModuleGetsBothEntryGroups(t *testing.T) {
	g := kilngraph.New()
	a := kilnmodule.NewID("a.ts", "")
	b := kilnmodule.NewID("b.ts", "")
	shared := kilnmodule.NewID("shared.ts", "")
	for _, id := range []kilnmodule.ID{a, b, shared} {
		g.EnsurePending(id)
	}
	g.AddEdge(a, shared, kilnmodule.Edge{Source: "./shared", Kind: kilnmodule.DepKindStaticImport})
	g.AddEdge(b, shared, kilnmodule.Edge{Source: "./shared", Kind: kilnmodule.DepKindStaticImport})

	groups := Derive(g, []Entry{{ID: a, Name: "a"}, {ID: b, Name: "b"}})
	assert.ElementsMatch(t, []string{a.String(), b.String()}, groups.GroupSets[shared])
	assert.ElementsMatch(t, []string{a.String()}, groups.GroupSets[a])
}

// TestS3DynamicImportOpensNewGroup covers scenario S3: a dynamically
// imported module gets its own group rooted at itself, not its importer's.
func TestS3DynamicImportOpensNewGroup(t *testing.T) {
	g := kilngraph.New()
	a := kilnmodule.NewID("a.ts", "")
	lazy := kilnmodule.NewID("lazy.ts", "")
	g.EnsurePending(a)
	g.EnsurePending(lazy)
	g.AddEdge(a, lazy, kilnmodule.Edge{Source: "./lazy", Kind: kilnmodule.DepKindDynamicImport})

	groups := Derive(g, []Entry{{ID: a, Name: "a"}})
	assert.Equal(t, []string{lazy.String()}, groups.GroupSets[lazy])
	assert.Equal(t, []string{a.String()}, groups.GroupSets[a])
	assert.Equal(t, lazy, groups.Roots[lazy.String()])
}

func TestCyclicImportsDoNotInfiniteLoop(t *testing.T) {
	g := kilngraph.New()
	a := kilnmodule.NewID("a.ts", "")
	b := kilnmodule.NewID("b.ts", "")
	g.EnsurePending(a)
	g.EnsurePending(b)
	g.AddEdge(a, b, kilnmodule.Edge{Source: "./b", Kind: kilnmodule.DepKindStaticImport})
	g.AddEdge(b, a, kilnmodule.Edge{Source: "./a", Kind: kilnmodule.DepKindStaticImport})

	groups := Derive(g, []Entry{{ID: a, Name: "a"}})
	assert.Equal(t, []string{a.String()}, groups.GroupSets[a])
	assert.Equal(t, []string{a.String()}, groups.GroupSets[b])
}
