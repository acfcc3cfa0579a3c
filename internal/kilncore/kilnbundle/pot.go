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

package kilnbundle

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// Pot is a ResourcePot: the output-unit abstraction of spec.md §3. Modules
// is topologically ordered within the pot's subgraph per §4.5 step D.
type Pot struct {
	ID      string
	Type    kilnmodule.Type
	Modules []kilnmodule.ID
}

// EntryNamer supplies an entry's configured output name, used as the base
// name for a bucket whose originating group is an entry (spec.md §4.5 step
// C).
type EntryNamer func(kilnmodule.ID) (name string, isEntry bool)

// AssignPots runs spec.md §4.5 steps B-D over the full bucket set: repeated
// best-bucket selection, base-name derivation with collision handling
// (spec.md scenario S4), size-bounded pot splitting, and per-pot
// topological ordering.
func AssignPots(g *kilngraph.Graph, buckets []*Bucket, cfg Config, entryName EntryNamer, size Sizer) []Pot {
	usedNames := make(map[string]struct{})
	pending := append([]*Bucket(nil), buckets...)
	var pots []Pot

	for {
		chosen, rest := PickNext(pending)
		if chosen == nil {
			break
		}
		pending = rest

		base := baseNameFor(chosen, entryName, usedNames)
		potsForBucket := splitBucketIntoPots(g, chosen, base, cfg, size)
		chosen.ResourceUnits = len(potsForBucket)
		pots = append(pots, potsForBucket...)
	}
	return pots
}

// baseNameFor derives and reserves a unique base pot name for bucket,
// implementing spec.md scenario S4's collision-avoidance rule: prepend
// parent path segments of the group root until the name is unique.
func baseNameFor(b *Bucket, entryName EntryNamer, used map[string]struct{}) string {
	var candidate string
	if name, isEntry := entryName(b.GroupRoot); isEntry {
		candidate = name
	} else if !b.GroupRoot.IsZero() {
		candidate = stripExt(path.Base(b.GroupRoot.Path()))
	} else if len(b.Modules) > 0 {
		// Shared across more than one group (spec.md scenario S2): name
		// after the bucket's own lowest-sorting member instead of any one
		// of the groups that reach it.
		candidate = stripExt(path.Base(b.Modules[0].Path()))
	} else {
		candidate = b.ID
	}
	if candidate == "" {
		candidate = "chunk"
	}

	if _, taken := used[candidate]; !taken {
		used[candidate] = struct{}{}
		return candidate
	}

	// Collision: prepend parent path segments of the group root until
	// unique, joining with "_" (scenario S4: "test/a.html" collides with
	// "src/a.html" -> "test_a"; a third "x/test/a.html" -> "x_test_a").
	segments := strings.Split(strings.Trim(path.Dir(b.GroupRoot.Path()), "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" || segments[i] == "." {
			continue
		}
		candidate = segments[i] + "_" + candidate
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
	}
	// Fall back to an incrementing suffix if even the full path collides.
	for n := 2; ; n++ {
		attempt := candidate + "_" + strconv.Itoa(n)
		if _, taken := used[attempt]; !taken {
			used[attempt] = struct{}{}
			return attempt
		}
	}
}

func stripExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// splitBucketIntoPots allocates a sequence of pots for one bucket, each
// bounded by the rule's max size: modules are appended to the current pot
// in topological order until the size cap is reached, then a new pot
// `base_i+1` opens (spec.md §4.5 step C).
func splitBucketIntoPots(g *kilngraph.Graph, b *Bucket, base string, cfg Config, size Sizer) []Pot {
	maxSize := b.Rule.MaxSize
	if maxSize <= 0 {
		maxSize = cfg.effectiveDefaultMaxSize()
	}

	ordered := topoOrder(g, b.Modules)

	var pots []Pot
	potIndex := 0
	currentSize := 0
	newPot := func() *Pot {
		id := base
		if potIndex > 0 {
			id = fmt.Sprintf("%s_%d", base, potIndex+1)
		}
		pots = append(pots, Pot{ID: id, Type: b.ModuleType})
		potIndex++
		currentSize = 0
		return &pots[len(pots)-1]
	}
	cur := newPot()
	for _, id := range ordered {
		sz := size(id)
		if len(cur.Modules) > 0 && currentSize+sz > maxSize {
			cur = newPot()
		}
		cur.Modules = append(cur.Modules, id)
		currentSize += sz
	}
	return pots
}

// topoOrder returns members in topological order restricted to the
// subgraph induced by members, breaking cycles by id (spec.md §4.5 step
// D). Modules not present as keys in the subgraph (no edges recorded
// between members) retain id order.
func topoOrder(g *kilngraph.Graph, members []kilnmodule.ID) []kilnmodule.ID {
	memberSet := make(map[kilnmodule.ID]struct{}, len(members))
	for _, id := range members {
		memberSet[id] = struct{}{}
	}

	visited := make(map[kilnmodule.ID]bool)
	onStack := make(map[kilnmodule.ID]bool)
	var out []kilnmodule.ID

	var visit func(kilnmodule.ID)
	visit = func(id kilnmodule.ID) {
		if visited[id] {
			return
		}
		if onStack[id] {
			return // cycle: break here, per spec.md §4.5 step D
		}
		onStack[id] = true
		for _, e := range g.Edges(id) {
			if _, ok := memberSet[e.To]; ok {
				visit(e.To)
			}
		}
		onStack[id] = false
		visited[id] = true
		out = append(out, id)
	}

	sorted := append([]kilnmodule.ID(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, id := range sorted {
		visit(id)
	}
	return out
}
