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

// Package kilngroup implements ModuleGroup derivation (spec.md §4.4): the
// default algorithm run when no plugin claims analyze_module_graph. A
// group is rooted at an entry or at a dynamic-import boundary; a module's
// final group-set is the union observed across every path that reaches it.
package kilngroup

import (
	"sort"
	"strings"

	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// Graph is the ModuleGroupGraph: for every module reachable from at least
// one entry, the sorted set of group ids ("the union observed across all
// paths") that reach it, plus the set of entry/dynamic-root ids.
type Graph struct {
	// Roots maps a group id to the module id that roots it (an entry id,
	// or a dynamic-import target).
	Roots map[string]kilnmodule.ID
	// GroupSets maps a module id to its sorted group-id set.
	GroupSets map[kilnmodule.ID][]string
}

// GroupSetKey renders a sorted group-set as a stable map/bucket key.
func GroupSetKey(groups []string) string {
	return strings.Join(groups, "\x1f")
}

// Entry is one configured build entry: an id plus the name used to derive
// its pot's base name (spec.md §4.5 step C).
type Entry struct {
	ID   kilnmodule.ID
	Name string
}

// Derive runs the default BFS/DFS-based derivation of spec.md §4.4: DFS
// from each entry; a static edge propagates the current group-set to the
// child; a dynamic-import edge opens a new group (rooted at the target)
// and recurses with that group alone as the running set, so the importer's
// groups do not carry across the dynamic import. Entry iteration
// is sorted by id to keep multi-entry fan-out deterministic (spec.md §4.3's
// "stabilize graph iteration orders by sorting ... at every multi-child
// fan-out").
func Derive(g *kilngraph.Graph, entries []Entry) *Graph {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })

	groupGraph := &Graph{
		Roots:     make(map[string]kilnmodule.ID),
		GroupSets: make(map[kilnmodule.ID][]string),
	}
	groupSetAcc := make(map[kilnmodule.ID]map[string]struct{})

	for _, entry := range sorted {
		groupGraph.Roots[entry.ID.String()] = entry.ID
		walk(g, entry.ID, []string{entry.ID.String()}, groupGraph, groupSetAcc, make(map[kilnmodule.ID]struct{}))
	}

	for id, set := range groupSetAcc {
		groups := make([]string, 0, len(set))
		for group := range set {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		groupGraph.GroupSets[id] = groups
	}
	return groupGraph
}

func walk(
	g *kilngraph.Graph,
	current kilnmodule.ID,
	activeGroups []string,
	groupGraph *Graph,
	acc map[kilnmodule.ID]map[string]struct{},
	onPath map[kilnmodule.ID]struct{},
) {
	if acc[current] == nil {
		acc[current] = make(map[string]struct{})
	}
	for _, group := range activeGroups {
		acc[current][group] = struct{}{}
	}
	if _, cyclic := onPath[current]; cyclic {
		return
	}
	onPath[current] = struct{}{}
	defer delete(onPath, current)

	for _, e := range g.Edges(current) {
		switch e.Edge.Kind {
		case kilnmodule.DepKindDynamicImport:
			groupID := e.To.String()
			groupGraph.Roots[groupID] = e.To
			walk(g, e.To, []string{groupID}, groupGraph, acc, onPath)
		default:
			walk(g, e.To, activeGroups, groupGraph, acc, onPath)
		}
	}
}
