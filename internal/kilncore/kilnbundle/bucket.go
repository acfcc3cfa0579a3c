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
	"sort"

	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngroup"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// Bucket is a ModuleBucket: the partition cell keyed by (group-set,
// module-type, matching rule) from spec.md §3/§4.5 step A.
type Bucket struct {
	ID            string
	GroupSet      []string
	GroupRoot     kilnmodule.ID // the module-group this bucket originates from
	ModuleType    kilnmodule.Type
	Rule          Rule
	Modules       []kilnmodule.ID
	TotalSize     int
	ResourceUnits int // number of resource pots this bucket has contributed to; tracked post-assignment
}

// Sizer returns the byte size used by the module for bucket-size
// accounting; the build pipeline supplies this from Module.Content length.
type Sizer func(kilnmodule.ID) int

// GenerateBuckets runs spec.md §4.5 step A: for each module, compute a key
// (sorted(group-set), module_type, matching rule) and insert into the
// bucket that key derives.
func GenerateBuckets(g *kilngraph.Graph, groups *kilngroup.Graph, cfg Config, size Sizer) []*Bucket {
	buckets := make(map[string]*Bucket)
	var order []string

	for _, id := range g.IDs() {
		m, ok := g.Module(id)
		if !ok || m.External {
			continue
		}
		groupSet := groups.GroupSets[id]
		sortedGroupSet := append([]string(nil), groupSet...)
		sort.Strings(sortedGroupSet)

		sz := size(id)
		rule := cfg.matchRule(m.Type, id.Path(), sz)
		key := bucketKey(sortedGroupSet, m.Type, rule.Name)

		b, ok := buckets[key]
		if !ok {
			b = &Bucket{
				ID:         key,
				GroupSet:   sortedGroupSet,
				ModuleType: m.Type,
				Rule:       rule,
			}
			// GroupRoot only names the bucket after a single originating
			// group (an entry or a dynamic-import root). A bucket shared
			// across more than one group has no such single origin; its
			// name instead falls back to one of its own member modules
			// (baseNameFor, in pot.go).
			if len(sortedGroupSet) == 1 {
				b.GroupRoot = groups.Roots[sortedGroupSet[0]]
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.Modules = append(b.Modules, id)
		b.TotalSize += sz
	}

	sort.Strings(order)
	out := make([]*Bucket, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		sort.Slice(b.Modules, func(i, j int) bool { return b.Modules[i].String() < b.Modules[j].String() })
		out = append(out, b)
	}
	return out
}

func bucketKey(groupSet []string, moduleType kilnmodule.Type, ruleName string) string {
	return kilngroup.GroupSetKey(groupSet) + "\x1e" + string(moduleType) + "\x1e" + ruleName
}

// PickNext implements spec.md §4.5 step B's total order over pending
// buckets: higher weight first; then greater total_size*resource_units;
// then greater resource_units; ties broken by id. Removes and returns the
// winner, or nil if pending is empty.
func PickNext(pending []*Bucket) (*Bucket, []*Bucket) {
	if len(pending) == 0 {
		return nil, pending
	}
	best := 0
	for i := 1; i < len(pending); i++ {
		if bucketLess(pending[best], pending[i]) {
			best = i
		}
	}
	chosen := pending[best]
	remaining := append(append([]*Bucket(nil), pending[:best]...), pending[best+1:]...)
	return chosen, remaining
}

// bucketLess reports whether a sorts before b in processing order (b wins
// the "best next" comparison).
func bucketLess(a, b *Bucket) bool {
	if a.Rule.Weight != b.Rule.Weight {
		return a.Rule.Weight < b.Rule.Weight
	}
	au := unitsOrOne(a.ResourceUnits)
	bu := unitsOrOne(b.ResourceUnits)
	aScore := a.TotalSize * au
	bScore := b.TotalSize * bu
	if aScore != bScore {
		return aScore < bScore
	}
	if a.ResourceUnits != b.ResourceUnits {
		return a.ResourceUnits < b.ResourceUnits
	}
	return a.ID > b.ID // ties broken by id, ascending id wins so reverse here
}

func unitsOrOne(units int) int {
	if units == 0 {
		return 1
	}
	return units
}
