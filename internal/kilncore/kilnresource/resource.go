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

// Package kilnresource implements Resource, the final emitted artifact of
// spec.md §3, and the resources_map described in spec.md §4.2: a plain
// mutex-guarded map (writes bursty, reads rare), unlike the reader-heavy
// RWMutex-guarded graphs in kilngraph/kilnwatch.
package kilnresource

import (
	"sort"
	"sync"
)

// Resource is a final emitted artifact.
type Resource struct {
	Name         string
	Bytes        []byte
	ResourceType string
	Emitted      bool
}

// Map is the resources_map of spec.md §4.2: a mutex-guarded map keyed by
// resource name.
type Map struct {
	mu    sync.Mutex
	byKey map[string]Resource
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{byKey: make(map[string]Resource)}
}

// Put inserts or overwrites a resource.
func (m *Map) Put(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[r.Name] = r
}

// Get returns the resource named name, or ok=false.
func (m *Map) Get(name string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byKey[name]
	return r, ok
}

// MarkEmitted flips the Emitted flag once a resource has been handed to an
// external writer.
func (m *Map) MarkEmitted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byKey[name]; ok {
		r.Emitted = true
		m.byKey[name] = r
	}
}

// All returns every resource, in a deterministic name-sorted order.
func (m *Map) All() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, 0, len(m.byKey))
	for _, r := range m.byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
