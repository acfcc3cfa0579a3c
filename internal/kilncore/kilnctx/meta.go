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

package kilnctx

import "sync"

// Meta is the typed bag of cross-plugin scratch space described in
// spec.md §4.2 and supplemented from original_source/crates/core/src/context/mod.rs's
// `meta: Arc<Mutex<HashMap<...>>>` field. A single mutex guards a plain map,
// so Get, Set, GetOrSet and Delete are serialized across all keys: a plugin
// writing key "sass-ast" waits while another writes "ts-program".
type Meta struct {
	mu   sync.Mutex
	data map[string]any
}

// NewMeta returns an empty Meta map.
func NewMeta() *Meta {
	return &Meta{data: make(map[string]any)}
}

// Get returns the value stored at key, or ok=false.
func (m *Meta) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Set stores value at key, overwriting any prior value.
func (m *Meta) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// GetOrSet returns the existing value at key if present, otherwise calls
// compute, stores, and returns its result. compute runs at most once per
// key even under concurrent callers.
func (m *Meta) GetOrSet(key string, compute func() any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v
	}
	v := compute()
	m.data[key] = v
	return v
}

// Delete removes key.
func (m *Meta) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}
