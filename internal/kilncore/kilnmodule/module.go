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

package kilnmodule

// Type classifies a module for front-end dispatch. Script, CSS, HTML and
// Asset are built in; anything else is a plugin-defined custom type.
type Type string

const (
	TypeScript Type = "script"
	TypeCSS    Type = "css"
	TypeHTML   Type = "html"
	TypeAsset  Type = "asset"
)

// DepKind classifies how an importer referenced an importee.
type DepKind string

const (
	DepKindStaticImport  DepKind = "static-import"
	DepKindDynamicImport DepKind = "dynamic-import"
	DepKindRequire       DepKind = "require"
	DepKindURLReference  DepKind = "url-reference"
	DepKindEntry         DepKind = "entry"
)

// SourceMap is an opaque, plugin-produced source map payload.
type SourceMap struct {
	Mappings string
	Sources  []string
}

// Module is the finalized unit of source: one file (plus optional query)
// after load+transform+parse. The ModuleGraph exclusively owns Module
// values; every other component refers to a module by its ID.
//
// A Module is immutable after analyze-deps finishes within a single build,
// except for in-place mutation during the process-module hook, which runs
// before that point.
type Module struct {
	ID          ID
	Type        Type
	Content     string
	ContentHash string
	Meta        map[string]any
	SideEffects bool
	External    bool
	Immutable   bool
	Accept      bool
	SourceMap   *SourceMap
}

// Edge is one import site from an importer to an importee.
type Edge struct {
	Source string
	Kind   DepKind
	Order  int
}

// Clone returns a deep-enough copy of m suitable for cache round-tripping:
// the Meta map is copied by reference to the same values (Meta payloads are
// plugin-opaque and never mutated after finalize-module), everything else
// by value.
func (m Module) Clone() Module {
	clone := m
	if m.Meta != nil {
		clone.Meta = make(map[string]any, len(m.Meta))
		for k, v := range m.Meta {
			clone.Meta[k] = v
		}
	}
	if m.SourceMap != nil {
		sm := *m.SourceMap
		clone.SourceMap = &sm
	}
	return clone
}
