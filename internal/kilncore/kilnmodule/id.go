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

// Package kilnmodule defines the module identity and content model shared by
// every other core package: the ModuleGraph owns Modules, everything else
// holds an ID.
package kilnmodule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is the canonical identity of a module: a project-root-relative path
// with forward-slash separators, plus an optional query string. Two modules
// with the same ID are the same module.
type ID struct {
	relPath string
	query   string
}

// NewID returns an ID with backslashes in relPath converted to forward
// slashes; it does no other validation. relPath must already be relative to
// the project root; callers normalize absolute paths before constructing an ID.
func NewID(relPath string, query string) ID {
	return ID{
		relPath: strings.ReplaceAll(relPath, `\`, "/"),
		query:   query,
	}
}

// Path returns the relative path component.
func (id ID) Path() string { return id.relPath }

// Query returns the query component, or "" if none.
func (id ID) Query() string { return id.query }

// IsZero reports whether id is the zero value (used as a sentinel for "no
// importer", e.g. an entry's synthetic resolve request).
func (id ID) IsZero() bool { return id.relPath == "" && id.query == "" }

// String returns the development-mode string form: path plus query.
func (id ID) String() string {
	if id.query == "" {
		return id.relPath
	}
	return id.relPath + "?" + id.query
}

// StableHash returns the production-mode string form: a short, stable,
// content-independent hash of the ID pair. Unlike String, it does not leak
// source paths into output file names.
func (id ID) StableHash() string {
	sum := sha256.Sum256([]byte(id.relPath + "\x00" + id.query))
	return hex.EncodeToString(sum[:])[:16]
}

// DisplayString returns String in development mode and StableHash in
// production mode, matching spec.md §3's "a separate string form is
// produced per mode" invariant.
func (id ID) DisplayString(production bool) string {
	if production {
		return id.StableHash()
	}
	return id.String()
}

// GoString supports %#v and debug printing.
func (id ID) GoString() string {
	return fmt.Sprintf("kilnmodule.ID{%q, %q}", id.relPath, id.query)
}
