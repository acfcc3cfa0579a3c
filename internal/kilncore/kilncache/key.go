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

package kilncache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// ContentHash computes the content hash of spec.md §4.3 step 4.b: a hash
// over the loaded content, module type, the ordered set of plugin versions
// that can influence this module's processing, and the build mode.
func ContentHash(content string, moduleType kilnmodule.Type, pluginVersions []string, mode string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(moduleType))
	h.Write([]byte{0})
	for _, v := range pluginVersions {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))
}

// Namespace returns the cache sub-namespace for a module, splitting
// immutable (long-term-cacheable third-party) content from user code, per
// SPEC_FULL.md's "immutable-module cache eligibility split". The caller
// prefixes the content hash with this before calling Cache.Get/Put, so the
// split lives entirely in the key and needs no change to the Cache's
// on-disk layout.
func Namespace(immutable bool) string {
	if immutable {
		return "immutable-"
	}
	return "mutable-"
}
