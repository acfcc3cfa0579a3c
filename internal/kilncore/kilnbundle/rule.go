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

// Package kilnbundle implements the default partial-bundling engine of
// spec.md §4.5: bucket generation over (group-set, module-type, rule),
// priority-ordered bucket processing, and pot assignment with size-bounded
// splitting and naming-collision handling.
package kilnbundle

import (
	"regexp"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

// Rule is one bucket rule from config: a name, a matching predicate over
// module type/path/size, a processing weight, and min/max size targets.
type Rule struct {
	Name        string
	ModuleTypes []kilnmodule.Type // empty = any type
	PathPattern *regexp.Regexp    // nil = any path
	MinSize     int
	MaxSize     int // 0 = use Config.DefaultMaxSize
	Weight      int
}

// Matches reports whether rule claims a module of the given type, path and
// loaded size.
func (r Rule) Matches(moduleType kilnmodule.Type, path string, size int) bool {
	if len(r.ModuleTypes) > 0 {
		found := false
		for _, t := range r.ModuleTypes {
			if t == moduleType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.PathPattern != nil && !r.PathPattern.MatchString(path) {
		return false
	}
	if r.MinSize > 0 && size < r.MinSize {
		return false
	}
	if r.MaxSize > 0 && size > r.MaxSize {
		return false
	}
	return true
}

// Config is the partial-bundling configuration of spec.md §4.5: zero or
// more bucket rules plus a default max pot size applied when a bucket
// matches no rule (or a matched rule leaves MaxSize unset).
type Config struct {
	Rules          []Rule
	DefaultMaxSize int
}

const defaultMaxPotSize = 500_000 // bytes; matches typical bundler "warn above" defaults

func (c Config) effectiveDefaultMaxSize() int {
	if c.DefaultMaxSize > 0 {
		return c.DefaultMaxSize
	}
	return defaultMaxPotSize
}

// matchRule returns the first matching rule (config order), or a synthetic
// catch-all "default" rule if none claim the module.
func (c Config) matchRule(moduleType kilnmodule.Type, path string, size int) Rule {
	for _, rule := range c.Rules {
		if rule.Matches(moduleType, path, size) {
			return rule
		}
	}
	return Rule{Name: "default", Weight: 0, MaxSize: c.effectiveDefaultMaxSize()}
}
