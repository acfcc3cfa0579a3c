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

// Package kilnctx implements the CompilationContext of spec.md §4.2/§9: a
// typed bag of independently lockable sub-components, replacing the
// original design's single shared-ownership context value. Every field is
// reachable through its own accessor; plugins are hollowed out to the
// narrower Helpers interface rather than the whole bag wherever practical.
package kilnctx

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilncache"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngraph"
	"github.com/kilnbuild/kiln/internal/kilncore/kilngroup"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnwatch"
	"github.com/kilnbuild/kiln/internal/kilnconfig"
)

// Context is the CompilationContext: the process-wide shared state
// constructed once per Compiler. Construction is infallible once Config is
// valid (spec.md §4.2); plugins may still fail during compile.
type Context struct {
	logger *zap.Logger

	// Config is immutable after config_resolved, so it is safe to read
	// without a lock once the build has started.
	Config *kilnconfig.Config

	Graph     *kilngraph.Graph
	Watch     *kilnwatch.Graph
	Resources *kilnresource.Map
	Cache     *kilncache.Cache
	Driver    *kilnplugin.Driver
	Meta      *Meta
	Records   *RecordManager

	groupsMu sync.RWMutex
	groups   *kilngroup.Graph

	potsMu sync.RWMutex
	pots   []kilnbundle.Pot
}

// New constructs a Context over an already-valid Config. Graph, Watch,
// Resources, Cache, Meta and Records are all independently lockable, per
// spec.md §5's "Shared-resource discipline".
func New(logger *zap.Logger, cfg *kilnconfig.Config, cache *kilncache.Cache, driver *kilnplugin.Driver) *Context {
	return &Context{
		logger:    logger.Named("kilnctx"),
		Config:    cfg,
		Graph:     kilngraph.New(),
		Watch:     kilnwatch.New(),
		Resources: kilnresource.NewMap(),
		Cache:     cache,
		Driver:    driver,
		Meta:      NewMeta(),
		Records:   NewRecordManager(),
	}
}

// Groups returns the current ModuleGroupGraph, or nil before the first
// grouping pass has run.
func (c *Context) Groups() *kilngroup.Graph {
	c.groupsMu.RLock()
	defer c.groupsMu.RUnlock()
	return c.groups
}

// SetGroups replaces the ModuleGroupGraph, called once per compile or
// scoped re-partitioning pass (spec.md §4.3 step 6, §4.7 step 5).
func (c *Context) SetGroups(g *kilngroup.Graph) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	c.groups = g
}

// Pots returns a copy of the current ResourcePot set.
func (c *Context) Pots() []kilnbundle.Pot {
	c.potsMu.RLock()
	defer c.potsMu.RUnlock()
	return append([]kilnbundle.Pot(nil), c.pots...)
}

// SetPots replaces the ResourcePotMap, called once per compile or scoped
// re-partitioning pass (spec.md §4.5, §4.7 step 5).
func (c *Context) SetPots(pots []kilnbundle.Pot) {
	c.potsMu.Lock()
	defer c.potsMu.Unlock()
	c.pots = pots
}

// AddWatchFiles records that each of `tos` was consulted while producing
// `from`, exposed to plugins via Helpers.AddWatchFiles (spec.md §4.2).
func (c *Context) AddWatchFiles(from string, tos []string) {
	c.Watch.Add(from, tos)
}

// EmitFileParams describes a plugin-emitted out-of-band resource (e.g. a
// copied static asset), distinct from a ResourcePot's rendered content.
type EmitFileParams struct {
	Name         string
	Bytes        []byte
	ResourceType string
}

// EmitFile inserts an out-of-band resource into resources_map, exposed to
// plugins via Helpers.EmitFile.
func (c *Context) EmitFile(p EmitFileParams) {
	c.Resources.Put(kilnresource.Resource{
		Name:         p.Name,
		Bytes:        p.Bytes,
		ResourceType: p.ResourceType,
	})
}

// Resolve re-enters the plugin driver's resolve hook, exposed to plugins via
// Helpers.Resolve (spec.md §4.2: "resolve(...) (re-enters the driver)"). The
// driver is reentrant and never holds a lock across the call, so a plugin
// may safely call this from within its own hook.
func (c *Context) Resolve(ctx context.Context, req kilnplugin.ResolveRequest) (kilnplugin.ResolveResult, error) {
	return c.Driver.Resolve(ctx, req)
}

// Log appends a diagnostic record for moduleID and, for RecordError,
// reports true meaning the current hook round must fail (spec.md §7).
func (c *Context) Log(moduleID string, level RecordLevel, plugin, message string) (fatal bool) {
	c.Records.Append(moduleID, Record{Level: level, Plugin: plugin, Message: message})
	switch level {
	case RecordWarn:
		c.logger.Warn("plugin warning", zap.String("module", moduleID), zap.String("plugin", plugin), zap.String("message", message))
	case RecordError:
		c.logger.Error("plugin error", zap.String("module", moduleID), zap.String("plugin", plugin), zap.String("message", message))
		return true
	}
	return false
}

// Helpers is the trimmed interface plugins see instead of the whole
// Context, per spec.md §9's "plugins receive an interface narrower than the
// whole bag wherever practical".
type Helpers interface {
	AddWatchFiles(from string, tos []string)
	EmitFile(p EmitFileParams)
	Resolve(ctx context.Context, req kilnplugin.ResolveRequest) (kilnplugin.ResolveResult, error)
	Log(moduleID string, level RecordLevel, plugin, message string) (fatal bool)
}

var _ Helpers = (*Context)(nil)
