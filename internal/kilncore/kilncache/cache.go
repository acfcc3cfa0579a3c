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

// Package kilncache implements the persistent ModuleCache of spec.md §4.6:
// a content-addressed on-disk store rooted at
// <cache_dir>/<namespace>/<mode>/modules/, storing CachedModule values
// zstd-compressed the way bufmodulestorage.store compresses module.bin.zst.
// Writes are atomic (temp file + rename); a gofrs/flock advisory lock
// serializes the temp-then-rename sequence for a single key so concurrent
// writers on the same process don't race on the same temp name, while
// remaining safe for multi-process readers per spec.md's "last-rename-wins"
// note.
package kilncache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilnerr"
)

// formatVersion is bumped whenever the on-disk encoding changes; entries
// written by an older or newer version are treated as absent rather than
// causing a hard failure, per spec.md §4.6.
const formatVersion = "v1"

// toolVersion is stamped into every cache entry; mismatches (e.g. after a
// kiln upgrade that changes module-processing semantics) invalidate the
// entry the same way a formatVersion mismatch does.
var toolVersion = "dev"

// SetToolVersion overrides the stamped tool version, called once by the
// embedder/CLI at startup.
func SetToolVersion(v string) { toolVersion = v }

// CachedModule is the finalized module plus its analyzed edges, the unit
// serialized under one content-hash key (spec.md §3).
type CachedModule struct {
	Module kilnmodule.Module
	Deps   []kilnplugin.DepEntry
}

type onDiskEntry struct {
	FormatVersion string                 `json:"format_version"`
	ToolVersion   string                 `json:"tool_version"`
	Module        kilnmodule.Module      `json:"module"`
	Deps          []kilnplugin.DepEntry  `json:"deps"`
}

// Cache is the on-disk module cache. Safe for concurrent use.
type Cache struct {
	logger  *zap.Logger
	root    string // <cache_dir>/<namespace>/<mode>/modules
	enabled bool
}

// New returns a Cache rooted at <cacheDir>/<namespace>/<mode>/modules. If
// cacheDir is empty, persistent caching is disabled and every operation is
// a no-op miss, matching spec.md §6: "Cache directory is elided when
// persistent caching is disabled in config."
func New(logger *zap.Logger, cacheDir, namespace, mode string) *Cache {
	if cacheDir == "" {
		return &Cache{logger: logger.Named("kilncache"), enabled: false}
	}
	return &Cache{
		logger:  logger.Named("kilncache"),
		root:    filepath.Join(cacheDir, namespace, mode, "modules"),
		enabled: true,
	}
}

// Enabled reports whether this Cache is backed by disk.
func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) pathFor(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.root, key)
	}
	return filepath.Join(c.root, key[:2], key)
}

// Has reports whether key is present and well-formed. A read error is
// treated as "absent" per spec.md §7 ("CacheError on read is non-fatal").
func (c *Cache) Has(ctx context.Context, key string) bool {
	_, ok, err := c.get(key)
	if err != nil {
		c.logger.Debug("cache has: treating error as miss", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// Get returns the CachedModule for key, or ok=false if absent, malformed,
// or from a different format/tool version.
func (c *Cache) Get(ctx context.Context, key string) (CachedModule, bool, error) {
	cm, ok, err := c.get(key)
	if err != nil {
		return CachedModule{}, false, nil // non-fatal per spec.md §7
	}
	return cm, ok, nil
}

func (c *Cache) get(key string) (CachedModule, bool, error) {
	if !c.enabled {
		return CachedModule{}, false, nil
	}
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CachedModule{}, false, nil
		}
		return CachedModule{}, false, err
	}
	defer f.Close()

	decoder, err := zstd.NewReader(f)
	if err != nil {
		return CachedModule{}, false, err
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return CachedModule{}, false, err
	}
	var entry onDiskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CachedModule{}, false, err
	}
	if entry.FormatVersion != formatVersion || entry.ToolVersion != toolVersion {
		return CachedModule{}, false, nil
	}
	return CachedModule{Module: entry.Module, Deps: entry.Deps}, true, nil
}

// Put stores cm under key, atomically. Write failures are logged by the
// caller and do not fail the build, per spec.md §7 ("on write it is
// logged, build proceeds").
func (c *Cache) Put(ctx context.Context, key string, cm CachedModule) error {
	if !c.enabled {
		return nil
	}
	entry := onDiskEntry{
		FormatVersion: formatVersion,
		ToolVersion:   toolVersion,
		Module:        cm.Module,
		Deps:          cm.Deps,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return kilnerr.NewCacheError(key, err)
	}

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return kilnerr.NewCacheError(key, err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return kilnerr.NewCacheError(key, err)
	}
	if err := encoder.Close(); err != nil {
		return kilnerr.NewCacheError(key, err)
	}

	dest := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return kilnerr.NewCacheError(key, err)
	}

	lock := flock.New(dest + ".lock")
	if err := lock.Lock(); err != nil {
		return kilnerr.NewCacheError(key, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return kilnerr.NewCacheError(key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return kilnerr.NewCacheError(key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return kilnerr.NewCacheError(key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return kilnerr.NewCacheError(key, err)
	}
	return nil
}

// Delete removes key, used when cache validation fails (content no longer
// matches what the key implies) or during cache invalidation on update.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	if err := os.Remove(c.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return kilnerr.NewCacheError(key, err)
	}
	return nil
}
