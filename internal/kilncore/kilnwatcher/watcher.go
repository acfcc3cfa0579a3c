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

// Package kilnwatcher implements the cross-platform file watcher of
// spec.md §4.8, fsnotify-backed the way private/buf/buflsp wires its own
// *fsnotify.Watcher: range the Events channel on a dedicated goroutine,
// filter by a per-OS event policy, and coalesce into debounced batches.
package kilnwatcher

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultDebounce matches the "coalesce into a single callback invocation"
// requirement of spec.md §4.8 without pinning embedders to one constant.
const defaultDebounce = 50 * time.Millisecond

// Watcher wraps one *fsnotify.Watcher with the recursive-prefix and
// per-OS filtering policy of spec.md §4.8.
type Watcher struct {
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onBatch  func(paths []string)

	mu        sync.Mutex
	prefixes  []string // recursive subscription roots (macOS/Windows only)
	watchedAt map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer

	closeOnce sync.Once
}

// New starts a Watcher. onBatch is invoked on its own goroutine once per
// debounce window with the sorted set of paths that changed.
func New(logger *zap.Logger, debounce time.Duration, onBatch func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		logger:    logger.Named("kilnwatcher"),
		fsw:       fsw,
		debounce:  debounce,
		onBatch:   onBatch,
		watchedAt: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch subscribes to paths, per spec.md §4.8: on macOS/Windows the
// longest common path prefix of all requested paths is computed and
// subscribed recursively, deduplicating against prefixes already covered;
// on Linux each path is subscribed individually, non-recursively.
func (w *Watcher) Watch(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if recursiveSubscribe {
		return w.watchRecursive(paths)
	}
	return w.watchIndividually(paths)
}

func (w *Watcher) watchIndividually(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs error
	for _, p := range paths {
		if _, ok := w.watchedAt[p]; ok {
			continue
		}
		if err := w.fsw.Add(p); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		w.watchedAt[p] = struct{}{}
	}
	return errs
}

func (w *Watcher) watchRecursive(paths []string) error {
	prefix := longestCommonPathPrefix(paths)
	if prefix == "" {
		return w.watchIndividually(paths)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, covered := range w.prefixes {
		if pathHasPrefix(prefix, covered) {
			return nil // already covered by a broader subscription
		}
	}

	var newPrefixes []string
	for _, covered := range w.prefixes {
		if !pathHasPrefix(covered, prefix) {
			newPrefixes = append(newPrefixes, covered)
		}
	}
	w.prefixes = append(newPrefixes, prefix)

	return filepath.WalkDir(prefix, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: a vanished directory is not fatal to the whole subscribe
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.watchedAt[p]; ok {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("watch add failed", zap.String("path", p), zap.Error(err))
			return nil
		}
		w.watchedAt[p] = struct{}{}
		return nil
	})
}

// Unwatch removes path; unwatching an untracked path is a no-op per
// spec.md §6's watcher contract.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchedAt[path]; !ok {
		return nil
	}
	delete(w.watchedAt, path)
	if err := w.fsw.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Close stops the watcher and its event loop.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if allowed(event.Op) {
				w.enqueue(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watcher events producing errors are logged only (spec.md §7).
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) enqueue(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 || w.onBatch == nil {
		return
	}
	sort.Strings(paths)
	w.onBatch(paths)
}

// longestCommonPathPrefix returns the deepest directory common to every
// path in paths, split on "/" after normalizing separators.
func longestCommonPathPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	split := make([][]string, len(paths))
	for i, p := range paths {
		split[i] = strings.Split(filepath.ToSlash(p), "/")
	}
	common := split[0]
	for _, segs := range split[1:] {
		common = commonSegments(common, segs)
		if len(common) == 0 {
			return ""
		}
	}
	joined := strings.Join(common, "/")
	if filepath.IsAbs(paths[0]) && !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return filepath.FromSlash(joined)
}

func commonSegments(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var out []string
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			break
		}
		out = append(out, a[i])
	}
	return out
}

// pathHasPrefix reports whether p lies at or under prefix, comparing
// whole path segments rather than raw string prefixes.
func pathHasPrefix(p, prefix string) bool {
	p = filepath.Clean(p)
	prefix = filepath.Clean(prefix)
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+string(filepath.Separator))
}
