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

// Package kilnfsplugin is the built-in filesystem plugin: it resolves
// relative and bare specifiers against disk, loads file content, classifies
// modules by extension, and scans for static/dynamic imports. It is what a
// Compiler registers when the embedder configures no resolver of its own,
// the same role internal/buf/bufmodule's local-directory module resolution
// plays for the teacher's workspace lookups.
package kilnfsplugin

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/pkg/normalpath"
)

// lowestPriority ensures every user-registered plugin gets first crack at
// each hook: the driver dispatches resolve/load/parse first-non-empty in
// descending-priority order, and kilnfsplugin is the fallback of last
// resort, never an override.
const lowestPriority = -1000

var (
	scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}
	cssExtensions    = []string{".css"}
	htmlExtensions   = []string{".html", ".htm"}

	staticImportRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w*{}\s,]+from\s+)?['"]([^'"]+)['"]`)
	dynamicImportRe = regexp.MustCompile(`import\(\s*['"]([^'"]+)['"]\s*\)`)
	requireRe       = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	cssImportRe     = regexp.MustCompile(`@import\s+(?:url\()?['"]?([^'")\s;]+)['"]?\)?`)
	htmlScriptRe    = regexp.MustCompile(`<script[^>]*\ssrc=['"]([^'"]+)['"]`)
	htmlLinkRe      = regexp.MustCompile(`<link[^>]*\shref=['"]([^'"]+)['"]`)
)

// Plugin is the built-in filesystem resolver/loader/parser/analyzer.
// ProjectRoot is an absolute path; every ModuleId it produces is relative
// to it, per spec.md §3.
type Plugin struct {
	kilnplugin.Base

	ProjectRoot string
}

// New returns the built-in filesystem plugin rooted at projectRoot, which
// must already be an absolute, cleaned path.
func New(projectRoot string) *Plugin {
	return &Plugin{ProjectRoot: filepath.Clean(projectRoot)}
}

func (p *Plugin) Name() string { return "kiln:filesystem" }

func (p *Plugin) Priority() int { return lowestPriority }

// Resolve resolves req.Source against disk, relative to req.Importer's
// directory (or ProjectRoot for an entry's synthetic request), trying the
// literal path, every recognized extension, and index files in that order.
// A specifier that does not start with "." or "/" is treated as a bare
// package import, looked up under node_modules and marked External and
// Immutable (spec.md §3's "third-party code eligible for long-term
// caching").
func (p *Plugin) Resolve(ctx context.Context, req kilnplugin.ResolveRequest) (kilnplugin.ResolveResult, error) {
	if isBareSpecifier(req.Source) {
		return p.resolveBare(req.Source)
	}

	baseDir := p.ProjectRoot
	if !req.Importer.IsZero() {
		baseDir = filepath.Join(p.ProjectRoot, filepath.FromSlash(path.Dir(req.Importer.Path())))
	}
	absCandidate := filepath.Join(baseDir, filepath.FromSlash(req.Source))

	resolved, ok := resolveOnDisk(absCandidate)
	if !ok {
		return kilnplugin.ResolveResult{}, nil
	}
	relPath, err := p.relativePath(resolved)
	if err != nil {
		return kilnplugin.ResolveResult{}, err
	}
	return kilnplugin.ResolveResult{Found: true, ResolvedPath: relPath}, nil
}

func (p *Plugin) resolveBare(specifier string) (kilnplugin.ResolveResult, error) {
	nodeModules := filepath.Join(p.ProjectRoot, "node_modules")
	pkgDir := filepath.Join(nodeModules, filepath.FromSlash(specifier))

	candidate := pkgDir
	if main := packageMain(pkgDir); main != "" {
		candidate = filepath.Join(pkgDir, filepath.FromSlash(main))
	}
	resolved, ok := resolveOnDisk(candidate)
	if !ok {
		return kilnplugin.ResolveResult{}, nil
	}
	relPath, err := p.relativePath(resolved)
	if err != nil {
		return kilnplugin.ResolveResult{}, err
	}
	return kilnplugin.ResolveResult{
		Found:        true,
		ResolvedPath: relPath,
		External:     true,
		Immutable:    true,
	}, nil
}

// packageMain reads pkgDir/package.json's "main" field, returning "" if
// either is absent.
func packageMain(pkgDir string) string {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return ""
	}
	var manifest struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	return manifest.Main
}

// resolveOnDisk tries candidate as a literal file, then candidate plus each
// known extension, then an index file inside candidate if it is a
// directory.
func resolveOnDisk(candidate string) (string, bool) {
	if isRegularFile(candidate) {
		return candidate, true
	}
	for _, ext := range allExtensions() {
		if withExt := candidate + ext; isRegularFile(withExt) {
			return withExt, true
		}
	}
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		for _, ext := range allExtensions() {
			if idx := filepath.Join(candidate, "index"+ext); isRegularFile(idx) {
				return idx, true
			}
		}
	}
	return "", false
}

func isRegularFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func allExtensions() []string {
	exts := make([]string, 0, len(scriptExtensions)+len(cssExtensions)+len(htmlExtensions))
	exts = append(exts, scriptExtensions...)
	exts = append(exts, cssExtensions...)
	exts = append(exts, htmlExtensions...)
	return exts
}

func isBareSpecifier(source string) bool {
	return !strings.HasPrefix(source, ".") && !strings.HasPrefix(source, "/")
}

// relativePath makes an absolute on-disk path relative to ProjectRoot and
// normalizes separators, producing the path component of a ModuleId.
func (p *Plugin) relativePath(absPath string) (string, error) {
	rel, err := filepath.Rel(p.ProjectRoot, absPath)
	if err != nil {
		return "", err
	}
	return normalpath.Normalize(rel), nil
}

// Load reads resolved_path from disk relative to ProjectRoot and classifies
// it by extension.
func (p *Plugin) Load(ctx context.Context, req kilnplugin.LoadRequest) (kilnplugin.LoadResult, error) {
	abs := filepath.Join(p.ProjectRoot, filepath.FromSlash(req.ResolvedPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		return kilnplugin.LoadResult{}, err
	}
	return kilnplugin.LoadResult{
		Found:      true,
		Content:    string(content),
		ModuleType: classify(req.ResolvedPath),
	}, nil
}

func classify(p string) kilnmodule.Type {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range scriptExtensions {
		if e == ext {
			return kilnmodule.TypeScript
		}
	}
	for _, e := range cssExtensions {
		if e == ext {
			return kilnmodule.TypeCSS
		}
	}
	for _, e := range htmlExtensions {
		if e == ext {
			return kilnmodule.TypeHTML
		}
	}
	return kilnmodule.TypeAsset
}

// Parse builds a Module directly from the (possibly transformed) content,
// with no further AST step: kilnfsplugin's analyze-deps works from raw
// source text via regular expressions, so parse only needs to carry
// content and type forward.
func (p *Plugin) Parse(ctx context.Context, req kilnplugin.TransformRequest) (kilnplugin.ParseResult, error) {
	return kilnplugin.ParseResult{
		Found: true,
		Module: kilnmodule.Module{
			Type:      req.ModuleType,
			Content:   req.Content,
			SideEffects: req.ModuleType == kilnmodule.TypeCSS,
		},
	}, nil
}

// AnalyzeDeps scans m.Content for import sites appropriate to m.Type.
// Script specifiers found inside a dynamic import() call are reported as
// DepKindDynamicImport (a ModuleGroup boundary, spec.md §4.4); everything
// else is DepKindStaticImport, DepKindRequire or DepKindURLReference.
func (p *Plugin) AnalyzeDeps(ctx context.Context, m *kilnmodule.Module) ([]kilnplugin.DepEntry, error) {
	var entries []kilnplugin.DepEntry
	order := 0
	add := func(source string, kind kilnmodule.DepKind) {
		entries = append(entries, kilnplugin.DepEntry{Source: source, Kind: kind, Order: order})
		order++
	}

	switch m.Type {
	case kilnmodule.TypeScript:
		for _, match := range staticImportRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindStaticImport)
		}
		for _, match := range dynamicImportRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindDynamicImport)
		}
		for _, match := range requireRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindRequire)
		}
	case kilnmodule.TypeCSS:
		for _, match := range cssImportRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindURLReference)
		}
	case kilnmodule.TypeHTML:
		for _, match := range htmlScriptRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindURLReference)
		}
		for _, match := range htmlLinkRe.FindAllStringSubmatch(m.Content, -1) {
			add(match[1], kilnmodule.DepKindURLReference)
		}
	}
	return entries, nil
}

var _ kilnplugin.Plugin = (*Plugin)(nil)
