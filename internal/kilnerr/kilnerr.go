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

// Package kilnerr implements the tagged error kinds of spec.md §7, in the
// teacher's style (internal/buf/bufmodule/errors.go, internal/buf/buferrs):
// a single exported Error struct tagged by Kind, implementing error, Unwrap
// and Is, exposed through New*Error constructors.
package kilnerr

import (
	"errors"
	"fmt"
)

// Kind is one of the tagged error kinds from spec.md §7.
type Kind string

const (
	KindResolve          Kind = "resolve"
	KindLoad             Kind = "load"
	KindParse            Kind = "parse"
	KindTransform        Kind = "transform"
	KindAnalyzeDeps      Kind = "analyze-deps"
	KindProcessModule    Kind = "process-module"
	KindRender           Kind = "render"
	KindGenerateResource Kind = "generate-resource"
	KindIO               Kind = "io"
	KindCache            Kind = "cache"
	KindConfig           Kind = "config"
	KindPlugin           Kind = "plugin"
	KindGeneric          Kind = "generic"
)

// Error is the shared tagged-error type. Fields beyond Kind/Message are
// populated selectively depending on Kind, mirroring the per-kind payload
// fields of spec.md §7 (ResolveError{source, importer}, LoadError{path},
// etc).
type Error struct {
	Kind     Kind
	Message  string
	Path     string
	Source   string
	Importer string
	Plugin   string
	Pot      string
	CacheKey string
	Wrapped  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindResolve:
		return fmt.Sprintf("resolve %q from %q: %s", e.Source, e.Importer, e.Message)
	case KindLoad:
		return fmt.Sprintf("load %q: %s", e.Path, e.Message)
	case KindParse:
		return fmt.Sprintf("parse %q: %s", e.Path, e.Message)
	case KindTransform:
		return fmt.Sprintf("transform %q (plugin %q): %s", e.Path, e.Plugin, e.Message)
	case KindRender, KindGenerateResource:
		return fmt.Sprintf("%s pot %q: %s", e.Kind, e.Pot, e.Message)
	case KindCache:
		return fmt.Sprintf("cache %q: %s", e.CacheKey, e.Message)
	case KindPlugin:
		return fmt.Sprintf("plugin %q: %s", e.Plugin, e.Message)
	default:
		return string(e.Kind) + ": " + e.Message
	}
}

// Unwrap supports errors.Is/As against a wrapped cause.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, kilnerr.Sentinel(kilnerr.KindCache)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinel returns a comparison-only *Error of the given kind, for use with
// errors.Is.
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewResolveError(source, importer, message string) error {
	return &Error{Kind: KindResolve, Source: source, Importer: importer, Message: message}
}

func NewLoadError(path string, cause error) error {
	return &Error{Kind: KindLoad, Path: path, Message: cause.Error(), Wrapped: cause}
}

func NewTransformError(path, plugin string, cause error) error {
	return &Error{Kind: KindTransform, Path: path, Plugin: plugin, Message: cause.Error(), Wrapped: cause}
}

func NewCacheError(key string, cause error) error {
	return &Error{Kind: KindCache, CacheKey: key, Message: cause.Error(), Wrapped: cause}
}

func NewPluginError(plugin string, cause error) error {
	return &Error{Kind: KindPlugin, Plugin: plugin, Message: cause.Error(), Wrapped: cause}
}

func NewRenderError(pot string, cause error) error {
	return &Error{Kind: KindRender, Pot: pot, Message: cause.Error(), Wrapped: cause}
}

func NewGenerateError(pot string, cause error) error {
	return &Error{Kind: KindGenerateResource, Pot: pot, Message: cause.Error(), Wrapped: cause}
}

// IsKind reports whether err (or any error it wraps) is a *Error of kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, Sentinel(kind))
}
