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

package kilnbuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnbundle"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnplugin"
	"github.com/kilnbuild/kiln/internal/kilncore/kilnresource"
)

// RenderPots runs spec.md §4.3 step 8 over pots: process_resource_pots once
// over the whole set, then per pot render_resource_pot (falling back to the
// chained render_resource_pot_modules, then to a plain concatenation of
// module content when no plugin claims either), augment_resource_hash, and
// generate_resources. process_generated_resources and
// handle_entry_resource/finalize_resources each run once over the
// accumulated set, and every surviving resource is deposited into
// resources_map. Pots are processed in id order to keep output deterministic
// across runs (spec.md §4.3/§5).
func (b *Builder) RenderPots(ctx context.Context, pots []kilnbundle.Pot) ([]kilnresource.Resource, error) {
	sorted := append([]kilnbundle.Pot(nil), pots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := b.cctx.Driver.ProcessResourcePots(ctx, &sorted); err != nil {
		return nil, err
	}

	var all []kilnresource.Resource
	for _, pot := range sorted {
		content, err := b.renderPot(ctx, pot)
		if err != nil {
			return nil, err
		}
		hashFragment, err := b.cctx.Driver.AugmentResourceHash(ctx, pot)
		if err != nil {
			return nil, err
		}
		resources, err := b.generatePot(ctx, pot, content, hashFragment)
		if err != nil {
			return nil, err
		}
		all = append(all, resources...)
	}

	if err := b.cctx.Driver.ProcessGeneratedResources(ctx, &all); err != nil {
		return nil, err
	}

	byName := make(map[string]kilnresource.Resource, len(all))
	for _, r := range all {
		byName[r.Name] = r
	}
	if err := b.cctx.Driver.FinalizeResources(ctx, byName); err != nil {
		return nil, err
	}

	final := make([]kilnresource.Resource, 0, len(byName))
	for _, r := range byName {
		b.cctx.Resources.Put(r)
		final = append(final, r)
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Name < final[j].Name })
	return final, nil
}

// renderPot tries render_resource_pot, then render_resource_pot_modules,
// then falls back to a naive concatenation of the pot's modules in their
// already-topological order.
func (b *Builder) renderPot(ctx context.Context, pot kilnbundle.Pot) (string, error) {
	fallback := b.defaultPotContent(pot)

	res, err := b.cctx.Driver.RenderResourcePot(ctx, kilnplugin.RenderRequest{Pot: pot, Content: fallback})
	if err != nil {
		return "", err
	}
	if res.Found {
		return res.Content, nil
	}

	chained, err := b.cctx.Driver.RenderResourcePotModules(ctx, kilnplugin.RenderRequest{Pot: pot, Content: fallback})
	if err != nil {
		return "", err
	}
	if chained.Found {
		return chained.Content, nil
	}
	return fallback, nil
}

// defaultPotContent concatenates every module's content in pot order, the
// fallback used when no plugin claims render_resource_pot or its chained
// variant (spec.md §9: plugins default to "no decision").
func (b *Builder) defaultPotContent(pot kilnbundle.Pot) string {
	var sb strings.Builder
	for _, id := range pot.Modules {
		if m, ok := b.cctx.Graph.Module(id); ok {
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// generatePot tries generate_resources, then falls back to a single
// Resource holding the rendered content verbatim, named after the pot and
// its module type. hashFragment is augment_resource_hash's accumulated
// output; when non-empty it is folded into the fallback resource's name as
// a cache-busting suffix, the same role a content hash plays in a bundled
// output filename.
func (b *Builder) generatePot(ctx context.Context, pot kilnbundle.Pot, content, hashFragment string) ([]kilnresource.Resource, error) {
	res, err := b.cctx.Driver.GenerateResources(ctx, kilnplugin.GenerateRequest{Pot: pot, Content: content})
	if err != nil {
		return nil, err
	}
	if res.Found {
		return res.Resources, nil
	}

	name := pot.ID
	if hashFragment != "" {
		name += "." + shortHash(hashFragment)
	}
	return []kilnresource.Resource{{
		Name:         name + extensionFor(pot.Type),
		Bytes:        []byte(content),
		ResourceType: string(pot.Type),
	}}, nil
}

// shortHash renders an 8-character hex digest of fragment, short enough to
// sit in a filename without dominating it.
func shortHash(fragment string) string {
	sum := sha256.Sum256([]byte(fragment))
	return hex.EncodeToString(sum[:])[:8]
}

// extensionFor maps a built-in module type to its default output
// extension; a plugin-defined custom type gets none, left for a
// generate_resources hook to name explicitly.
func extensionFor(t kilnmodule.Type) string {
	switch t {
	case kilnmodule.TypeScript:
		return ".js"
	case kilnmodule.TypeCSS:
		return ".css"
	case kilnmodule.TypeHTML:
		return ".html"
	case kilnmodule.TypeAsset:
		return ""
	default:
		return ""
	}
}
