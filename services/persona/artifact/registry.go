// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifact

import (
	"fmt"
)

// =============================================================================
// Registry
// =============================================================================

// Registry is the static table of artifact kinds for a deployment.
//
// # Description
//
// Built once at process start from a fixed set of descriptors. The registry
// validates that kinds are unique, that every Requires edge points at a
// registered kind, and that the dependency graph is acyclic. After
// construction the registry is immutable.
//
// # Thread Safety
//
// Safe for concurrent use after construction (read-only).
type Registry struct {
	order      []Kind
	byKind     map[Kind]Descriptor
	dependents map[Kind][]Kind
}

// NewRegistry builds a registry from the given descriptors.
//
// # Description
//
// Validates the descriptor set and precomputes the reverse dependency
// index used for chaining (which kinds to reschedule when a kind finishes
// generating).
//
// # Inputs
//
//   - descs: Artifact descriptors in registration order. Order is preserved
//     by Kinds() and by schedulers that iterate all kinds.
//
// # Outputs
//
//   - *Registry: The validated registry.
//   - error: Non-nil on duplicate kinds, dangling Requires references,
//     self-dependencies, or dependency cycles.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("registry requires at least one descriptor")
	}

	r := &Registry{
		order:      make([]Kind, 0, len(descs)),
		byKind:     make(map[Kind]Descriptor, len(descs)),
		dependents: make(map[Kind][]Kind),
	}

	for _, d := range descs {
		if d.Kind == "" {
			return nil, fmt.Errorf("descriptor with empty kind")
		}
		if _, dup := r.byKind[d.Kind]; dup {
			return nil, fmt.Errorf("duplicate artifact kind %q", d.Kind)
		}
		r.byKind[d.Kind] = d
		r.order = append(r.order, d.Kind)
	}

	for _, d := range descs {
		if d.Requires == "" {
			continue
		}
		if d.Requires == d.Kind {
			return nil, fmt.Errorf("artifact kind %q requires itself", d.Kind)
		}
		if _, ok := r.byKind[d.Requires]; !ok {
			return nil, fmt.Errorf("artifact kind %q requires unregistered kind %q", d.Kind, d.Requires)
		}
		r.dependents[d.Requires] = append(r.dependents[d.Requires], d.Kind)
	}

	if cycle := r.findCycle(); cycle != "" {
		return nil, fmt.Errorf("artifact dependency cycle through %q", cycle)
	}

	return r, nil
}

// findCycle walks Requires edges from every kind; the graph is small so a
// simple visited-set DFS is enough.
func (r *Registry) findCycle() Kind {
	for _, start := range r.order {
		seen := map[Kind]bool{}
		k := start
		for k != "" {
			if seen[k] {
				return k
			}
			seen[k] = true
			k = r.byKind[k].Requires
		}
	}
	return ""
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the descriptor for a kind.
//
// # Outputs
//
//   - Descriptor: The descriptor, zero-valued if not registered.
//   - bool: True if the kind is registered.
func (r *Registry) Get(kind Kind) (Descriptor, bool) {
	d, ok := r.byKind[kind]
	return d, ok
}

// Dependents returns the kinds that declare the given kind as their
// prerequisite, in registration order. Used by the worker to chain
// generation after a successful completion.
func (r *Registry) Dependents(kind Kind) []Kind {
	deps := r.dependents[kind]
	out := make([]Kind, len(deps))
	copy(out, deps)
	return out
}

// DefaultRegistry returns the standard five presentation artifacts.
//
// # Description
//
// short_description, label, tags, and visual_description derive directly
// from the charter. The avatar derives from the visual description so the
// rendered image stays consistent with the described identity.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Descriptor{Kind: KindShortDescription, Shape: ShapeText},
		Descriptor{Kind: KindLabel, Shape: ShapeText},
		Descriptor{Kind: KindTags, Shape: ShapeTextList},
		Descriptor{Kind: KindVisualDescription, Shape: ShapeText},
		Descriptor{Kind: KindAvatar, Shape: ShapeBlob, Requires: KindVisualDescription},
	)
	if err != nil {
		// The default set is fixed at compile time; failure here is a
		// programming error.
		panic(err)
	}
	return r
}
