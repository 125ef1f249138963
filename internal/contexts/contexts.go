// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package contexts names the dimensions rendered output may vary by and
// resolves them to concrete values for the current request.
//
// A context identifier is a dotted name with an optional parameter after
// a colon, e.g. "url.query_args:page" or "languages:interface". A parent
// identifier subsumes its descendants: "user" implies "user.permissions".
package contexts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Well-known context identifiers.
const (
	Languages          = "languages"
	LanguagesInterface = "languages:interface"
	URL                = "url"
	URLPath            = "url.path"
	URLQueryArgs       = "url.query_args"
	URLSite            = "url.site"
	User               = "user"
	UserPermissions    = "user.permissions"
)

// ErrUnknownContext is returned by resolvers for identifiers they cannot
// resolve.
var ErrUnknownContext = errors.New("contexts: unknown context")

// Resolver turns a context identifier into its current concrete value.
//
// Contract:
//   - Resolve must be a pure function of ambient request state and must not
//     emit cacheability metadata.
//   - Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id string) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

// MapResolver resolves identifiers from a fixed table.
type MapResolver map[string]string

// Resolve implements Resolver.
func (m MapResolver) Resolve(_ context.Context, id string) (string, error) {
	v, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, id)
	}
	return v, nil
}

// Split separates an identifier into its name and optional parameter.
func Split(id string) (name, param string) {
	name, param, _ = strings.Cut(id, ":")
	return name, param
}

// Normalize returns the identifiers sorted, de-duplicated, and with every
// identifier removed that is implied by a broader one in the same set.
func Normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)

	kept := make([]string, 0, len(out))
	for _, id := range out {
		if !impliedByAny(id, out) {
			kept = append(kept, id)
		}
	}
	return kept
}

// Implies reports whether parent subsumes child.
func Implies(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+".") || strings.HasPrefix(child, parent+":")
}

func impliedByAny(id string, set []string) bool {
	for _, other := range set {
		if other != id && Implies(other, id) {
			return true
		}
	}
	return false
}

type resolverKey struct{}

// WithResolver returns a context carrying r, so code deep inside a render
// pass can read ambient request state without extra parameters.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

// ResolverFromContext returns the resolver carried by ctx, or nil.
func ResolverFromContext(ctx context.Context) Resolver {
	r, _ := ctx.Value(resolverKey{}).(Resolver)
	return r
}
