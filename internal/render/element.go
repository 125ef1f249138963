// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"rendercache/internal/cachemeta"
)

// ErrStackNotEmpty is raised when a render pass finishes with open frames.
var ErrStackNotEmpty = errors.New("render: context stack not empty after pass")

// ProduceFunc renders an element from its children's outputs. The returned
// metadata is what the element itself depends on; anything emitted to the
// render context while it runs is collected as well.
type ProduceFunc func(ctx context.Context, el *Element, children [][]byte) ([]byte, cachemeta.Metadata, error)

// Element is one node of a render tree. Elements are read-only input: the
// walker never mutates them, so one element may appear in many trees.
type Element struct {
	// Name identifies the element in logs, metrics and errors.
	Name string
	// Keys are the base cache keys. An element with keys is cacheable.
	Keys []string
	// Metadata is declared up front by whoever built the element. Its
	// contexts are the ones known before rendering and drive the lookup.
	Metadata cachemeta.Metadata
	Children []*Element
	// Produce renders the element. Nil concatenates the children.
	Produce ProduceFunc
	// Data is passed through to Produce untouched.
	Data any
}

// Cacheable reports whether the element declares cache keys.
func (e *Element) Cacheable() bool {
	return len(e.Keys) > 0
}

// Concat is the pass-through production routine.
func Concat(_ context.Context, _ *Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
	return bytes.Join(children, nil), cachemeta.New(), nil
}

// Result is the rendered form of an Element.
type Result struct {
	Element  *Element
	Output   []byte
	Metadata cachemeta.Metadata
	// Children is nil for a cache hit, since the subtree was not walked.
	Children []*Result
	CacheHit bool
}

// ElementError is a production failure, tagged with the failing element.
type ElementError struct {
	Element string
	Err     error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Element, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}
