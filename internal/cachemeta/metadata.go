// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package cachemeta defines the cacheability metadata attached to every
// rendered fragment: the invalidation tags it depends on, the contexts it
// varies by, and the maximum age it may be served for.
//
// A Metadata value is immutable by convention. Every operation returns a new
// value, so a Metadata attached to a finished fragment can be shared freely.
// The zero value is the merge identity: no tags, no contexts, unbounded age.
package cachemeta

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const (
	// Permanent marks output that may be cached with no time bound.
	Permanent = -1

	// Uncacheable marks output that must never be cached.
	Uncacheable = 0
)

// Metadata is the cacheability description of a rendered fragment.
type Metadata struct {
	tags     []string // sorted, unique
	contexts []string // sorted, unique

	// bounded is false for the unbounded (Permanent) age, which keeps the
	// zero value usable as the identity element.
	bounded bool
	maxAge  int
}

// New returns the identity metadata: no tags, no contexts, Permanent.
func New() Metadata {
	return Metadata{}
}

// Of builds metadata from explicit components. Any negative age is
// treated as Permanent.
func Of(tags, contexts []string, maxAge int) Metadata {
	return Metadata{}.
		AddTags(tags...).
		AddContexts(contexts...).
		SetMaxAge(maxAge)
}

// Tags returns a copy of the sorted tag set.
func (m Metadata) Tags() []string { return slices.Clone(m.tags) }

// Contexts returns a copy of the sorted context set.
func (m Metadata) Contexts() []string { return slices.Clone(m.contexts) }

// MaxAge returns the age bound in seconds, Permanent when unbounded.
func (m Metadata) MaxAge() int {
	if !m.bounded {
		return Permanent
	}
	return m.maxAge
}

// Cacheable reports whether output carrying this metadata may be stored.
func (m Metadata) Cacheable() bool {
	return m.MaxAge() != Uncacheable
}

// HasTag reports whether tag is part of the tag set.
func (m Metadata) HasTag(tag string) bool {
	_, ok := slices.BinarySearch(m.tags, tag)
	return ok
}

// HasContext reports whether id is part of the context set.
func (m Metadata) HasContext(id string) bool {
	_, ok := slices.BinarySearch(m.contexts, id)
	return ok
}

// IsEmpty reports whether m equals the identity.
func (m Metadata) IsEmpty() bool {
	return len(m.tags) == 0 && len(m.contexts) == 0 && !m.bounded
}

// Merge combines two metadata values. Tags and contexts are unioned, and
// the age is the tighter of the two, with Uncacheable absorbing everything.
// Merge is associative and commutative, and New() is its identity.
func (m Metadata) Merge(other Metadata) Metadata {
	out := Metadata{
		tags:     union(m.tags, other.tags),
		contexts: union(m.contexts, other.contexts),
	}
	out.setAge(combineAge(m.MaxAge(), other.MaxAge()))
	return out
}

// Merge folds any number of metadata values, left to right.
func Merge(ms ...Metadata) Metadata {
	var out Metadata
	for _, m := range ms {
		out = out.Merge(m)
	}
	return out
}

// AddTags returns m with the given tags added.
func (m Metadata) AddTags(tags ...string) Metadata {
	if len(tags) == 0 {
		return m
	}
	m.tags = union(m.tags, normalize(tags))
	return m
}

// AddContexts returns m with the given contexts added.
func (m Metadata) AddContexts(contexts ...string) Metadata {
	if len(contexts) == 0 {
		return m
	}
	m.contexts = union(m.contexts, normalize(contexts))
	return m
}

// CapMaxAge lowers the age bound to age if that is tighter. It never raises
// a previously lowered bound, and Permanent leaves m unchanged.
func (m Metadata) CapMaxAge(age int) Metadata {
	m.setAge(combineAge(m.MaxAge(), age))
	return m
}

// SetMaxAge overwrites the age bound. Only use it where a fragment's own
// declared age is first established; everywhere else use CapMaxAge.
func (m Metadata) SetMaxAge(age int) Metadata {
	m.setAge(age)
	return m
}

// Equal reports whether m and other describe the same cacheability.
func (m Metadata) Equal(other Metadata) bool {
	return slices.Equal(m.tags, other.tags) &&
		slices.Equal(m.contexts, other.contexts) &&
		m.MaxAge() == other.MaxAge()
}

// String renders m for logs.
func (m Metadata) String() string {
	return fmt.Sprintf("tags=[%s] contexts=[%s] max-age=%d",
		strings.Join(m.tags, " "), strings.Join(m.contexts, " "), m.MaxAge())
}

// wireMetadata is the JSON form of Metadata.
type wireMetadata struct {
	Tags     []string `json:"tags"`
	Contexts []string `json:"contexts"`
	MaxAge   int      `json:"max_age"`
}

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMetadata{
		Tags:     nonNil(m.tags),
		Contexts: nonNil(m.contexts),
		MaxAge:   m.MaxAge(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var w wireMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode cache metadata: %w", err)
	}
	*m = Of(w.Tags, w.Contexts, w.MaxAge)
	return nil
}

func (m *Metadata) setAge(age int) {
	if age < 0 {
		m.bounded = false
		m.maxAge = 0
		return
	}
	m.bounded = true
	m.maxAge = age
}

// combineAge returns the tighter of two ages, treating negatives as
// unbounded and zero as absorbing.
func combineAge(a, b int) int {
	switch {
	case a == Uncacheable || b == Uncacheable:
		return Uncacheable
	case a < 0:
		if b < 0 {
			return Permanent
		}
		return b
	case b < 0:
		return a
	default:
		return min(a, b)
	}
}

// union merges two sorted, unique slices into a new sorted, unique slice.
func union(a, b []string) []string {
	switch {
	case len(b) == 0:
		return a
	case len(a) == 0:
		return b
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// normalize returns a sorted, de-duplicated copy of s without empty strings.
func normalize(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
