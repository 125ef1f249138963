// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package tagindex tracks an invalidation counter per cache tag. A cache
// entry stores the sum of its tags' counters when it is written; if the sum
// differs on read, one of its tags was invalidated since and the entry is
// stale. Counters only ever increase, so the sum is a sound fingerprint.
package tagindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Index is the tag invalidation index.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Checksum of unseen tags is 0.
//   - Invalidate increments every given tag by exactly one.
type Index interface {
	// Checksum returns the combined counter of the given tags.
	Checksum(ctx context.Context, tags []string) (int64, error)

	// Invalidate bumps the counter of each tag.
	Invalidate(ctx context.Context, tags []string) error
}

// IsCurrent reports whether checksum still matches the tags' counters.
func IsCurrent(ctx context.Context, idx Index, tags []string, checksum int64) (bool, error) {
	current, err := idx.Checksum(ctx, tags)
	if err != nil {
		return false, fmt.Errorf("tag checksum: %w", err)
	}
	return current == checksum, nil
}

// MemoryIndex is a process-local Index.
type MemoryIndex struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{counters: make(map[string]int64)}
}

// Checksum implements Index. It never fails.
func (m *MemoryIndex) Checksum(_ context.Context, tags []string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, tag := range tags {
		sum += m.counters[tag]
	}
	return sum, nil
}

// Invalidate implements Index. It never fails.
func (m *MemoryIndex) Invalidate(_ context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, tag := range tags {
		m.counters[tag]++
	}
	m.mu.Unlock()

	slog.Debug("cache tags invalidated", "tags", tags)
	return nil
}

// Ensure MemoryIndex implements Index
var _ Index = (*MemoryIndex)(nil)
