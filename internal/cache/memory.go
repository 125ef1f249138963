// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize is the entry bound used when none is configured.
const DefaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryBackend is a bounded in-process LRU backend. Least recently used
// entries are evicted once size is reached; expired entries are dropped
// lazily on read.
type MemoryBackend struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock overrides the time source used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// NewMemoryBackend creates a backend holding at most size entries.
func NewMemoryBackend(size int, opts ...MemoryOption) (*MemoryBackend, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	b := &MemoryBackend{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Get implements Backend. It never fails. An entry expires once its ttl
// has fully elapsed, matching Valkey.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := b.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt) {
		b.entries.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set implements Backend. The value is copied so callers may reuse it.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	b.entries.Add(key, entry)
	return nil
}

// Clear implements Backend.
func (b *MemoryBackend) Clear(_ context.Context) error {
	n := b.entries.Len()
	b.entries.Purge()
	slog.Info("render cache fully cleared", "deleted", n, "backend", "memory")
	return nil
}

// Len returns the number of entries currently held, expired ones included.
func (b *MemoryBackend) Len() int {
	return b.entries.Len()
}

// Ensure MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)
