// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package cache provides the raw key-value backends that hold rendered
// fragments: a Valkey (Redis-compatible) backend shared across processes
// and a bounded in-process LRU backend.
package cache

import (
	"context"
	"time"
)

// Backend is the raw store behind the variation cache.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Atomicity: Get and Set are atomic per key; a reader sees either the
//     previous value or the whole new one. No ordering across keys.
//   - TTL: ttl is an eviction hint; zero or negative means no expiry.
//   - Errors: a miss is (nil, false, nil); errors are reserved for an
//     unavailable backend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Clear removes every entry this backend owns.
	Clear(ctx context.Context) error
}
