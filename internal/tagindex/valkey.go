// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package tagindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultValkeyKey is the hash holding every tag counter.
const DefaultValkeyKey = "cachetags"

// ValkeyIndex keeps tag counters in a single Valkey hash, so every
// process sharing the cache sees the same invalidations.
type ValkeyIndex struct {
	client *redis.Client
	key    string
}

// NewValkeyIndex creates an index stored under key (DefaultValkeyKey if empty).
func NewValkeyIndex(client *redis.Client, key string) *ValkeyIndex {
	if key == "" {
		key = DefaultValkeyKey
	}
	return &ValkeyIndex{client: client, key: key}
}

// Checksum implements Index.
func (v *ValkeyIndex) Checksum(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	vals, err := v.client.HMGet(ctx, v.key, tags...).Result()
	if err != nil {
		return 0, fmt.Errorf("valkey hmget: %w", err)
	}

	var sum int64
	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue // unseen tag
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse counter for tag %q: %w", tags[i], err)
		}
		sum += n
	}
	return sum, nil
}

// Invalidate implements Index. All counters are bumped in one MULTI/EXEC.
func (v *ValkeyIndex) Invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.HIncrBy(ctx, v.key, tag, 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("valkey hincrby: %w", err)
	}

	slog.Debug("cache tags invalidated", "tags", tags, "index", "valkey")
	return nil
}

// Ensure ValkeyIndex implements Index
var _ Index = (*ValkeyIndex)(nil)
