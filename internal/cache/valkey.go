// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces rendered fragments in Valkey.
const DefaultKeyPrefix = "render:"

// ConnectValkey creates a Valkey client and verifies the connection with a ping.
func ConnectValkey(host, port, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping: %w", err)
	}

	slog.Info("valkey connected", "addr", fmt.Sprintf("%s:%s", host, port))
	return client, nil
}

// ValkeyBackend stores fragments as plain string values under a prefix.
// A single SET writes the whole value, which keeps writes atomic per key.
type ValkeyBackend struct {
	client *redis.Client
	prefix string
}

// NewValkeyBackend creates a backend using prefix (DefaultKeyPrefix if empty).
func NewValkeyBackend(client *redis.Client, prefix string) *ValkeyBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ValkeyBackend{client: client, prefix: prefix}
}

// Get implements Backend.
func (b *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}
	return val, true, nil
}

// Set implements Backend.
func (b *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, b.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Clear implements Backend by scanning for the prefix, so it never blocks
// Valkey the way KEYS would.
func (b *ValkeyBackend) Clear(ctx context.Context) error {
	var cursor uint64
	var deleted int
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("valkey scan: %w", err)
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("valkey bulk delete: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		slog.Info("render cache fully cleared", "deleted", deleted, "backend", "valkey")
	}
	return nil
}

// Ensure ValkeyBackend implements Backend
var _ Backend = (*ValkeyBackend)(nil)
