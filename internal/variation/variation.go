// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package variation is the render cache facade. It is the only component
// that reads or writes rendered output in the raw backend.
//
// A storage key is derived from an element's base keys plus the resolved
// value of every context it varies by, so the same fragment rendered for
// two languages lands under two keys. Entries are validated on read against
// the tag invalidation index and their max-age; anything stale is a plain
// miss. Backend and resolver failures degrade to miss / no-op and are only
// logged, because caching is an optimization and never a reason to fail a
// render.
//
// An element often learns the full set of contexts it varies by only after
// rendering its children. To let a lookup happen before that, Set also
// writes a redirect under the key built from the contexts known up front,
// naming the full context set; Get follows it.
package variation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"rendercache/internal/cache"
	"rendercache/internal/cachemeta"
	"rendercache/internal/contexts"
	"rendercache/internal/observe"
	"rendercache/internal/tagindex"
)

// DefaultMaxRedirects bounds redirect chains followed by Get.
const DefaultMaxRedirects = 4

// ErrNoKeys is returned by BuildKey for an empty base key list.
var ErrNoKeys = errors.New("variation: no cache keys")

// Entry is a valid cached fragment.
type Entry struct {
	Payload  []byte
	Metadata cachemeta.Metadata
	StoredAt time.Time
}

// ComputeFunc produces a fragment on a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, cachemeta.Metadata, error)

// InvalidationRecorder receives every tag invalidation, e.g. for auditing.
type InvalidationRecorder interface {
	Record(ctx context.Context, tags []string, source string)
}

// record is the serialized form of a stored entry or redirect.
type record struct {
	Payload  []byte             `json:"payload,omitempty"`
	Redirect []string           `json:"redirect,omitempty"`
	Metadata cachemeta.Metadata `json:"metadata"`
	Checksum int64              `json:"checksum"`
	StoredAt time.Time          `json:"stored_at"`
}

// Cache is the variation cache store.
type Cache struct {
	backend      cache.Backend
	index        tagindex.Index
	metrics      observe.Metrics
	recorder     InvalidationRecorder
	now          func() time.Time
	maxRedirects int
	group        singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics sets the metrics sink.
func WithMetrics(m observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithRecorder sets the invalidation recorder.
func WithRecorder(r InvalidationRecorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMaxRedirects overrides DefaultMaxRedirects.
func WithMaxRedirects(n int) Option {
	return func(c *Cache) { c.maxRedirects = n }
}

// New creates a Cache over backend, validated against index.
func New(backend cache.Backend, index tagindex.Index, opts ...Option) *Cache {
	c := &Cache{
		backend:      backend,
		index:        index,
		metrics:      observe.Noop(),
		now:          time.Now,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildKey resolves every context to its current value and derives the
// storage key. Context order and duplicates do not affect the result.
// Format: <key1>:<key2>:...:<hash>, where hash is the first 16 hex chars of
// SHA-256 over the canonical JSON of the keys and (context, value) pairs.
func (c *Cache) BuildKey(ctx context.Context, keys, contextIDs []string, resolver contexts.Resolver) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeys
	}

	ids := contexts.Normalize(contextIDs)
	pairs := make([][2]string, len(ids))
	for i, id := range ids {
		if resolver == nil {
			return "", fmt.Errorf("resolve context %q: no resolver", id)
		}
		v, err := resolver.Resolve(ctx, id)
		if err != nil {
			return "", fmt.Errorf("resolve context %q: %w", id, err)
		}
		pairs[i] = [2]string{id, v}
	}

	canonical, err := json.Marshal(struct {
		Keys     []string    `json:"keys"`
		Contexts [][2]string `json:"contexts"`
	}{keys, pairs})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)

	return strings.Join(keys, ":") + ":" + hex.EncodeToString(sum[:8]), nil
}

// Get returns the valid entry for keys under the current context values.
// Absent, stale, invalidated, and unreadable entries are all a miss.
func (c *Cache) Get(ctx context.Context, keys, contextIDs []string, resolver contexts.Resolver) (*Entry, bool) {
	key, err := c.BuildKey(ctx, keys, contextIDs, resolver)
	if err != nil {
		slog.Warn("render cache key error", "keys", keys, "error", err)
		c.metrics.RecordLookup(ctx, observe.LookupError)
		return nil, false
	}

	for hops := 0; ; hops++ {
		rec, err := c.load(ctx, key)
		if err != nil {
			slog.Warn("render cache get error", "key", key, "error", err)
			c.metrics.RecordLookup(ctx, observe.LookupError)
			return nil, false
		}
		if rec == nil {
			c.metrics.RecordLookup(ctx, observe.LookupMiss)
			return nil, false
		}

		if len(rec.Redirect) == 0 {
			slog.Debug("render cache hit", "key", key)
			c.metrics.RecordLookup(ctx, observe.LookupHit)
			return &Entry{Payload: rec.Payload, Metadata: rec.Metadata, StoredAt: rec.StoredAt}, true
		}

		if hops >= c.maxRedirects {
			slog.Warn("render cache redirect chain too long", "keys", keys, "hops", hops)
			c.metrics.RecordLookup(ctx, observe.LookupMiss)
			return nil, false
		}
		key, err = c.BuildKey(ctx, keys, rec.Redirect, resolver)
		if err != nil {
			slog.Warn("render cache key error", "keys", keys, "error", err)
			c.metrics.RecordLookup(ctx, observe.LookupError)
			return nil, false
		}
	}
}

// Set stores payload for keys. It is a no-op for uncacheable metadata.
//
// The payload goes under the key built from every context in contextIDs
// and meta. If meta adds contexts beyond contextIDs, a redirect is written
// under the key built from contextIDs alone. Tag checksums are captured
// now, at store time.
func (c *Cache) Set(ctx context.Context, keys, contextIDs []string, resolver contexts.Resolver, payload []byte, meta cachemeta.Metadata) {
	if !meta.Cacheable() {
		slog.Debug("render cache store skipped, uncacheable", "keys", keys)
		c.metrics.RecordStore(ctx, observe.StoreSkipped)
		return
	}

	initial := contexts.Normalize(contextIDs)
	final := contexts.Normalize(append(slices.Clone(initial), meta.Contexts()...))
	meta = meta.AddContexts(final...)

	checksum, err := c.index.Checksum(ctx, meta.Tags())
	if err != nil {
		slog.Warn("render cache checksum error", "keys", keys, "error", err)
		c.metrics.RecordStore(ctx, observe.StoreError)
		return
	}

	finalKey, err := c.BuildKey(ctx, keys, final, resolver)
	if err != nil {
		slog.Warn("render cache key error", "keys", keys, "error", err)
		c.metrics.RecordStore(ctx, observe.StoreError)
		return
	}

	base := record{Metadata: meta, Checksum: checksum, StoredAt: c.now()}
	ttl := ttlHint(meta.MaxAge())

	entry := base
	entry.Payload = payload
	if err := c.write(ctx, finalKey, entry, ttl); err != nil {
		slog.Warn("render cache set error", "key", finalKey, "error", err)
		c.metrics.RecordStore(ctx, observe.StoreError)
		return
	}

	// The redirect is written after the payload so that a reader following
	// it never lands on a key that was not written yet.
	if !slices.Equal(initial, final) {
		initialKey, err := c.BuildKey(ctx, keys, initial, resolver)
		if err == nil {
			redirect := base
			redirect.Redirect = final
			err = c.write(ctx, initialKey, redirect, ttl)
		}
		if err != nil {
			slog.Warn("render cache redirect error", "keys", keys, "error", err)
		}
	}

	slog.Debug("render cache stored", "key", finalKey, "metadata", meta.String())
	c.metrics.RecordStore(ctx, observe.StoreStored)
}

// GetOrCompute returns the cached entry for keys, or runs compute, stores
// its result, and returns it. Concurrent misses for the same storage key in
// this process share one compute call. The bool reports a cache hit.
// Compute errors are returned and never stored.
//
// A caller whose own ctx is still live never inherits another caller's
// cancellation; it computes for itself instead. Lookups made from inside a
// compute never wait on a shared flight, so a tree that repeats a key, or
// two passes nesting the same keys in opposite order, cannot wait on
// themselves.
func (c *Cache) GetOrCompute(ctx context.Context, keys, contextIDs []string, resolver contexts.Resolver, compute ComputeFunc) (*Entry, bool, error) {
	if e, ok := c.Get(ctx, keys, contextIDs, resolver); ok {
		return e, true, nil
	}

	key, err := c.BuildKey(ctx, keys, contextIDs, resolver)
	if err != nil {
		// Without a key nothing is stored anyway; just compute.
		return c.computeDirect(ctx, "", keys, contextIDs, resolver, compute)
	}
	if outer, ok := computing(ctx); ok {
		slog.Debug("render cache nested compute", "key", key, "within", outer)
		return c.computeDirect(ctx, key, keys, contextIDs, resolver, compute)
	}

	started := make(chan struct{})
	ch := c.group.DoChan(key, func() (v any, err error) {
		close(started)
		// fn runs on its own goroutine; a panic there would take the
		// process down, so it is handed back to the leading caller.
		defer func() {
			if p := recover(); p != nil {
				err = &computePanic{value: p}
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.run(ctx, key, keys, contextIDs, resolver, compute)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if !closed(started) {
			return nil, false, ctx.Err()
		}
		// This caller leads and its compute owns the pass's render stack
		// until it returns.
		res = <-ch
	}
	led := closed(started)

	if res.Err != nil {
		var cp *computePanic
		if errors.As(res.Err, &cp) {
			if led {
				panic(cp.value)
			}
			return c.computeDirect(ctx, key, keys, contextIDs, resolver, compute)
		}
		if !led && ctx.Err() == nil && isCancellation(res.Err) {
			slog.Debug("render cache shared compute canceled, recomputing", "key", key)
			return c.computeDirect(ctx, key, keys, contextIDs, resolver, compute)
		}
		return nil, false, res.Err
	}

	f := res.Val.(*flight)
	if led {
		return f.entry, false, nil
	}

	// The leader may have discovered contexts whose values differ for this
	// caller, e.g. another language. Its output is only reusable if both
	// resolve to the same full key.
	mine, err := c.BuildKey(ctx, keys, f.entry.Metadata.Contexts(), resolver)
	if err == nil && mine == f.key {
		slog.Debug("render cache compute shared", "key", key)
		return f.entry, false, nil
	}
	return c.computeDirect(ctx, key, keys, contextIDs, resolver, compute)
}

// computeDirect runs compute on the caller's goroutine, outside
// singleflight.
func (c *Cache) computeDirect(ctx context.Context, key string, keys, contextIDs []string, resolver contexts.Resolver, compute ComputeFunc) (*Entry, bool, error) {
	f, err := c.run(ctx, key, keys, contextIDs, resolver, compute)
	if err != nil {
		return nil, false, err
	}
	return f.entry, false, nil
}

// run computes and stores one fragment. Lookups made by compute see key as
// in flight.
func (c *Cache) run(ctx context.Context, key string, keys, contextIDs []string, resolver contexts.Resolver, compute ComputeFunc) (*flight, error) {
	payload, meta, err := compute(withComputing(ctx, key))
	if err != nil {
		return nil, err
	}
	c.Set(ctx, keys, contextIDs, resolver, payload, meta)
	e := &Entry{Payload: payload, Metadata: meta.AddContexts(contextIDs...), StoredAt: c.now()}
	full, _ := c.BuildKey(ctx, keys, e.Metadata.Contexts(), resolver)
	return &flight{entry: e, key: full}, nil
}

// flight is the result of one compute shared through singleflight.
type flight struct {
	entry *Entry
	key   string
}

// computePanic carries a panic out of a shared compute.
type computePanic struct {
	value any
}

func (p *computePanic) Error() string {
	return fmt.Sprintf("render cache compute panicked: %v", p.value)
}

type computingKey struct{}

// withComputing marks ctx as belonging to the compute for key.
func withComputing(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, computingKey{}, key)
}

// computing returns the innermost key being computed by the caller's pass.
func computing(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(computingKey{}).(string)
	return key, ok
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// InvalidateTags bumps the given tags in the index. Entries carrying them
// become misses on their next read; nothing is deleted eagerly.
func (c *Cache) InvalidateTags(ctx context.Context, tags []string, source string) error {
	if len(tags) == 0 {
		return nil
	}
	if err := c.index.Invalidate(ctx, tags); err != nil {
		return fmt.Errorf("invalidate tags: %w", err)
	}

	c.metrics.RecordInvalidation(ctx, len(tags))
	slog.Info("render cache tags invalidated", "tags", tags, "source", source)
	if c.recorder != nil {
		c.recorder.Record(ctx, tags, source)
	}
	return nil
}

// Clear drops every stored entry from the backend.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear render cache: %w", err)
	}
	return nil
}

// load fetches and validates the record under key. A nil record with a nil
// error is a miss.
func (c *Cache) load(ctx context.Context, key string) (*record, error) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("render cache entry corrupt", "key", key, "error", err)
		return nil, nil
	}
	if !c.fresh(ctx, key, &rec) {
		return nil, nil
	}
	return &rec, nil
}

// fresh checks max-age and tag checksums. An entry is fresh up to and
// including max-age seconds after it was stored.
func (c *Cache) fresh(ctx context.Context, key string, rec *record) bool {
	maxAge := rec.Metadata.MaxAge()
	if maxAge == cachemeta.Uncacheable {
		return false
	}
	if maxAge > 0 && c.now().Sub(rec.StoredAt) > time.Duration(maxAge)*time.Second {
		slog.Debug("render cache entry expired", "key", key)
		return false
	}

	ok, err := tagindex.IsCurrent(ctx, c.index, rec.Metadata.Tags(), rec.Checksum)
	if err != nil {
		slog.Warn("render cache checksum error", "key", key, "error", err)
		return false
	}
	if !ok {
		slog.Debug("render cache entry invalidated", "key", key)
	}
	return ok
}

func (c *Cache) write(ctx context.Context, key string, rec record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return c.backend.Set(ctx, key, data, ttl)
}

// ttlHint converts max-age into a backend eviction hint. An entry is still
// fresh at exactly max-age and backends evict at the ttl, so the hint runs
// one second past it.
func ttlHint(maxAge int) time.Duration {
	if maxAge <= 0 {
		return 0
	}
	return time.Duration(maxAge+1) * time.Second
}
