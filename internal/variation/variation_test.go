// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package variation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rendercache/internal/cache"
	"rendercache/internal/cachemeta"
	"rendercache/internal/contexts"
	"rendercache/internal/tagindex"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	cache   *Cache
	backend *cache.MemoryBackend
	index   *tagindex.MemoryIndex
	clock   *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	backend, err := cache.NewMemoryBackend(100, cache.WithMemoryClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMemoryBackend: %v", err)
	}
	index := tagindex.NewMemoryIndex()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		cache:   New(backend, index, opts...),
		backend: backend,
		index:   index,
		clock:   clock,
	}
}

// failingBackend simulates an unavailable backend.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingBackend) Clear(context.Context) error {
	return errors.New("connection refused")
}

// recorder captures invalidations.
type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) Record(_ context.Context, tags []string, _ string) {
	r.mu.Lock()
	r.calls = append(r.calls, tags)
	r.mu.Unlock()
}

func TestBuildKeyDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := contexts.MapResolver{"languages:interface": "en", "user.permissions": "anon"}

	k1, err := f.cache.BuildKey(ctx, []string{"page", "home"}, []string{"user.permissions", "languages:interface"}, res)
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	k2, _ := f.cache.BuildKey(ctx, []string{"page", "home"}, []string{"languages:interface", "user.permissions", "languages:interface"}, res)
	if k1 != k2 {
		t.Errorf("context order changed key: %q vs %q", k1, k2)
	}

	k3, _ := f.cache.BuildKey(ctx, []string{"page", "home"}, []string{"languages:interface"}, res)
	if k1 == k3 {
		t.Error("different context sets produced the same key")
	}
}

func TestBuildKeyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.cache.BuildKey(ctx, nil, nil, nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys, got %v", err)
	}
	if _, err := f.cache.BuildKey(ctx, []string{"k"}, []string{"theme"}, contexts.MapResolver{}); !errors.Is(err, contexts.ErrUnknownContext) {
		t.Errorf("expected ErrUnknownContext, got %v", err)
	}
	if _, err := f.cache.BuildKey(ctx, []string{"k"}, []string{"theme"}, nil); err == nil {
		t.Error("expected error without resolver")
	}
	if _, err := f.cache.BuildKey(ctx, []string{"k"}, nil, nil); err != nil {
		t.Errorf("no contexts needs no resolver, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := contexts.MapResolver{"user.permissions": "anon"}
	meta := cachemeta.Of([]string{"node:1", "config:site"}, []string{"user.permissions"}, 300)

	f.cache.Set(ctx, []string{"page:home"}, []string{"user.permissions"}, res, []byte("<p>home</p>"), meta)

	e, ok := f.cache.Get(ctx, []string{"page:home"}, []string{"user.permissions"}, res)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(e.Payload) != "<p>home</p>" {
		t.Errorf("payload: got %q", e.Payload)
	}
	if !slices.Equal(e.Metadata.Tags(), meta.Tags()) {
		t.Errorf("tags: got %v, want %v", e.Metadata.Tags(), meta.Tags())
	}
	if e.Metadata.MaxAge() != 300 {
		t.Errorf("max-age: got %d, want 300", e.Metadata.MaxAge())
	}
}

func TestSetUncacheableIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cache.Set(ctx, []string{"page:home"}, nil, nil, []byte("x"), cachemeta.New().CapMaxAge(0))

	if _, ok := f.cache.Get(ctx, []string{"page:home"}, nil, nil); ok {
		t.Error("uncacheable metadata must never be stored")
	}
	if f.backend.Len() != 0 {
		t.Errorf("backend holds %d entries, want 0", f.backend.Len())
	}
}

// Scenario: the same base key under two resolver states addresses two keys.
func TestContextValuesDoNotCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"page:home"}
	ids := []string{"user.permissions"}
	anon := contexts.MapResolver{"user.permissions": "anon"}
	auth := contexts.MapResolver{"user.permissions": "auth-42"}

	kAnon, _ := f.cache.BuildKey(ctx, keys, ids, anon)
	kAuth, _ := f.cache.BuildKey(ctx, keys, ids, auth)
	if kAnon == kAuth {
		t.Fatalf("distinct context values share key %q", kAnon)
	}

	f.cache.Set(ctx, keys, ids, anon, []byte("anon page"), cachemeta.New())

	if _, ok := f.cache.Get(ctx, keys, ids, auth); ok {
		t.Error("authenticated lookup hit the anonymous entry")
	}

	f.cache.Set(ctx, keys, ids, auth, []byte("auth page"), cachemeta.New())

	e, _ := f.cache.Get(ctx, keys, ids, anon)
	if e == nil || string(e.Payload) != "anon page" {
		t.Errorf("anon entry: got %+v", e)
	}
	e, _ = f.cache.Get(ctx, keys, ids, auth)
	if e == nil || string(e.Payload) != "auth page" {
		t.Errorf("auth entry: got %+v", e)
	}
}

// Scenario: invalidating a tag only affects entries carrying it.
func TestInvalidateTags(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, WithRecorder(rec))
	ctx := context.Background()

	f.cache.Set(ctx, []string{"tagged"}, nil, nil, []byte("a"), cachemeta.New().AddTags("config:site", "node:1"))
	f.cache.Set(ctx, []string{"untagged"}, nil, nil, []byte("b"), cachemeta.New().AddTags("node:2"))

	if err := f.cache.InvalidateTags(ctx, []string{"config:site"}, "test"); err != nil {
		t.Fatalf("InvalidateTags: %v", err)
	}

	if _, ok := f.cache.Get(ctx, []string{"tagged"}, nil, nil); ok {
		t.Error("tagged entry should miss after invalidation")
	}
	if _, ok := f.cache.Get(ctx, []string{"untagged"}, nil, nil); !ok {
		t.Error("untagged entry should still hit")
	}

	if len(rec.calls) != 1 || !slices.Equal(rec.calls[0], []string{"config:site"}) {
		t.Errorf("recorder calls: %v", rec.calls)
	}

	// Re-storing after invalidation captures the new checksum.
	f.cache.Set(ctx, []string{"tagged"}, nil, nil, []byte("a2"), cachemeta.New().AddTags("config:site"))
	if e, ok := f.cache.Get(ctx, []string{"tagged"}, nil, nil); !ok || string(e.Payload) != "a2" {
		t.Errorf("expected fresh hit after re-store, got (%v, %v)", e, ok)
	}
}

func TestInvalidateNoTags(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, WithRecorder(rec))
	if err := f.cache.InvalidateTags(context.Background(), nil, "test"); err != nil {
		t.Errorf("InvalidateTags(nil): %v", err)
	}
	if len(rec.calls) != 0 {
		t.Error("empty invalidation should not be recorded")
	}
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cache.Set(ctx, []string{"ttl"}, nil, nil, []byte("x"), cachemeta.New().CapMaxAge(60))
	f.cache.Set(ctx, []string{"forever"}, nil, nil, []byte("y"), cachemeta.New())

	f.clock.Advance(59 * time.Second)
	if _, ok := f.cache.Get(ctx, []string{"ttl"}, nil, nil); !ok {
		t.Error("expected hit before max-age elapsed")
	}

	f.clock.Advance(2 * time.Second)
	if _, ok := f.cache.Get(ctx, []string{"ttl"}, nil, nil); ok {
		t.Error("expected miss after max-age elapsed")
	}

	f.clock.Advance(365 * 24 * time.Hour)
	if _, ok := f.cache.Get(ctx, []string{"forever"}, nil, nil); !ok {
		t.Error("permanent entry should never expire")
	}
}

func TestExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cache.Set(ctx, []string{"ttl"}, nil, nil, []byte("x"), cachemeta.New().CapMaxAge(60))

	// Backend and freshness check share the clock; neither drops the entry
	// at exactly max-age.
	f.clock.Advance(60 * time.Second)
	if _, ok := f.cache.Get(ctx, []string{"ttl"}, nil, nil); !ok {
		t.Error("expected hit at exactly max-age")
	}

	f.clock.Advance(time.Millisecond)
	if _, ok := f.cache.Get(ctx, []string{"ttl"}, nil, nil); ok {
		t.Error("expected miss once max-age has passed")
	}
}

func TestTTLHintOutlivesMaxAge(t *testing.T) {
	tests := []struct {
		maxAge int
		want   time.Duration
	}{
		{cachemeta.Permanent, 0},
		{cachemeta.Uncacheable, 0},
		{1, 2 * time.Second},
		{60, 61 * time.Second},
	}
	for _, tt := range tests {
		if got := ttlHint(tt.maxAge); got != tt.want {
			t.Errorf("ttlHint(%d): got %v, want %v", tt.maxAge, got, tt.want)
		}
	}
}

func TestRedirectFollowsFullContexts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"block", "menu"}
	declared := []string{"url.path"}
	en := contexts.MapResolver{"url.path": "/about", "languages:interface": "en"}
	de := contexts.MapResolver{"url.path": "/about", "languages:interface": "de"}

	// Rendering revealed a language dependency the element did not declare.
	meta := cachemeta.New().AddContexts("languages:interface").AddTags("menu:main")
	f.cache.Set(ctx, keys, declared, en, []byte("menu-en"), meta)

	e, ok := f.cache.Get(ctx, keys, declared, en)
	if !ok {
		t.Fatal("expected hit through redirect")
	}
	if string(e.Payload) != "menu-en" {
		t.Errorf("payload: got %q", e.Payload)
	}
	if !e.Metadata.HasContext("languages:interface") || !e.Metadata.HasContext("url.path") {
		t.Errorf("hit should carry every context, got %s", e.Metadata)
	}

	// Same declared contexts, different language: redirect leads to a miss.
	if _, ok := f.cache.Get(ctx, keys, declared, de); ok {
		t.Error("German lookup must not hit the English entry")
	}

	// Invalidating the tag kills both redirect and payload.
	f.cache.InvalidateTags(ctx, []string{"menu:main"}, "test")
	if _, ok := f.cache.Get(ctx, keys, declared, en); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestRedirectLoopIsBounded(t *testing.T) {
	f := newFixture(t, WithMaxRedirects(2))
	ctx := context.Background()
	res := contexts.MapResolver{"url.path": "/"}

	// Hand-craft a redirect that points at itself.
	key, _ := f.cache.BuildKey(ctx, []string{"loop"}, []string{"url.path"}, res)
	f.cache.write(ctx, key, record{Redirect: []string{"url.path"}, StoredAt: f.clock.Now()}, 0)

	if _, ok := f.cache.Get(ctx, []string{"loop"}, []string{"url.path"}, res); ok {
		t.Error("self-redirect must resolve to a miss")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, _ := f.cache.BuildKey(ctx, []string{"corrupt"}, nil, nil)
	f.backend.Set(ctx, key, []byte("{not json"), 0)

	if _, ok := f.cache.Get(ctx, []string{"corrupt"}, nil, nil); ok {
		t.Error("corrupt entry must be a miss")
	}
}

func TestBackendFailureDegrades(t *testing.T) {
	c := New(failingBackend{}, tagindex.NewMemoryIndex())
	ctx := context.Background()

	// Neither call may panic or surface the error.
	c.Set(ctx, []string{"k"}, nil, nil, []byte("x"), cachemeta.New())
	if _, ok := c.Get(ctx, []string{"k"}, nil, nil); ok {
		t.Error("failing backend must miss")
	}

	calls := 0
	e, hit, err := c.GetOrCompute(ctx, []string{"k"}, nil, nil, func(ctx context.Context) ([]byte, cachemeta.Metadata, error) {
		calls++
		return []byte("computed"), cachemeta.New(), nil
	})
	if err != nil || hit || string(e.Payload) != "computed" || calls != 1 {
		t.Errorf("GetOrCompute: got (%v, %v, %v), calls %d", e, hit, err, calls)
	}

	if err := c.Clear(ctx); err == nil {
		t.Error("Clear should surface backend errors")
	}
}

func TestResolverFailureDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broken := contexts.ResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("session store down")
	})

	f.cache.Set(ctx, []string{"k"}, []string{"user"}, broken, []byte("x"), cachemeta.New())
	if f.backend.Len() != 0 {
		t.Error("nothing should be stored when contexts cannot be resolved")
	}
	if _, ok := f.cache.Get(ctx, []string{"k"}, []string{"user"}, broken); ok {
		t.Error("expected miss")
	}
}

// Scenario: concurrent writers of one key leave one intact payload.
func TestConcurrentSetStampede(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"page:home"}

	payloads := [][]byte{
		[]byte(fmt.Sprintf("%0512d", 1)),
		[]byte(fmt.Sprintf("%0512d", 2)),
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			f.cache.Set(ctx, keys, nil, nil, p, cachemeta.New().AddTags("node:1"))
		}(payloads[i%2])
	}
	wg.Wait()

	e, ok := f.cache.Get(ctx, keys, nil, nil)
	if !ok {
		t.Fatal("expected hit after concurrent sets")
	}
	if string(e.Payload) != string(payloads[0]) && string(e.Payload) != string(payloads[1]) {
		t.Errorf("payload corrupted: %q", e.Payload)
	}
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, cachemeta.Metadata, error) {
		calls.Add(1)
		<-release
		return []byte("page"), cachemeta.New().AddTags("node:1"), nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := f.cache.GetOrCompute(ctx, []string{"page:home"}, nil, nil, compute)
			if err == nil {
				results[i] = string(e.Payload)
			}
		}(i)
	}

	// Give the goroutines time to queue behind the leader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() < 1 || calls.Load() > n {
		t.Fatalf("compute calls: %d", calls.Load())
	}
	for i, r := range results {
		if r != "page" {
			t.Errorf("result %d: got %q", i, r)
		}
	}

	// The next call is a plain hit.
	_, hit, _ := f.cache.GetOrCompute(ctx, []string{"page:home"}, nil, nil, compute)
	if !hit {
		t.Error("expected hit after compute stored the entry")
	}
}

func TestGetOrComputeDoesNotStoreErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("template failed")

	_, _, err := f.cache.GetOrCompute(ctx, []string{"k"}, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
		return nil, cachemeta.New(), boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected compute error, got %v", err)
	}
	if f.backend.Len() != 0 {
		t.Error("failed compute must not be stored")
	}
}

func TestGetOrComputeSharedResultRespectsDiscoveredContexts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"block", "greeting"}
	en := contexts.MapResolver{"languages:interface": "en"}
	de := contexts.MapResolver{"languages:interface": "de"}

	release := make(chan struct{})
	computeFor := func(lang string, wait bool) ComputeFunc {
		return func(context.Context) ([]byte, cachemeta.Metadata, error) {
			if wait {
				<-release
			}
			return []byte("hello-" + lang), cachemeta.New().AddContexts("languages:interface"), nil
		}
	}

	var wg sync.WaitGroup
	var gotEN, gotDE string
	wg.Add(2)
	go func() {
		defer wg.Done()
		e, _, err := f.cache.GetOrCompute(ctx, keys, nil, en, computeFor("en", true))
		if err == nil {
			gotEN = string(e.Payload)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		e, _, err := f.cache.GetOrCompute(ctx, keys, nil, de, computeFor("de", false))
		if err == nil {
			gotDE = string(e.Payload)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if gotEN != "hello-en" {
		t.Errorf("en caller got %q", gotEN)
	}
	if gotDE != "hello-de" {
		t.Errorf("de caller got %q", gotDE)
	}
}

func TestGetOrComputeFollowerSurvivesLeaderCancellation(t *testing.T) {
	f := newFixture(t)
	keys := []string{"block", "teaser"}

	leaderCtx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := f.cache.GetOrCompute(leaderCtx, keys, nil, nil, func(ctx context.Context) ([]byte, cachemeta.Metadata, error) {
			close(entered)
			<-ctx.Done()
			return nil, cachemeta.New(), ctx.Err()
		})
		leaderErr <- err
	}()
	<-entered

	type outcome struct {
		payload string
		err     error
	}
	follower := make(chan outcome, 1)
	go func() {
		e, _, err := f.cache.GetOrCompute(context.Background(), keys, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
			return []byte("teaser"), cachemeta.New().AddTags("node:1"), nil
		})
		if err != nil {
			follower <- outcome{err: err}
			return
		}
		follower <- outcome{payload: string(e.Payload)}
	}()

	// Let the follower join the leader's flight.
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader: expected context.Canceled, got %v", err)
	}
	select {
	case got := <-follower:
		if got.err != nil {
			t.Fatalf("follower with a live context failed: %v", got.err)
		}
		if got.payload != "teaser" {
			t.Errorf("follower payload: got %q", got.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not return")
	}
}

func TestGetOrComputeFollowerHonorsOwnCancellation(t *testing.T) {
	f := newFixture(t)
	keys := []string{"block", "teaser"}

	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	go f.cache.GetOrCompute(context.Background(), keys, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
		close(entered)
		<-release
		return []byte("teaser"), cachemeta.New(), nil
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, _, err := f.cache.GetOrCompute(ctx, keys, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
			return []byte("teaser"), cachemeta.New(), nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower kept waiting after its own deadline")
	}
}

func TestGetOrComputeNestedSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"block", "teaser"}

	done := make(chan error, 1)
	go func() {
		_, _, err := f.cache.GetOrCompute(ctx, keys, nil, nil, func(ctx context.Context) ([]byte, cachemeta.Metadata, error) {
			inner, _, err := f.cache.GetOrCompute(ctx, keys, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
				return []byte("inner"), cachemeta.New(), nil
			})
			if err != nil {
				return nil, cachemeta.New(), err
			}
			return append([]byte("outer:"), inner.Payload...), cachemeta.New(), nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested compute for the same key did not return")
	}

	e, ok := f.cache.Get(ctx, keys, nil, nil)
	if !ok || string(e.Payload) != "outer:inner" {
		t.Errorf("stored entry: %v %v", ok, e)
	}
}

func TestGetOrComputePanicReachesCaller(t *testing.T) {
	f := newFixture(t)
	defer func() {
		if p := recover(); p != "template exploded" {
			t.Errorf("expected the compute panic, got %v", p)
		}
	}()
	f.cache.GetOrCompute(context.Background(), []string{"k"}, nil, nil, func(context.Context) ([]byte, cachemeta.Metadata, error) {
		panic("template exploded")
	})
	t.Error("GetOrCompute should have panicked")
}
