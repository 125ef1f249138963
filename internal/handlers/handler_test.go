// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// handler_test.go provides shared test infrastructure for handler tests.
// Everything runs in memory, so no test here needs PostgreSQL or Valkey.
package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"rendercache/internal/cache"
	"rendercache/internal/engine"
	"rendercache/internal/link"
	"rendercache/internal/middleware"
	"rendercache/internal/models"
	"rendercache/internal/render"
	"rendercache/internal/session"
	"rendercache/internal/store"
	"rendercache/internal/tagindex"
	"rendercache/internal/variation"
)

// countingPages wraps a page store and counts List calls, which only the
// nav production routine makes.
type countingPages struct {
	*store.MemoryPageStore
	lists atomic.Int32
}

func (c *countingPages) List(ctx context.Context) ([]models.Page, error) {
	c.lists.Add(1)
	return c.MemoryPageStore.List(ctx)
}

// headerSessions is a session loader keyed by the X-Test-User header.
type headerSessions struct{}

func (headerSessions) Get(_ context.Context, r *http.Request) (*session.Data, error) {
	id := r.Header.Get("X-Test-User")
	if id == "" {
		return nil, nil
	}
	return &session.Data{UserID: id, Roles: []string{"authenticated"}}, nil
}

// recordingLog collects invalidations and serves them as a log.
type recordingLog struct {
	mu      sync.Mutex
	entries []store.InvalidationLogEntry
}

func (l *recordingLog) Record(_ context.Context, tags []string, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]store.InvalidationLogEntry{{Tags: tags, Source: source, InvalidatedAt: time.Now()}}, l.entries...)
}

func (l *recordingLog) RecentEntries(_ context.Context, limit int) ([]store.InvalidationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[:min(limit, len(l.entries))], nil
}

// testEnv holds all dependencies for handler tests.
type testEnv struct {
	pages  *countingPages
	cache  *variation.Cache
	log    *recordingLog
	public *Public
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend, err := cache.NewMemoryBackend(1000)
	if err != nil {
		t.Fatalf("NewMemoryBackend: %v", err)
	}
	log := &recordingLog{}
	vc := variation.New(backend, tagindex.NewMemoryIndex(), variation.WithRecorder(log))
	pages := &countingPages{MemoryPageStore: store.NewMemoryPageStore(store.DefaultPages()...)}

	links := link.New("en", "http://example.com")
	eng := engine.New(links)
	public := NewPublic(render.NewWalker(vc), eng, pages, vc, "en", []string{"en", "de"})
	public.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	c := NewCache(vc, log)
	tmpl := NewTemplates(eng, vc)

	r := chi.NewRouter()
	r.Use(middleware.LoadSession(headerSessions{}))
	r.Post("/cache/invalidate", c.Invalidate)
	r.Post("/cache/clear", c.Clear)
	r.Get("/cache/log", c.Log)
	r.Put("/pages/{slug}", public.UpdatePage)
	r.Put("/templates/{name}", tmpl.Publish)
	r.Delete("/templates/{name}", tmpl.Revert)
	r.Get("/", public.Homepage)
	r.Get("/{slug}", public.Page)
	r.Get("/{lang}/{slug}", public.LocalizedPage)

	return &testEnv{pages: pages, cache: vc, log: log, public: public, router: r}
}

// do sends a request through the test router.
func (e *testEnv) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}
