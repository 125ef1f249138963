// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rendercache/internal/models"
)

// MemoryPageStore keeps pages in process memory, for running without
// PostgreSQL. It has the same semantics as PageStore.
type MemoryPageStore struct {
	mu    sync.RWMutex
	pages map[string]models.Page
}

// NewMemoryPageStore creates a store holding the given pages.
func NewMemoryPageStore(seed ...models.Page) *MemoryPageStore {
	s := &MemoryPageStore{pages: make(map[string]models.Page)}
	for i := range seed {
		s.Save(context.Background(), &seed[i])
	}
	return s
}

// List returns every page ordered by slug.
func (s *MemoryPageStore) List(_ context.Context) ([]models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := make([]models.Page, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	slices.SortFunc(pages, func(a, b models.Page) int { return strings.Compare(a.Slug, b.Slug) })
	return pages, nil
}

// FindBySlug retrieves a page by its slug. Returns nil if not found.
func (s *MemoryPageStore) FindBySlug(_ context.Context, slug string) (*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[slug]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save creates or replaces a page, bumping its version.
func (s *MemoryPageStore) Save(_ context.Context, page *models.Page) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p, ok := s.pages[page.Slug]
	if ok {
		p.Version++
	} else {
		p = models.Page{ID: uuid.New(), Slug: page.Slug, Version: 1, CreatedAt: now}
	}
	p.Title = page.Title
	p.Body = page.Body
	p.UpdatedAt = now
	s.pages[p.Slug] = p
	return &p, nil
}

// Delete removes a page by slug.
func (s *MemoryPageStore) Delete(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, slug)
	return nil
}

// DefaultPages is the starter content used when no database is configured.
func DefaultPages() []models.Page {
	return []models.Page{
		{Slug: "home", Title: "Home", Body: "# Welcome\n\nThis page is rendered from cached fragments."},
		{Slug: "about", Title: "About", Body: "# About\n\nEvery fragment carries cache tags, contexts and a max-age."},
	}
}
