// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rendercache/internal/models"
)

// PageStore handles page database operations.
type PageStore struct {
	db *sql.DB
}

// NewPageStore creates a new PageStore with the given database connection.
func NewPageStore(db *sql.DB) *PageStore {
	return &PageStore{db: db}
}

// List returns every page ordered by slug.
func (s *PageStore) List(ctx context.Context) ([]models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, title, body, version, created_at, updated_at
		FROM pages
		ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &p.Body, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// FindBySlug retrieves a page by its slug. Returns nil if not found.
func (s *PageStore) FindBySlug(ctx context.Context, slug string) (*models.Page, error) {
	p := &models.Page{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, title, body, version, created_at, updated_at
		FROM pages WHERE slug = $1
	`, slug).Scan(&p.ID, &p.Slug, &p.Title, &p.Body, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find page by slug: %w", err)
	}
	return p, nil
}

// Save creates the page or, if its slug exists, replaces its title and body
// and bumps its version. Returns the stored page.
func (s *PageStore) Save(ctx context.Context, page *models.Page) (*models.Page, error) {
	p := &models.Page{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (slug, title, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			version = pages.version + 1,
			updated_at = now()
		RETURNING id, slug, title, body, version, created_at, updated_at
	`, page.Slug, page.Title, page.Body).Scan(&p.ID, &p.Slug, &p.Title, &p.Body, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save page: %w", err)
	}
	return p, nil
}

// Delete removes a page by slug. Deleting a missing page is not an error.
func (s *PageStore) Delete(ctx context.Context, slug string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE slug = $1`, slug); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}
