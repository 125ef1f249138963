// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// PageTagPrefix prefixes the cache tag of every page.
const PageTagPrefix = "page:"

// Page is a public page rendered by the template engine.
type Page struct {
	ID    uuid.UUID `json:"id"`
	Slug  string    `json:"slug"`
	Title string    `json:"title"`
	Body  string    `json:"body"` // Markdown
	// Version is bumped on every save.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheTag returns the tag carried by everything rendered from the page.
func (p *Page) CacheTag() string {
	return PageTagPrefix + p.Slug
}

// ListTag is carried by everything that lists pages, such as navigation.
const ListTag = "page_list"
