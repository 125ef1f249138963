// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package link generates site URLs.
//
// A generated URL depends on the interface language (and, for absolute
// URLs, on the site origin), so every call emits those contexts to the
// render context carried by ctx. Callers get a plain string back and never
// see the metadata; the enclosing render frame collects it.
package link

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"rendercache/internal/cachemeta"
	"rendercache/internal/contexts"
	"rendercache/internal/rendercontext"
)

var (
	// nonAlphanumeric matches anything that isn't a letter, digit, space or hyphen.
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s-]`)
	// multipleHyphens collapses consecutive hyphens into one.
	multipleHyphens = regexp.MustCompile(`-{2,}`)
)

// Slug creates a URL-friendly path segment from the given string.
// Example: "Hello, World! 2026" → "hello-world-2026"
func Slug(s string) string {
	result := strings.ToLower(strings.TrimSpace(s))
	result = nonAlphanumeric.ReplaceAllString(result, "")
	result = strings.Join(strings.Fields(result), "-")
	result = multipleHyphens.ReplaceAllString(result, "-")
	return strings.Trim(result, "-")
}

// Generator builds language-prefixed URLs.
type Generator struct {
	// DefaultLanguage gets no path prefix. Empty means "en".
	DefaultLanguage string
	// BaseURL is the fallback origin for Absolute when the resolver cannot
	// provide url.site, e.g. "https://example.com".
	BaseURL string
}

// New creates a Generator.
func New(defaultLanguage, baseURL string) *Generator {
	return &Generator{DefaultLanguage: defaultLanguage, BaseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns the site-relative URL for path in the current interface
// language: "/about" stays "/about" for the default language and becomes
// "/de/about" for German.
func (g *Generator) URL(ctx context.Context, path string) string {
	rendercontext.Emit(ctx, cachemeta.New().AddContexts(contexts.LanguagesInterface))

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	lang := g.resolve(ctx, contexts.LanguagesInterface)
	if lang == "" || lang == g.defaultLanguage() {
		return path
	}
	if path == "/" {
		return "/" + lang
	}
	return "/" + lang + path
}

// Absolute is URL prefixed with the site origin.
func (g *Generator) Absolute(ctx context.Context, path string) string {
	rendercontext.Emit(ctx, cachemeta.New().AddContexts(contexts.URLSite))

	site := g.resolve(ctx, contexts.URLSite)
	if site == "" {
		site = g.BaseURL
	}
	return strings.TrimRight(site, "/") + g.URL(ctx, path)
}

// Page returns the URL of the page with the given title.
func (g *Generator) Page(ctx context.Context, title string) string {
	return g.URL(ctx, "/"+Slug(title))
}

func (g *Generator) defaultLanguage() string {
	if g.DefaultLanguage == "" {
		return "en"
	}
	return g.DefaultLanguage
}

// resolve reads id from the resolver carried by ctx. Without one, or on
// error, the empty string is returned.
func (g *Generator) resolve(ctx context.Context, id string) string {
	r := contexts.ResolverFromContext(ctx)
	if r == nil {
		return ""
	}
	v, err := r.Resolve(ctx, id)
	if err != nil {
		slog.Warn("link context resolve error", "context", id, "error", err)
		return ""
	}
	return v
}
