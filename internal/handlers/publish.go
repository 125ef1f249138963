// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"rendercache/internal/engine"
)

// TemplatePublisher replaces template sources at runtime.
type TemplatePublisher interface {
	Publish(name, source string) (int, error)
	Revert(name string) bool
}

// Templates groups the template publishing endpoints.
type Templates struct {
	engine TemplatePublisher
	cache  Invalidator
}

// NewTemplates creates the template handler group.
func NewTemplates(engine TemplatePublisher, cache Invalidator) *Templates {
	return &Templates{engine: engine, cache: cache}
}

// Publish handles PUT /templates/{name} with a JSON body {"source": "..."}.
// The new source is used by every later render, and every cached render
// of the template is invalidated.
func (t *Templates) Publish(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := pageTemplates[name]; !ok {
		writeError(w, http.StatusNotFound, "Template not found.")
		return
	}

	var req struct {
		Source string `json:"source"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusUnprocessableEntity, "source is required.")
		return
	}

	rev, err := t.engine.Publish(name, req.Source)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !t.invalidate(r.Context(), name, "template_publish") {
		writeError(w, http.StatusServiceUnavailable, "Template published but cache invalidation failed.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"name": name, "revision": rev})
}

// Revert handles DELETE /templates/{name} and restores the built-in source.
func (t *Templates) Revert(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := pageTemplates[name]; !ok {
		writeError(w, http.StatusNotFound, "Template not found.")
		return
	}
	if !t.engine.Revert(name) {
		writeError(w, http.StatusNotFound, "Template has no published source.")
		return
	}
	if !t.invalidate(r.Context(), name, "template_revert") {
		writeError(w, http.StatusServiceUnavailable, "Template reverted but cache invalidation failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *Templates) invalidate(ctx context.Context, name, source string) bool {
	tags := []string{engine.TagPrefix + name}
	if err := t.cache.InvalidateTags(ctx, tags, source); err != nil {
		slog.Error("template invalidation failed", "error", err, "template", name)
		return false
	}
	return true
}
