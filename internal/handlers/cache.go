// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"rendercache/internal/store"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// InvalidationLog lists recent tag invalidations.
type InvalidationLog interface {
	RecentEntries(ctx context.Context, limit int) ([]store.InvalidationLogEntry, error)
}

// Cache groups the render cache maintenance endpoints.
type Cache struct {
	cache Invalidator
	log   InvalidationLog
}

// NewCache creates the cache handler group. log may be nil when no
// database is configured.
func NewCache(cache Invalidator, log InvalidationLog) *Cache {
	return &Cache{cache: cache, log: log}
}

// Invalidate handles POST /cache/invalidate with a JSON body
// {"tags": [...]}. Every cached render carrying any of the tags becomes
// stale.
func (c *Cache) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags   []string `json:"tags"`
		Source string   `json:"source"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if msg := validateTags(req.Tags); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	if err := c.cache.InvalidateTags(r.Context(), req.Tags, req.Source); err != nil {
		slog.Error("cache invalidation failed", "error", err, "tags", req.Tags)
		writeError(w, http.StatusServiceUnavailable, "Cache invalidation failed.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"invalidated": req.Tags})
}

// Clear handles POST /cache/clear and drops every cached render.
func (c *Cache) Clear(w http.ResponseWriter, r *http.Request) {
	if err := c.cache.Clear(r.Context()); err != nil {
		slog.Error("cache clear failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Cache clear failed.")
		return
	}
	slog.Info("render cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Log handles GET /cache/log?limit=N and returns the most recent
// invalidations, newest first.
func (c *Cache) Log(w http.ResponseWriter, r *http.Request) {
	if c.log == nil {
		writeError(w, http.StatusServiceUnavailable, "Invalidation log requires PostgreSQL.")
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := c.log.RecentEntries(r.Context(), limit)
	if err != nil {
		slog.Error("list invalidation log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not read invalidation log.")
		return
	}
	if entries == nil {
		entries = []store.InvalidationLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
