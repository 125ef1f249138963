// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// invalidation_log.go records cache tag invalidations in the database for
// audit and debugging purposes. Each entry captures which tags were
// invalidated, by whom, and when.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// InvalidationLogStore handles invalidation log operations.
type InvalidationLogStore struct {
	db *sql.DB
}

// NewInvalidationLogStore creates a new InvalidationLogStore.
func NewInvalidationLogStore(db *sql.DB) *InvalidationLogStore {
	return &InvalidationLogStore{db: db}
}

// Record logs a tag invalidation. It is best-effort: failures are logged
// and never returned, since the invalidation itself already happened.
func (s *InvalidationLogStore) Record(ctx context.Context, tags []string, source string) {
	encoded, err := json.Marshal(tags)
	if err != nil {
		slog.Warn("failed to encode invalidated tags", "tags", tags, "error", err)
		return
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_invalidation_log (id, tags, source)
		VALUES ($1, $2, $3)
	`, id, string(encoded), source)
	if err != nil {
		// Log but don't fail, invalidation logging is best-effort.
		slog.Warn("failed to log cache invalidation",
			"tags", tags,
			"source", source,
			"error", err,
		)
		return
	}
	slog.Debug("cache invalidation logged", "id", id, "tags", tags, "source", source)
}

// RecentEntries returns the most recent invalidations, newest first.
func (s *InvalidationLogStore) RecentEntries(ctx context.Context, limit int) ([]InvalidationLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tags, source, invalidated_at
		FROM cache_invalidation_log
		ORDER BY invalidated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invalidation log: %w", err)
	}
	defer rows.Close()

	var entries []InvalidationLogEntry
	for rows.Next() {
		var e InvalidationLogEntry
		var tags []byte
		if err := rows.Scan(&e.ID, &tags, &e.Source, &e.InvalidatedAt); err != nil {
			return nil, fmt.Errorf("scan invalidation log: %w", err)
		}
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode invalidated tags: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InvalidationLogEntry represents a single invalidation event.
type InvalidationLogEntry struct {
	ID            uuid.UUID `json:"id"`
	Tags          []string  `json:"tags"`
	Source        string    `json:"source"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}
