// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package tagindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresIndex persists tag counters in the cache_tags table, created by
// the database migrations.
type PostgresIndex struct {
	db *sql.DB
}

// NewPostgresIndex creates an index backed by db.
func NewPostgresIndex(db *sql.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Checksum implements Index.
func (p *PostgresIndex) Checksum(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(invalidations), 0)
		FROM cache_tags
		WHERE tag = ANY($1)
	`, tags).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("query tag checksum: %w", err)
	}
	return sum, nil
}

// Invalidate implements Index. Counters are bumped in a single transaction.
func (p *PostgresIndex) Invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invalidation: %w", err)
	}
	defer tx.Rollback()

	for _, tag := range tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_tags (tag, invalidations)
			VALUES ($1, 1)
			ON CONFLICT (tag) DO UPDATE
			SET invalidations = cache_tags.invalidations + 1
		`, tag)
		if err != nil {
			return fmt.Errorf("bump tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit invalidation: %w", err)
	}

	slog.Debug("cache tags invalidated", "tags", tags, "index", "postgres")
	return nil
}

// Ensure PostgresIndex implements Index
var _ Index = (*PostgresIndex)(nil)
