package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/conference-crawler/internal/store"
)

// schema is idempotent. Author and keyword carry unique indexes so concurrent
// ingestion cannot duplicate them; items are deduplicated by lookup under an
// advisory lock.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conference_item (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	item_type TEXT,
	conference TEXT,
	year INTEGER,
	abstract TEXT,
	paper_url TEXT,
	openreview_url TEXT,
	poster_url TEXT,
	slides_url TEXT
)`,
	`CREATE INDEX IF NOT EXISTS conference_item_url_idx ON conference_item (url)`,
	`CREATE TABLE IF NOT EXISTS author (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS author_name_key ON author (name)`,
	`CREATE TABLE IF NOT EXISTS keyword (
	id BIGSERIAL PRIMARY KEY,
	type TEXT,
	value TEXT NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS keyword_type_value_key ON keyword (COALESCE(type, ''), value)`,
	`CREATE TABLE IF NOT EXISTS item_author (
	item_id BIGINT NOT NULL REFERENCES conference_item (id) ON DELETE CASCADE,
	author_id BIGINT NOT NULL REFERENCES author (id) ON DELETE CASCADE,
	PRIMARY KEY (item_id, author_id)
)`,
	`CREATE TABLE IF NOT EXISTS item_keyword (
	item_id BIGINT NOT NULL REFERENCES conference_item (id) ON DELETE CASCADE,
	keyword_id BIGINT NOT NULL REFERENCES keyword (id) ON DELETE CASCADE,
	PRIMARY KEY (item_id, keyword_id)
)`,
}

// EnsureSchema creates the publication tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.mode == store.ModeSingle {
		s.conn.Lock()
		defer s.conn.Unlock()
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
