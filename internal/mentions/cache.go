// Package mentions merges live provider handle search with a local
// cache of previously seen handles, so known handles keep resolving
// when the platform search is slow, rate limited or down.
package mentions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"channel-hub/internal/providers"
)

// Cache persists handles previously returned for a (provider, query)
// pair.
type Cache interface {
	Get(ctx context.Context, provider, query string) ([]providers.Mention, error)
	Put(ctx context.Context, provider, query string, mentions []providers.Mention) error
}

// SQLCache stores mentions in the channel store's database. The dialect
// selects placeholder style; both backends share the same schema.
type SQLCache struct {
	db      *sql.DB
	dialect string
}

// InitSQLCache migrates the mention_cache table on the shared handle.
// Dialect is "sqlite" or "postgres".
func InitSQLCache(db *sql.DB, dialect string) (*SQLCache, error) {
	c := &SQLCache{db: db, dialect: dialect}

	timestamp := "DATETIME DEFAULT CURRENT_TIMESTAMP"
	if dialect == "postgres" {
		timestamp = "TIMESTAMPTZ DEFAULT NOW()"
	}

	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mention_cache (
			provider_identifier TEXT NOT NULL,
			query TEXT NOT NULL,
			mention_id TEXT DEFAULT '',
			label TEXT NOT NULL,
			username TEXT DEFAULT '',
			image TEXT DEFAULT '',
			updated_at %s
		)`, timestamp),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mention_cache_key
			ON mention_cache(provider_identifier, query, label)`,
	}
	for _, query := range queries {
		if _, err := c.db.Exec(query); err != nil {
			return nil, fmt.Errorf("failed to migrate mention cache: %w", err)
		}
	}
	return c, nil
}

func (c *SQLCache) Get(ctx context.Context, provider, query string) ([]providers.Mention, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(
		`SELECT mention_id, label, username, image FROM mention_cache
			WHERE provider_identifier = ? AND query = ? ORDER BY label ASC`),
		provider, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read mention cache: %w", err)
	}
	defer rows.Close()

	var mentions []providers.Mention
	for rows.Next() {
		var m providers.Mention
		if err := rows.Scan(&m.ID, &m.Label, &m.Username, &m.Image); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// Put upserts mentions by label. Entries flagged DoNotCache and entries
// with a blank label are skipped.
func (c *SQLCache) Put(ctx context.Context, provider, query string, mentions []providers.Mention) error {
	upsert := c.rebind(`INSERT INTO mention_cache (provider_identifier, query, mention_id, label, username, image)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_identifier, query, label) DO UPDATE SET
			mention_id = excluded.mention_id,
			username = excluded.username,
			image = excluded.image,
			updated_at = ` + c.now())

	for _, m := range mentions {
		if m.DoNotCache || m.Label == "" {
			continue
		}
		if _, err := c.db.ExecContext(ctx, upsert, provider, query, m.ID, m.Label, m.Username, m.Image); err != nil {
			return fmt.Errorf("failed to upsert mention: %w", err)
		}
	}
	return nil
}

func (c *SQLCache) now() string {
	if c.dialect == "postgres" {
		return "NOW()"
	}
	return "CURRENT_TIMESTAMP"
}

// rebind rewrites ? placeholders to $n for postgres.
func (c *SQLCache) rebind(query string) string {
	if c.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
