// Package prefs persists msgpack-encoded snapshots in SQLite so the stores
// can warm-start with the last known state before the first server pull.
package prefs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Cache stores one blob per domain, keyed by store name.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	log zerolog.Logger
}

// New prepares the cache schema. Entries older than ttl are still loadable
// but reported as stale.
func New(db *sql.DB, ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return &Cache{
		db:  db,
		ttl: ttl,
		log: log.With().Str("component", "prefs").Logger(),
	}, nil
}

// Store encodes v and upserts it under key.
func (c *Cache) Store(key string, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}
	_, err = c.db.Exec(`
		INSERT INTO snapshots (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", key, err)
	}
	return nil
}

// Load decodes the cached snapshot for key into v and reports whether it is
// still within the freshness window. A missing entry returns sql.ErrNoRows.
func (c *Cache) Load(key string, v interface{}) (bool, error) {
	var payload []byte
	var updatedAt int64
	err := c.db.QueryRow(`SELECT payload, updated_at FROM snapshots WHERE key = ?`, key).
		Scan(&payload, &updatedAt)
	if err != nil {
		return false, err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	fresh := time.Since(time.Unix(updatedAt, 0)) <= c.ttl
	return fresh, nil
}

// CleanupExpired deletes entries not refreshed within olderThan and returns
// how many were removed.
func (c *Cache) CleanupExpired(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := c.db.Exec(`DELETE FROM snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up snapshots: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Debug().Int64("removed", removed).Msg("Cleaned up expired snapshots")
	}
	return removed, nil
}
