// package cache is a small sqlite-backed TTL cache for platform search
// results, so repeated queries within the window skip the sidecar.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/shared"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_cache (
	query      TEXT PRIMARY KEY,
	results    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

// Cache stores JSON-encoded values keyed by query string. Entries expire
// lazily on read; Prune clears them eagerly.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	logger *log.Logger
}

// New opens (creating if needed) the cache database at cfg.Path.
func New(cfg shared.CacheConfig, logger *log.Logger) (*Cache, error) {
	path := cfg.Path
	if path == "" {
		path = "cache.db"
	}
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

// Get loads the cached value for query into dest. A miss, an expired entry
// or an undecodable row all report ErrNotFound; expired rows are removed on
// the way out.
func (c *Cache) Get(query string, dest any) error {
	var encoded string
	var createdAt time.Time
	err := c.db.QueryRow(
		"SELECT results, created_at FROM search_cache WHERE query = ?", query,
	).Scan(&encoded, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if time.Since(createdAt) > c.ttl {
		if _, err := c.db.Exec("DELETE FROM search_cache WHERE query = ?", query); err != nil {
			c.logger.Warn("failed to evict expired cache entry", "query", query, "err", err)
		}
		return shared.ErrNotFound
	}

	if err := json.Unmarshal([]byte(encoded), dest); err != nil {
		c.logger.Warn("undecodable cache entry dropped", "query", query, "err", err)
		c.db.Exec("DELETE FROM search_cache WHERE query = ?", query)
		return shared.ErrNotFound
	}
	return nil
}

// Put stores value for query, replacing any previous entry and restarting
// its TTL.
func (c *Cache) Put(query string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO search_cache (query, results, created_at) VALUES (?, ?, ?)",
		query, string(encoded), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Prune deletes all expired entries, returning how many were removed.
func (c *Cache) Prune() (int64, error) {
	result, err := c.db.Exec(
		"DELETE FROM search_cache WHERE created_at < ?", time.Now().Add(-c.ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
