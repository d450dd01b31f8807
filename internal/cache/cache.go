// Package cache provides the process-wide persistent key/value store apps
// use to carry small state across restarts. Values are JSON-encoded and
// written through to a SQLite file on every Set.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("cache: key not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Cache is a SQLite-backed key/value store.
type Cache struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// SQLite supports a single writer; keep the pool to one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	logger.Info("Cache opened", zap.String("path", path))
	return &Cache{db: db, logger: logger.Named("cache")}, nil
}

// Set stores a value under key. The value must be JSON-encodable.
func (c *Cache) Set(key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value for %q: %w", key, err)
	}

	_, err = c.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(encoded), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into dest. Returns ErrNotFound when
// the key is absent.
func (c *Cache) Get(key string, dest interface{}) error {
	var encoded string
	err := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading cache key %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(encoded), dest); err != nil {
		return fmt.Errorf("decoding cache value for %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	if _, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache key %q: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys.
func (c *Cache) Keys() ([]string, error) {
	rows, err := c.db.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning cache key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
