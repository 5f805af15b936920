// Package sqlite stores cache entries in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/httpcache/provider"
)

const Name = "sqlite"

type Options struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultOptions() Options {
	return Options{
		Path:    "./cache.db",
		Timeout: 5 * time.Second,
	}
}

func init() {
	httpcache.Register(Name, func(node *yaml.Node, logger zerolog.Logger) (httpcache.HttpCache, error) {
		opts := DefaultOptions()
		if err := httpcache.DecodeOptions(node, &opts); err != nil {
			return nil, err
		}
		store, err := NewSQLiteCache(opts.Path)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", opts.Path).Msg("Using SQLite cache")
		return provider.New(Name, store, opts.Timeout, logger), nil
	})
}

// SQLiteCache is a provider.CacheProvider backed by one table.
// Reads run concurrently; writes are serialized.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, stored INTEGER, expires INTEGER, bytes BLOB)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Get returns the entry for key. Expired entries are reported as missing.
func (s *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM cache WHERE key = ? AND (expires = 0 OR expires > ?)", key, time.Now().Unix()).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, key string, expires time.Time, bytes []byte) error {
	var expiresUnix int64
	if !expires.IsZero() {
		expiresUnix = expires.Unix()
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, stored, expires, bytes) VALUES (?, ?, ?, ?)", key, time.Now().Unix(), expiresUnix, bytes)
	return err
}

// Purge removes the entry for key.
func (s *SQLiteCache) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

// Keys calls the given callback for each key
func (s *SQLiteCache) Keys(ctx context.Context, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
