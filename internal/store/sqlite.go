// Package store provides the durable geocode cache.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// GeocodeCache implements geocode.Cache on a local SQLite file.
type GeocodeCache struct {
	db *sql.DB
}

var _ geocode.Cache = (*GeocodeCache)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*GeocodeCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &GeocodeCache{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	cache_key  TEXT PRIMARY KEY,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate creates the cache table if needed.
func (s *GeocodeCache) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close flushes and closes the database.
func (s *GeocodeCache) Close() error {
	return s.db.Close()
}

// Get implements geocode.Cache.
func (s *GeocodeCache) Get(ctx context.Context, key string) (geo.Coordinate, bool, error) {
	var c geo.Coordinate
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM geocode_cache WHERE cache_key = ?`, key,
	).Scan(&c.Latitude, &c.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.Coordinate{}, false, nil
	}
	if err != nil {
		return geo.Coordinate{}, false, eris.Wrapf(err, "sqlite: get %q", key)
	}
	return c, true, nil
}

// Put implements geocode.Cache. An existing entry for key is replaced.
func (s *GeocodeCache) Put(ctx context.Context, key string, c geo.Coordinate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (cache_key, latitude, longitude, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			cached_at = excluded.cached_at`,
		key, c.Latitude, c.Longitude, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: put %q", key)
	}
	return nil
}

// Clear implements geocode.Cache.
func (s *GeocodeCache) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM geocode_cache`); err != nil {
		return eris.Wrap(err, "sqlite: clear")
	}
	return nil
}

// Len implements geocode.Cache.
func (s *GeocodeCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM geocode_cache`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count")
	}
	return n, nil
}
