// Package db provides the SQLite journal of lifecycle events for labmgrd.
//
// Every bring-up and teardown sequence appends events (launch started, machine
// action issued, reservation released, ...) so operators can see what the
// daemon did to a machine after the fact. Online-agent counts are never
// persisted; they start at zero on every daemon start.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// connPragmas are applied by the driver to every connection it opens.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Store is the journal handle. One connection is kept open, so concurrent
// launches serialize on inserts only.
//
//	store, err := db.Open("/var/lib/labmgr/labmgr.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
type Store struct {
	Path string
	DB   *sql.DB
}

// Open creates the parent directory, connects and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", dir, err)
	}
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	store := &Store{Path: path, DB: conn}
	if err := store.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// Ping verifies the journal is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite %s: %w", s.Path, err)
	}
	return nil
}

// Close releases the connection. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
