// Package storage persists holon trees, heartbeat history, messages and
// telemetry snapshots to SQLite. A .hln file is an ordinary SQLite
// database, optionally encrypted with a passphrase applied as PRAGMA key
// on every pool connection.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// ErrNotFound is returned by lookups for ids with no stored row.
var ErrNotFound = errors.New("not found in storage")

// Store wraps one database handle. All methods are safe for concurrent
// use; the underlying pool serializes SQLite access.
type Store struct {
	db  *dbutil.Database
	log zerolog.Logger
}

// New wraps an already-open database. The caller is responsible for the
// schema; Open is the usual entry point.
func New(db *dbutil.Database, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "storage").Logger(),
	}
}

var keyedDriverSeq atomic.Uint64

// registerKeyedDriver registers a sqlite3 driver variant that applies the
// encryption key before any statement runs on a new connection. Driver
// names are global, so each passphrase gets a fresh name.
func registerKeyedDriver(passphrase string) string {
	name := fmt.Sprintf("sqlite3_hln_%d", keyedDriverSeq.Add(1))
	key := strings.ReplaceAll(passphrase, "'", "''")
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec(fmt.Sprintf("PRAGMA key = '%s'", key), nil)
			return err
		},
	})
	return name
}

// Open opens (creating if needed) the .hln file at path and ensures the
// schema exists. Pass ":memory:" for an ephemeral store. A non-empty
// passphrase keys every connection before use.
func Open(ctx context.Context, path, passphrase string, log zerolog.Logger) (*Store, error) {
	driver := "sqlite3"
	if passphrase != "" {
		driver = registerKeyedDriver(passphrase)
	}
	raw, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// SQLite allows one writer, and ":memory:" databases exist per
	// connection, so the pool must not grow past a single conn.
	raw.SetMaxOpenConns(1)
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("wrap database: %w", err)
	}
	store := New(db, log)
	if err := store.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store.log.Info().
		Str("path", path).
		Bool("encrypted", passphrase != "").
		Msg("Storage opened")
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

// jsonMapOrNil returns NULL for empty maps so restored rows distinguish
// "never set" from "set to empty".
func jsonMapOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return marshalJSON(m)
}

func scanJSONMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeToMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func millisToTime(ni sql.NullInt64) time.Time {
	if !ni.Valid {
		return time.Time{}
	}
	return time.UnixMilli(ni.Int64).UTC()
}
