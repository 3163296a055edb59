// Package db archives finished jobs in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ConnectionConfig describes one SQLite handle.
type ConnectionConfig struct {
	Path        string
	BusyTimeout time.Duration
	// MaxOpenConns is 1 for the archive: SQLite has a single writer.
	MaxOpenConns int
}

// DefaultConnectionConfig returns the archive's single-writer settings.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}
}

// DSN renders c for the modernc driver. Pragmas are applied by the driver
// on every new connection, so pooled reconnects keep them.
func (c ConnectionConfig) DSN() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return c.Path + "?" + q.Encode()
}

// NewSQLiteConnection opens c and confirms WAL journaling took effect.
func NewSQLiteConnection(c ConnectionConfig) (*sql.DB, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	conn, err := sql.Open("sqlite", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if c.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(c.MaxOpenConns)
		conn.SetMaxIdleConns(c.MaxOpenConns)
	}

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", c.Path, err)
	}
	if !strings.EqualFold(mode, "wal") {
		conn.Close()
		return nil, fmt.Errorf("WAL mode not enabled for %s, got %q", c.Path, mode)
	}
	return conn, nil
}
