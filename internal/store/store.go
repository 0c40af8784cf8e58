// Package store is the relational state store: the system of record for
// projects, segments and render jobs. Every status transition that more
// than one at-least-once delivery could race on goes through a single
// conditional UPDATE ... WHERE status IN (...) so a redelivered message
// is a no-op instead of double-processing.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
}

func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB — used by tests to inject a
// sqlmock connection without dialing a real database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

var ErrNotFound = fmt.Errorf("store: not found")
