// Package postgres implements the persistence contracts of
// internal/identity, internal/credential, and internal/pipeline over raw
// database/sql + lib/pq, one file per aggregate, matching the
// repository style used throughout api_control. No ORM.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"chatbroker/internal/logging"
)

// Conn is the shared connection handle every repository file embeds.
type Conn = *sql.DB

// Config holds connection-pool settings, grounded on
// pkg/database/postgres.go's Config.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig mirrors api_control's connection pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Connect opens and pings a Postgres connection pool.
func Connect(cfg Config, logger logging.Logger) (Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: database URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if logger != nil {
		logger.WithFields(logging.Fields{
			"max_open_conns": cfg.MaxOpenConns,
			"max_idle_conns": cfg.MaxIdleConns,
		}).Info("postgres: connected")
	}
	return db, nil
}

// Store bundles one Conn behind every aggregate's repository methods. It
// satisfies identity.Repository, credential.Repository, and
// pipeline.Repository simultaneously, matching how api_control's handlers
// share a single *sql.DB across multiple logical repositories.
type Store struct {
	db     Conn
	logger logging.Logger
}

// New wraps db in a Store.
func New(db Conn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}
