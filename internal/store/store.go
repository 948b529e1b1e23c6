// Package store persists pipeline state in Postgres: run lifecycle rows,
// per-entry jobs, embedding vectors, cluster membership and the dated
// news-cluster output tables.
//
// Date-partitioned tables (feed_entries_YYYYMMDD, flash_point_YYYYMMDD,
// news_clusters_YYYYMMDD) are addressed through a resolved Tables value;
// their names are validated before interpolation. Sidecar tables
// (processing_runs, feed_entry_jobs, feed_entry_vectors, feed_entry_topics,
// cluster_members) are date-independent and assumed to exist.
//
// All queries use named parameters. JSON parameters are always written as
// CAST(:param AS jsonb) — never the :: shorthand — because named parameters
// are rewritten positionally before they reach the driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// Store wraps a bounded Postgres pool plus the codec used to populate the
// compressed_content column.
type Store struct {
	db     *sqlx.DB
	codec  ContentCodec
	logger *slog.Logger
}

// Open connects to Postgres with the configured pool bounds and verifies
// the connection with a ping.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database url is not configured")
	}
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, &types.StoreError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &types.StoreError{Op: "ping", Err: err}
	}

	return &Store{
		db:     db,
		codec:  codec,
		logger: logger.With("component", "store"),
	}, nil
}

// NewWithDB wraps an already-open connection. Used by tests.
func NewWithDB(db *sqlx.DB, codec ContentCodec, logger *slog.Logger) *Store {
	if codec == nil {
		codec = NoneCodec{}
	}
	return &Store{db: db, codec: codec, logger: logger.With("component", "store")}
}

// Codec returns the active content codec.
func (s *Store) Codec() ContentCodec { return s.codec }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// namedExec binds named parameters, rebinds placeholders for the active
// driver, and executes the statement.
func (s *Store) namedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, s.db.Rebind(q), args...)
}

func (s *Store) namedSelect(ctx context.Context, dest any, query string, arg any) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), args...)
}

func (s *Store) namedGet(ctx context.Context, dest any, query string, arg any) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return err
	}
	return s.db.GetContext(ctx, dest, s.db.Rebind(q), args...)
}

// namedIn expands slice parameters into IN lists after named binding.
func (s *Store) namedIn(query string, arg any) (string, []any, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, err
	}
	q, args, err = sqlx.In(q, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(q), args, nil
}
