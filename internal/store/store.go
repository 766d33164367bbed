// Package store is the authoritative entity store. All controller
// state (namespaces, packages, actions, triggers, rules, activations,
// subjects) lives in Postgres; single-row upserts, deletes and updates
// are atomic with respect to concurrent readers, and no cross-entity
// transactions are required beyond the cascade deletes expressed in
// the schema.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"

	"github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/werr"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the database handle.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Open connects to Postgres and applies pending migrations.
func Open(ctx context.Context, url string, log *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, errors.Wrap(err, "set goose dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, errors.Wrap(err, "apply migrations")
	}

	log.Info("entity store ready")
	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx"), log: log}
}

// Close drains the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// marshalJSON encodes v for a jsonb column, mapping nil to '{}'.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal jsonb")
	}
	return raw, nil
}

// unmarshalJSON decodes a jsonb column into dst, tolerating NULL.
func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// notFound converts sql.ErrNoRows into the taxonomy.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return werr.New(werr.KindNotFound, what+" not found")
	}
	return errors.Wrap(err, "query "+what)
}
