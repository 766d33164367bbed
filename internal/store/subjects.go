package store

import (
	"context"
	"crypto/subtle"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

// AuthenticateSubject resolves Basic uuid:key credentials to a subject.
// Failures are always KindAuth so callers cannot distinguish an unknown
// uuid from a wrong key.
func (s *Store) AuthenticateSubject(ctx context.Context, uuid, key string) (*entity.Subject, error) {
	var sub entity.Subject
	err := s.db.GetContext(ctx, &sub,
		`SELECT id, name, uuid, key, created_at FROM subjects WHERE uuid = $1`, uuid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, werr.New(werr.KindAuth, "invalid credentials")
		}
		return nil, errors.Wrap(err, "query subject")
	}
	if subtle.ConstantTimeCompare([]byte(sub.Key), []byte(key)) != 1 {
		return nil, werr.New(werr.KindAuth, "invalid credentials")
	}
	return &sub, nil
}

// GetSubject looks up a subject by name.
func (s *Store) GetSubject(ctx context.Context, name string) (*entity.Subject, error) {
	var sub entity.Subject
	err := s.db.GetContext(ctx, &sub,
		`SELECT id, name, uuid, key, created_at FROM subjects WHERE name = $1`, name)
	if err != nil {
		return nil, notFound(err, "subject "+name)
	}
	return &sub, nil
}

// CreateSubject registers an identity. Names and uuids are unique.
func (s *Store) CreateSubject(ctx context.Context, sub *entity.Subject) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO subjects (name, uuid, key)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING id`,
		sub.Name, sub.UUID, sub.Key).Scan(&sub.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return werr.New(werr.KindConflict, "subject "+sub.Name+" already exists")
		}
		return errors.Wrap(err, "insert subject")
	}
	return nil
}
