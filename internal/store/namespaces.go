package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

type namespaceRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	UUID        string `db:"uuid"`
	OwnerID     int64  `db:"owner_id"`
	Description string `db:"description"`
	Limits      []byte `db:"limits"`
}

func (r namespaceRow) toEntity() (*entity.Namespace, error) {
	ns := &entity.Namespace{
		ID:          r.ID,
		Name:        r.Name,
		UUID:        r.UUID,
		OwnerID:     r.OwnerID,
		Description: r.Description,
		Limits:      entity.Params{},
	}
	if err := unmarshalJSON(r.Limits, &ns.Limits); err != nil {
		return nil, errors.Wrap(err, "decode namespace limits")
	}
	return ns, nil
}

const namespaceCols = `id, name, uuid, owner_id, description, limits`

// ResolveNamespace looks up a namespace by its unique name.
func (s *Store) ResolveNamespace(ctx context.Context, name string) (*entity.Namespace, error) {
	var row namespaceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+namespaceCols+` FROM namespaces WHERE name = $1`, name)
	if err != nil {
		return nil, notFound(err, "namespace "+name)
	}
	return row.toEntity()
}

// CreateNamespace inserts a namespace. Names are globally unique and
// immutable; an existing name yields Conflict.
func (s *Store) CreateNamespace(ctx context.Context, ns *entity.Namespace) error {
	limits, err := marshalJSON(ns.Limits)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO namespaces (name, uuid, owner_id, description, limits)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING id`,
		ns.Name, ns.UUID, ns.OwnerID, ns.Description, limits).Scan(&ns.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// ON CONFLICT DO NOTHING returned no row: the name is taken.
			return werr.New(werr.KindConflict, "namespace "+ns.Name+" already exists")
		}
		return errors.Wrap(err, "insert namespace")
	}
	return nil
}

// ListNamespaces returns the namespaces owned by a subject, name
// ascending.
func (s *Store) ListNamespaces(ctx context.Context, ownerID int64) ([]*entity.Namespace, error) {
	var rows []namespaceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+namespaceCols+` FROM namespaces WHERE owner_id = $1 ORDER BY name ASC`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list namespaces")
	}
	out := make([]*entity.Namespace, 0, len(rows))
	for _, r := range rows {
		ns, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

// DeleteNamespace removes a namespace; the schema cascades to all
// contained entities and activations.
func (s *Store) DeleteNamespace(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE name = $1`, name)
	if err != nil {
		return errors.Wrap(err, "delete namespace")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return werr.New(werr.KindNotFound, "namespace "+name+" not found")
	}
	return nil
}
