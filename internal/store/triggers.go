package store

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

type triggerRow struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Publish     bool   `db:"publish"`
	Parameters  []byte `db:"parameters"`
	Annotations []byte `db:"annotations"`
	Feed        string `db:"feed"`
}

func (r triggerRow) toEntity() (*entity.Trigger, error) {
	t := &entity.Trigger{
		ID:          r.ID,
		NamespaceID: r.NamespaceID,
		Name:        r.Name,
		Version:     r.Version,
		Publish:     r.Publish,
		Parameters:  entity.Params{},
		Annotations: entity.Params{},
		Feed:        r.Feed,
	}
	if err := unmarshalJSON(r.Parameters, &t.Parameters); err != nil {
		return nil, errors.Wrap(err, "decode trigger parameters")
	}
	if err := unmarshalJSON(r.Annotations, &t.Annotations); err != nil {
		return nil, errors.Wrap(err, "decode trigger annotations")
	}
	return t, nil
}

const triggerCols = `id, namespace_id, name, version, publish, parameters, annotations, feed`

// GetTrigger resolves a trigger by namespace and name.
func (s *Store) GetTrigger(ctx context.Context, namespace, name string) (*entity.Trigger, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return s.getTrigger(ctx, ns.ID, name)
}

func (s *Store) getTrigger(ctx context.Context, namespaceID int64, name string) (*entity.Trigger, error) {
	var row triggerRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+triggerCols+` FROM triggers WHERE namespace_id = $1 AND name = $2`,
		namespaceID, name)
	if err != nil {
		return nil, notFound(err, "trigger "+name)
	}
	return row.toEntity()
}

// UpsertTrigger creates or overwrites a trigger.
func (s *Store) UpsertTrigger(ctx context.Context, namespace string, trigger *entity.Trigger, overwrite bool) error {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return err
	}

	existing, err := s.getTrigger(ctx, ns.ID, trigger.Name)
	switch {
	case err == nil && !overwrite:
		return werr.New(werr.KindConflict, "trigger "+trigger.Name+" already exists")
	case err != nil && !werr.IsKind(err, werr.KindNotFound):
		return err
	}

	parameters, err := marshalJSON(trigger.Parameters)
	if err != nil {
		return err
	}
	annotations, err := marshalJSON(trigger.Annotations)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE triggers
			 SET version = $1, publish = $2, parameters = $3, annotations = $4, feed = $5, updated_at = now()
			 WHERE id = $6`,
			trigger.Version, trigger.Publish, parameters, annotations, trigger.Feed, existing.ID)
		if err != nil {
			return errors.Wrap(err, "update trigger")
		}
		trigger.ID = existing.ID
		trigger.NamespaceID = ns.ID
		return nil
	}

	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO triggers (namespace_id, name, version, publish, parameters, annotations, feed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ns.ID, trigger.Name, trigger.Version, trigger.Publish, parameters, annotations, trigger.Feed).Scan(&trigger.ID)
	if err != nil {
		return errors.Wrap(err, "insert trigger")
	}
	trigger.NamespaceID = ns.ID
	return nil
}

// DeleteTrigger removes a trigger; rules referencing it cascade away.
func (s *Store) DeleteTrigger(ctx context.Context, namespace, name string) (*entity.Trigger, error) {
	trigger, err := s.GetTrigger(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = $1`, trigger.ID); err != nil {
		return nil, errors.Wrap(err, "delete trigger")
	}
	return trigger, nil
}

// ListTriggers returns a namespace's triggers, name ascending.
func (s *Store) ListTriggers(ctx context.Context, namespace string, skip, limit int) ([]*entity.Trigger, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var rows []triggerRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+triggerCols+` FROM triggers WHERE namespace_id = $1
		 ORDER BY name ASC OFFSET $2 LIMIT $3`,
		ns.ID, skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list triggers")
	}
	out := make([]*entity.Trigger, 0, len(rows))
	for _, r := range rows {
		t, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
