package store

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

type actionRow struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	PackageID   *int64 `db:"package_id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Publish     bool   `db:"publish"`
	Exec        []byte `db:"exec"`
	Limits      []byte `db:"limits"`
	Parameters  []byte `db:"parameters"`
	Annotations []byte `db:"annotations"`
	CodeHash    string `db:"code_hash"`

	// Only populated by queries that join packages.
	PackageName string `db:"package_name"`
}

func (r actionRow) toEntity() (*entity.Action, error) {
	a := &entity.Action{
		ID:          r.ID,
		NamespaceID: r.NamespaceID,
		PackageID:   r.PackageID,
		Name:        r.Name,
		Version:     r.Version,
		Publish:     r.Publish,
		Parameters:  entity.Params{},
		Annotations: entity.Params{},
		CodeHash:    r.CodeHash,
		PackageName: r.PackageName,
	}
	if err := unmarshalJSON(r.Exec, &a.Exec); err != nil {
		return nil, errors.Wrap(err, "decode action exec")
	}
	if err := unmarshalJSON(r.Limits, &a.Limits); err != nil {
		return nil, errors.Wrap(err, "decode action limits")
	}
	if err := unmarshalJSON(r.Parameters, &a.Parameters); err != nil {
		return nil, errors.Wrap(err, "decode action parameters")
	}
	if err := unmarshalJSON(r.Annotations, &a.Annotations); err != nil {
		return nil, errors.Wrap(err, "decode action annotations")
	}
	return a, nil
}

const actionCols = `id, namespace_id, package_id, name, version, publish, exec, limits, parameters, annotations, code_hash`

func (s *Store) getAction(ctx context.Context, namespaceID int64, packageID *int64, name string) (*entity.Action, error) {
	var row actionRow
	var err error
	if packageID != nil {
		err = s.db.GetContext(ctx, &row,
			`SELECT `+actionCols+` FROM actions WHERE namespace_id = $1 AND package_id = $2 AND name = $3`,
			namespaceID, *packageID, name)
	} else {
		err = s.db.GetContext(ctx, &row,
			`SELECT `+actionCols+` FROM actions WHERE namespace_id = $1 AND package_id IS NULL AND name = $2`,
			namespaceID, name)
	}
	if err != nil {
		return nil, notFound(err, "action "+name)
	}
	return row.toEntity()
}

// ResolveAction resolves an action by namespace and path ("name" or
// "package/name"). The returned entity carries the namespace and
// package names for FQN construction, with package default parameters
// folded in under the action's own defaults.
func (s *Store) ResolveAction(ctx context.Context, namespace, path string) (*entity.Action, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	pkgName, name, err := entity.SplitPath(path)
	if err != nil {
		return nil, err
	}

	var packageID *int64
	var pkg *entity.Package
	if pkgName != nil {
		pkg, err = s.ResolvePackage(ctx, namespace, *pkgName)
		if err != nil {
			return nil, err
		}
		packageID = &pkg.ID
	}

	action, err := s.getAction(ctx, ns.ID, packageID, name)
	if err != nil {
		return nil, err
	}
	action.Namespace = ns.Name
	if pkg != nil {
		action.PackageName = pkg.Name
		action.Parameters = entity.Merge(pkg.Parameters, action.Parameters)
	}
	return action, nil
}

// UpsertAction creates or overwrites an action in a namespace,
// optionally inside a package.
func (s *Store) UpsertAction(ctx context.Context, namespace string, pkgName *string, action *entity.Action, overwrite bool) error {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	var packageID *int64
	if pkgName != nil {
		pkg, err := s.getPackageByName(ctx, ns.ID, *pkgName)
		if err != nil {
			return err
		}
		packageID = &pkg.ID
	}

	existing, err := s.getAction(ctx, ns.ID, packageID, action.Name)
	switch {
	case err == nil && !overwrite:
		return werr.New(werr.KindConflict, "action "+action.Name+" already exists")
	case err != nil && !werr.IsKind(err, werr.KindNotFound):
		return err
	}

	exec, err := marshalJSON(action.Exec)
	if err != nil {
		return err
	}
	limits, err := marshalJSON(action.Limits)
	if err != nil {
		return err
	}
	parameters, err := marshalJSON(action.Parameters)
	if err != nil {
		return err
	}
	annotations, err := marshalJSON(action.Annotations)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE actions
			 SET version = $1, publish = $2, exec = $3, limits = $4,
			     parameters = $5, annotations = $6, code_hash = $7, updated_at = now()
			 WHERE id = $8`,
			action.Version, action.Publish, exec, limits,
			parameters, annotations, action.CodeHash, existing.ID)
		if err != nil {
			return errors.Wrap(err, "update action")
		}
		action.ID = existing.ID
		action.NamespaceID = ns.ID
		return nil
	}

	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO actions (namespace_id, package_id, name, version, publish, exec, limits, parameters, annotations, code_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		ns.ID, packageID, action.Name, action.Version, action.Publish,
		exec, limits, parameters, annotations, action.CodeHash).Scan(&action.ID)
	if err != nil {
		return errors.Wrap(err, "insert action")
	}
	action.NamespaceID = ns.ID
	return nil
}

// getPackageByName is getPackage without the binding resolution; used
// where only the row identity matters.
func (s *Store) getPackageByName(ctx context.Context, namespaceID int64, name string) (*entity.Package, error) {
	return s.getPackage(ctx, namespaceID, name)
}

// DeleteAction removes an action; rules referencing it cascade away in
// the schema.
func (s *Store) DeleteAction(ctx context.Context, namespace, path string) (*entity.Action, error) {
	action, err := s.ResolveAction(ctx, namespace, path)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = $1`, action.ID); err != nil {
		return nil, errors.Wrap(err, "delete action")
	}
	return action, nil
}

// ListActions returns a namespace's actions, name ascending.
func (s *Store) ListActions(ctx context.Context, namespace string, skip, limit int) ([]*entity.Action, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var rows []actionRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+actionCols+` FROM actions WHERE namespace_id = $1
		 ORDER BY name ASC OFFSET $2 LIMIT $3`,
		ns.ID, skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list actions")
	}
	out := make([]*entity.Action, 0, len(rows))
	for _, r := range rows {
		a, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		a.Namespace = ns.Name
		out = append(out, a)
	}
	return out, nil
}

// GetActionByID loads an action row by primary key; used when walking
// rule references. The package name is joined in so callers can rebuild
// the invocation path for packaged actions.
func (s *Store) GetActionByID(ctx context.Context, id int64) (*entity.Action, error) {
	var row actionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT a.id, a.namespace_id, a.package_id, a.name, a.version, a.publish,
		        a.exec, a.limits, a.parameters, a.annotations, a.code_hash,
		        COALESCE(p.name, '') AS package_name
		 FROM actions a LEFT JOIN packages p ON p.id = a.package_id
		 WHERE a.id = $1`, id)
	if err != nil {
		return nil, notFound(err, "action")
	}
	return row.toEntity()
}
