package store

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

// maxBindingDepth bounds binding traversal so cyclic bindings fail the
// read instead of looping.
const maxBindingDepth = 8

type packageRow struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Publish     bool   `db:"publish"`
	Parameters  []byte `db:"parameters"`
	Annotations []byte `db:"annotations"`
	Binding     []byte `db:"binding"`
}

func (r packageRow) toEntity() (*entity.Package, error) {
	p := &entity.Package{
		ID:          r.ID,
		NamespaceID: r.NamespaceID,
		Name:        r.Name,
		Version:     r.Version,
		Publish:     r.Publish,
		Parameters:  entity.Params{},
		Annotations: entity.Params{},
	}
	if err := unmarshalJSON(r.Parameters, &p.Parameters); err != nil {
		return nil, errors.Wrap(err, "decode package parameters")
	}
	if err := unmarshalJSON(r.Annotations, &p.Annotations); err != nil {
		return nil, errors.Wrap(err, "decode package annotations")
	}
	if len(r.Binding) > 0 && string(r.Binding) != "null" {
		var b entity.Binding
		if err := unmarshalJSON(r.Binding, &b); err != nil {
			return nil, errors.Wrap(err, "decode package binding")
		}
		p.Binding = &b
	}
	return p, nil
}

const packageCols = `id, namespace_id, name, version, publish, parameters, annotations, binding`

func (s *Store) getPackage(ctx context.Context, namespaceID int64, name string) (*entity.Package, error) {
	var row packageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+packageCols+` FROM packages WHERE namespace_id = $1 AND name = $2`,
		namespaceID, name)
	if err != nil {
		return nil, notFound(err, "package "+name)
	}
	return row.toEntity()
}

// ResolvePackage reads a package and lazily folds in parameters
// inherited through its binding chain. Bound parameters are defaults:
// the binding package's own values win.
func (s *Store) ResolvePackage(ctx context.Context, namespace, name string) (*entity.Package, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	pkg, err := s.getPackage(ctx, ns.ID, name)
	if err != nil {
		return nil, err
	}

	resolved := pkg
	for depth := 0; resolved.Binding != nil; depth++ {
		if depth >= maxBindingDepth {
			return nil, werr.New(werr.KindValidation, "package binding chain exceeds depth 8 (cycle?)")
		}
		targetNS, err := s.ResolveNamespace(ctx, resolved.Binding.Namespace)
		if err != nil {
			return nil, err
		}
		target, err := s.getPackage(ctx, targetNS.ID, resolved.Binding.Name)
		if err != nil {
			return nil, err
		}
		pkg.Parameters = entity.Merge(target.Parameters, pkg.Parameters)
		resolved = target
	}
	return pkg, nil
}

// UpsertPackage creates or overwrites a package. A binding, when set,
// must resolve at creation time.
func (s *Store) UpsertPackage(ctx context.Context, namespace string, pkg *entity.Package, overwrite bool) error {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if pkg.Binding != nil {
		bindNS, err := s.ResolveNamespace(ctx, pkg.Binding.Namespace)
		if err != nil {
			return werr.New(werr.KindValidation, "binding target namespace not found: "+pkg.Binding.Namespace)
		}
		if _, err := s.getPackage(ctx, bindNS.ID, pkg.Binding.Name); err != nil {
			return werr.New(werr.KindValidation, "binding target package not found: "+pkg.Binding.Name)
		}
	}

	existing, err := s.getPackage(ctx, ns.ID, pkg.Name)
	switch {
	case err == nil && !overwrite:
		return werr.New(werr.KindConflict, "package "+pkg.Name+" already exists")
	case err != nil && !werr.IsKind(err, werr.KindNotFound):
		return err
	}

	parameters, err := marshalJSON(pkg.Parameters)
	if err != nil {
		return err
	}
	annotations, err := marshalJSON(pkg.Annotations)
	if err != nil {
		return err
	}
	var binding any
	if pkg.Binding != nil {
		binding, err = marshalJSON(pkg.Binding)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE packages
			 SET version = $1, publish = $2, parameters = $3, annotations = $4, binding = $5, updated_at = now()
			 WHERE id = $6`,
			pkg.Version, pkg.Publish, parameters, annotations, binding, existing.ID)
		if err != nil {
			return errors.Wrap(err, "update package")
		}
		pkg.ID = existing.ID
		pkg.NamespaceID = ns.ID
		return nil
	}

	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO packages (namespace_id, name, version, publish, parameters, annotations, binding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ns.ID, pkg.Name, pkg.Version, pkg.Publish, parameters, annotations, binding).Scan(&pkg.ID)
	if err != nil {
		return errors.Wrap(err, "insert package")
	}
	pkg.NamespaceID = ns.ID
	return nil
}

// DeletePackage removes a package. Without force a non-empty package is
// a Conflict; with force the contained actions are deleted first.
func (s *Store) DeletePackage(ctx context.Context, namespace, name string, force bool) error {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	pkg, err := s.getPackage(ctx, ns.ID, name)
	if err != nil {
		return err
	}

	var contained int
	if err := s.db.GetContext(ctx, &contained,
		`SELECT count(*) FROM actions WHERE package_id = $1`, pkg.ID); err != nil {
		return errors.Wrap(err, "count package actions")
	}
	if contained > 0 {
		if !force {
			return werr.New(werr.KindConflict, "package "+name+" is not empty; use force")
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM actions WHERE package_id = $1`, pkg.ID); err != nil {
			return errors.Wrap(err, "delete package actions")
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE id = $1`, pkg.ID); err != nil {
		return errors.Wrap(err, "delete package")
	}
	return nil
}

// ListPackages returns a namespace's packages, name ascending.
func (s *Store) ListPackages(ctx context.Context, namespace string, skip, limit int) ([]*entity.Package, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var rows []packageRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+packageCols+` FROM packages WHERE namespace_id = $1
		 ORDER BY name ASC OFFSET $2 LIMIT $3`,
		ns.ID, skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list packages")
	}
	out := make([]*entity.Package, 0, len(rows))
	for _, r := range rows {
		p, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
