package store

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
)

// MaxActivationPageSize caps activation listings.
const MaxActivationPageSize = 200

type activationRow struct {
	ActivationID string `db:"activation_id"`
	NamespaceID  int64  `db:"namespace_id"`
	Namespace    string `db:"namespace"`
	Name         string `db:"name"`
	Version      string `db:"version"`
	Subject      string `db:"subject"`
	Start        int64  `db:"start"`
	End          *int64 `db:"end"`
	Duration     *int64 `db:"duration"`
	StatusCode   int    `db:"status_code"`
	Response     []byte `db:"response"`
	Logs         []byte `db:"logs"`
	Annotations  []byte `db:"annotations"`
	Cause        string `db:"cause"`
	Publish      bool   `db:"publish"`
}

func (r activationRow) toEntity() (*entity.Activation, error) {
	a := &entity.Activation{
		ActivationID: r.ActivationID,
		NamespaceID:  r.NamespaceID,
		Namespace:    r.Namespace,
		Name:         r.Name,
		Version:      r.Version,
		Subject:      r.Subject,
		Start:        r.Start,
		End:          r.End,
		Duration:     r.Duration,
		StatusCode:   r.StatusCode,
		Logs:         []string{},
		Annotations:  entity.Params{},
		Cause:        r.Cause,
		Publish:      r.Publish,
	}
	if err := unmarshalJSON(r.Response, &a.Response); err != nil {
		return nil, errors.Wrap(err, "decode activation response")
	}
	if err := unmarshalJSON(r.Logs, &a.Logs); err != nil {
		return nil, errors.Wrap(err, "decode activation logs")
	}
	if err := unmarshalJSON(r.Annotations, &a.Annotations); err != nil {
		return nil, errors.Wrap(err, "decode activation annotations")
	}
	return a, nil
}

const activationCols = `a.activation_id, a.namespace_id, n.name AS namespace, a.name, a.version,
	a.subject, a.start, a."end", a.duration, a.status_code, a.response, a.logs,
	a.annotations, a.cause, a.publish`

const activationJoin = `FROM activations a JOIN namespaces n ON n.id = a.namespace_id`

// CreateActivation inserts a pending activation record. The record is
// durable before the corresponding invocation is published, so a crash
// between the two leaves a visible pending activation rather than an
// orphaned message.
func (s *Store) CreateActivation(ctx context.Context, act *entity.Activation) error {
	response, err := marshalJSON(act.Response)
	if err != nil {
		return err
	}
	logs, err := marshalJSON(act.Logs)
	if err != nil {
		return err
	}
	if act.Logs == nil {
		logs = []byte("[]")
	}
	annotations, err := marshalJSON(act.Annotations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activations (activation_id, namespace_id, name, version, subject, start,
		                          status_code, response, logs, annotations, cause, publish)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		act.ActivationID, act.NamespaceID, act.Name, act.Version, act.Subject, act.Start,
		act.StatusCode, response, logs, annotations, act.Cause, act.Publish)
	if err != nil {
		return errors.Wrap(err, "insert activation")
	}
	return nil
}

// FinalizeActivation records the outcome of a pending activation,
// merging any result annotations into the stored bag. Finalization is
// idempotent: a record that already has an end time is left untouched
// and the call reports false.
func (s *Store) FinalizeActivation(ctx context.Context, activationID string, end int64, statusCode int, response *entity.Response, logs []string, annotations entity.Params) (bool, error) {
	if response == nil {
		response = &entity.Response{}
	}
	responseRaw, err := marshalJSON(response)
	if err != nil {
		return false, err
	}
	if logs == nil {
		logs = []string{}
	}
	logsRaw, err := marshalJSON(logs)
	if err != nil {
		return false, err
	}
	query := `UPDATE activations
		 SET "end" = $1, duration = $1 - start, status_code = $2, response = $3, logs = $4
		 WHERE activation_id = $5 AND "end" IS NULL`
	args := []any{end, statusCode, responseRaw, logsRaw, activationID}
	if len(annotations) > 0 {
		raw, err := marshalJSON(annotations)
		if err != nil {
			return false, err
		}
		query = `UPDATE activations
			 SET "end" = $1, duration = $1 - start, status_code = $2, response = $3, logs = $4,
			     annotations = annotations || $6::jsonb
			 WHERE activation_id = $5 AND "end" IS NULL`
		args = append(args, raw)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "finalize activation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "finalize activation")
	}
	return n > 0, nil
}

// GetActivation loads an activation by its ID within a namespace.
func (s *Store) GetActivation(ctx context.Context, namespace, activationID string) (*entity.Activation, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var row activationRow
	err = s.db.GetContext(ctx, &row,
		`SELECT `+activationCols+` `+activationJoin+`
		 WHERE a.activation_id = $1 AND a.namespace_id = $2`,
		activationID, ns.ID)
	if err != nil {
		return nil, notFound(err, "activation "+activationID)
	}
	return row.toEntity()
}

// ActivationFilter narrows ListActivations. Zero values mean "no
// constraint"; Limit is clamped to MaxActivationPageSize.
type ActivationFilter struct {
	Name  string
	Since int64
	Upto  int64
	Skip  int
	Limit int
}

// ListActivations returns a namespace's activations newest first.
func (s *Store) ListActivations(ctx context.Context, namespace string, f ActivationFilter) ([]*entity.Activation, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > MaxActivationPageSize {
		limit = MaxActivationPageSize
	}

	query := `SELECT ` + activationCols + ` ` + activationJoin + ` WHERE a.namespace_id = $1`
	args := []any{ns.ID}
	if f.Name != "" {
		args = append(args, f.Name)
		query += ` AND a.name = $` + strconv.Itoa(len(args))
	}
	if f.Since > 0 {
		args = append(args, f.Since)
		query += ` AND a.start >= $` + strconv.Itoa(len(args))
	}
	if f.Upto > 0 {
		args = append(args, f.Upto)
		query += ` AND a.start <= $` + strconv.Itoa(len(args))
	}
	args = append(args, f.Skip, limit)
	query += ` ORDER BY a.start DESC OFFSET $` + strconv.Itoa(len(args)-1) + ` LIMIT $` + strconv.Itoa(len(args))

	var rows []activationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list activations")
	}
	out := make([]*entity.Activation, 0, len(rows))
	for _, r := range rows {
		a, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
