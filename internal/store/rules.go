package store

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

type ruleRow struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	TriggerID   int64  `db:"trigger_id"`
	ActionID    int64  `db:"action_id"`
	Name        string `db:"name"`
	Version     string `db:"version"`
	Status      string `db:"status"`
	TriggerName string `db:"trigger_name"`
	ActionName  string `db:"action_name"`
}

func (r ruleRow) toEntity() *entity.Rule {
	return &entity.Rule{
		ID:          r.ID,
		NamespaceID: r.NamespaceID,
		TriggerID:   r.TriggerID,
		ActionID:    r.ActionID,
		Name:        r.Name,
		Version:     r.Version,
		Status:      r.Status,
		TriggerName: r.TriggerName,
		ActionName:  r.ActionName,
	}
}

// ruleCols joins the referenced trigger and action names so a rule
// document can name both ends without extra lookups.
const ruleCols = `r.id, r.namespace_id, r.trigger_id, r.action_id, r.name, r.version, r.status,
	t.name AS trigger_name, a.name AS action_name`

const ruleJoin = `FROM rules r
	JOIN triggers t ON t.id = r.trigger_id
	JOIN actions a ON a.id = r.action_id`

// GetRule resolves a rule by namespace and name.
func (s *Store) GetRule(ctx context.Context, namespace, name string) (*entity.Rule, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var row ruleRow
	err = s.db.GetContext(ctx, &row,
		`SELECT `+ruleCols+` `+ruleJoin+` WHERE r.namespace_id = $1 AND r.name = $2`,
		ns.ID, name)
	if err != nil {
		return nil, notFound(err, "rule "+name)
	}
	return row.toEntity(), nil
}

// UpsertRule creates or overwrites a rule binding a trigger to an
// action. Both endpoints must already exist in the same namespace.
func (s *Store) UpsertRule(ctx context.Context, namespace string, rule *entity.Rule, triggerName, actionPath string, overwrite bool) error {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	trigger, err := s.getTrigger(ctx, ns.ID, triggerName)
	if err != nil {
		return err
	}
	action, err := s.ResolveAction(ctx, namespace, actionPath)
	if err != nil {
		return err
	}

	existing, err := s.GetRule(ctx, namespace, rule.Name)
	switch {
	case err == nil && !overwrite:
		return werr.New(werr.KindConflict, "rule "+rule.Name+" already exists")
	case err != nil && !werr.IsKind(err, werr.KindNotFound):
		return err
	}

	if rule.Status == "" {
		rule.Status = entity.RuleActive
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE rules
			 SET trigger_id = $1, action_id = $2, version = $3, status = $4, updated_at = now()
			 WHERE id = $5`,
			trigger.ID, action.ID, rule.Version, rule.Status, existing.ID)
		if err != nil {
			return errors.Wrap(err, "update rule")
		}
		rule.ID = existing.ID
	} else {
		err = s.db.QueryRowxContext(ctx,
			`INSERT INTO rules (namespace_id, trigger_id, action_id, name, version, status)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			ns.ID, trigger.ID, action.ID, rule.Name, rule.Version, rule.Status).Scan(&rule.ID)
		if err != nil {
			return errors.Wrap(err, "insert rule")
		}
	}
	rule.NamespaceID = ns.ID
	rule.TriggerID = trigger.ID
	rule.ActionID = action.ID
	rule.TriggerName = trigger.Name
	rule.ActionName = action.Name
	return nil
}

// SetRuleStatus flips a rule between active and inactive.
func (s *Store) SetRuleStatus(ctx context.Context, namespace, name, status string) (*entity.Rule, error) {
	if status != entity.RuleActive && status != entity.RuleInactive {
		return nil, werr.Validation("status", "must be active or inactive")
	}
	rule, err := s.GetRule(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rules SET status = $1, updated_at = now() WHERE id = $2`,
		status, rule.ID); err != nil {
		return nil, errors.Wrap(err, "update rule status")
	}
	rule.Status = status
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, namespace, name string) (*entity.Rule, error) {
	rule, err := s.GetRule(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, rule.ID); err != nil {
		return nil, errors.Wrap(err, "delete rule")
	}
	return rule, nil
}

// ListRules returns a namespace's rules, name ascending.
func (s *Store) ListRules(ctx context.Context, namespace string, skip, limit int) ([]*entity.Rule, error) {
	ns, err := s.ResolveNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	var rows []ruleRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+ruleCols+` `+ruleJoin+` WHERE r.namespace_id = $1
		 ORDER BY r.name ASC OFFSET $2 LIMIT $3`,
		ns.ID, skip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	out := make([]*entity.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}

// ActiveRulesForTrigger returns the active rules bound to a trigger,
// name ascending. Fan-out order follows this ordering.
func (s *Store) ActiveRulesForTrigger(ctx context.Context, triggerID int64) ([]*entity.Rule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+ruleCols+` `+ruleJoin+` WHERE r.trigger_id = $1 AND r.status = $2
		 ORDER BY r.name ASC`,
		triggerID, entity.RuleActive)
	if err != nil {
		return nil, errors.Wrap(err, "list active rules")
	}
	out := make([]*entity.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out, nil
}
