package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sergeybar/ratesentry/internal/model"
)

const policyRuleColumns = `id, policy_id, resource_pattern, http_methods, priority, enabled, created_at`

// PolicyRuleStore implements policy.PolicyRuleRepo and the admin CRUD surface.
type PolicyRuleStore struct {
	pool *pgxpool.Pool
}

func NewPolicyRuleStore(pool *pgxpool.Pool) *PolicyRuleStore {
	return &PolicyRuleStore{pool: pool}
}

func scanPolicyRuleRow(row pgx.Row) (model.PolicyRule, error) {
	var r model.PolicyRule
	err := row.Scan(&r.ID, &r.PolicyID, &r.ResourcePattern, &r.HTTPMethods, &r.Priority, &r.Enabled, &r.CreatedAt)
	return r, err
}

// EnabledRulesOrderedByPriority matches the policy_rules_by_priority index:
// descending priority, ties broken by ascending created_at.
func (s *PolicyRuleStore) EnabledRulesOrderedByPriority(ctx context.Context) ([]model.PolicyRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyRuleColumns+` FROM policy_rules WHERE enabled ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled policy rules: %w", err)
	}
	defer rows.Close()

	var out []model.PolicyRule
	for rows.Next() {
		r, err := scanPolicyRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PolicyRuleStore) List(ctx context.Context, policyID uuid.UUID) ([]model.PolicyRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyRuleColumns+` FROM policy_rules WHERE policy_id = $1 ORDER BY priority DESC, created_at ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing policy rules for %s: %w", policyID, err)
	}
	defer rows.Close()

	var out []model.PolicyRule
	for rows.Next() {
		r, err := scanPolicyRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PolicyRuleStore) Create(ctx context.Context, r *model.PolicyRule) (*model.PolicyRule, error) {
	methods := r.HTTPMethods
	if methods == nil {
		methods = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO policy_rules (policy_id, resource_pattern, http_methods, priority, enabled)
		 VALUES ($1,$2,$3,$4,$5) RETURNING `+policyRuleColumns,
		r.PolicyID, r.ResourcePattern, methods, r.Priority, r.Enabled,
	)
	created, err := scanPolicyRuleRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating policy rule: %w", err)
	}
	return &created, nil
}

func (s *PolicyRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policy_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting policy rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
