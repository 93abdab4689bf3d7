package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sergeybar/ratesentry/internal/model"
)

const alertRuleColumns = `id, name, policy_id, threshold_percentage, window_seconds, cooldown_seconds, enabled, last_triggered_at, created_at`

// AlertRuleStore implements alerting.RuleRepo and the admin CRUD surface.
type AlertRuleStore struct {
	pool *pgxpool.Pool
}

func NewAlertRuleStore(pool *pgxpool.Pool) *AlertRuleStore {
	return &AlertRuleStore{pool: pool}
}

func scanAlertRuleRow(row pgx.Row) (model.AlertRule, error) {
	var r model.AlertRule
	err := row.Scan(&r.ID, &r.Name, &r.PolicyID, &r.ThresholdPercentage, &r.WindowSeconds,
		&r.CooldownSeconds, &r.Enabled, &r.LastTriggeredAt, &r.CreatedAt)
	return r, err
}

func (s *AlertRuleStore) EnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE enabled ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled alert rules: %w", err)
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		r, err := scanAlertRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetLastTriggeredAt applies a compare-and-swap against last_triggered_at so
// two concurrent evaluator runs can't both decide they won the race to fire
// the same rule: only the caller whose expected value still matches the row
// on disk gets to advance it to now, matching alerting.RuleRepo's contract.
func (s *AlertRuleStore) SetLastTriggeredAt(ctx context.Context, ruleID uuid.UUID, expected *time.Time, now time.Time) (bool, error) {
	var tag pgx.CommandTag
	var err error
	if expected == nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE alert_rules SET last_triggered_at = $1 WHERE id = $2 AND last_triggered_at IS NULL`,
			now, ruleID)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE alert_rules SET last_triggered_at = $1 WHERE id = $2 AND last_triggered_at = $3`,
			now, ruleID, *expected)
	}
	if err != nil {
		return false, fmt.Errorf("setting last triggered at for rule %s: %w", ruleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AlertRuleStore) List(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing alert rules: %w", err)
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		r, err := scanAlertRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AlertRuleStore) Create(ctx context.Context, r *model.AlertRule) (*model.AlertRule, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO alert_rules (name, policy_id, threshold_percentage, window_seconds, cooldown_seconds, enabled)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+alertRuleColumns,
		r.Name, r.PolicyID, r.ThresholdPercentage, r.WindowSeconds, r.CooldownSeconds, r.Enabled,
	)
	created, err := scanAlertRuleRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating alert rule: %w", err)
	}
	return &created, nil
}

func (s *AlertRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting alert rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
