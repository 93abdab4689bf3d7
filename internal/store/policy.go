package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sergeybar/ratesentry/internal/model"
)

const policyColumns = `id, name, tenant_id, scope, algorithm, max_requests, window_seconds, burst_capacity, refill_rate, fail_mode, enabled, is_default, created_at`

// PolicyStore implements policy.PolicyRepo and the admin CRUD surface for
// Policy rows.
type PolicyStore struct {
	pool *pgxpool.Pool
}

func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

func scanPolicyRow(row pgx.Row) (*model.Policy, error) {
	var p model.Policy
	err := row.Scan(&p.ID, &p.Name, &p.TenantID, &p.Scope, &p.Algorithm, &p.MaxRequests, &p.WindowSeconds,
		&p.BurstCapacity, &p.RefillRate, &p.FailMode, &p.Enabled, &p.IsDefault, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPolicyRows(rows pgx.Rows) ([]model.Policy, error) {
	defer rows.Close()
	var out []model.Policy
	for rows.Next() {
		var p model.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.TenantID, &p.Scope, &p.Algorithm, &p.MaxRequests, &p.WindowSeconds,
			&p.BurstCapacity, &p.RefillRate, &p.FailMode, &p.Enabled, &p.IsDefault, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy rows: %w", err)
	}
	return out, nil
}

func (s *PolicyStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	p, err := scanPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting policy %s: %w", id, err)
	}
	return p, nil
}

func (s *PolicyStore) TenantDefault(ctx context.Context, tenantID uuid.UUID) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE tenant_id = $1 AND scope = 'TENANT' AND is_default AND enabled LIMIT 1`,
		tenantID)
	p, err := scanPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting tenant default policy for %s: %w", tenantID, err)
	}
	return p, nil
}

func (s *PolicyStore) GlobalDefault(ctx context.Context) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE scope = 'GLOBAL' AND is_default AND enabled LIMIT 1`)
	p, err := scanPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting global default policy: %w", err)
	}
	return p, nil
}

// PolicyName implements alerting.PolicyNameResolver.
func (s *PolicyStore) PolicyName(ctx context.Context, policyID uuid.UUID) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM policies WHERE id = $1`, policyID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("getting policy name for %s: %w", policyID, err)
	}
	return name, nil
}

func (s *PolicyStore) List(ctx context.Context, tenantID *uuid.UUID) ([]model.Policy, error) {
	var rows pgx.Rows
	var err error
	if tenantID != nil {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE tenant_id = $1 ORDER BY created_at DESC`, *tenantID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	return scanPolicyRows(rows)
}

func (s *PolicyStore) Create(ctx context.Context, p *model.Policy) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO policies (name, tenant_id, scope, algorithm, max_requests, window_seconds, burst_capacity, refill_rate, fail_mode, enabled, is_default)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING `+policyColumns,
		p.Name, p.TenantID, p.Scope, p.Algorithm, p.MaxRequests, p.WindowSeconds, p.BurstCapacity, p.RefillRate, p.FailMode, p.Enabled, p.IsDefault,
	)
	created, err := scanPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	return created, nil
}

func (s *PolicyStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting policy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
