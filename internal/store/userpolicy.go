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

const userPolicyColumns = `id, user_id, tenant_id, policy_id, enabled, created_at`

type UserPolicyStore struct {
	pool *pgxpool.Pool
}

func NewUserPolicyStore(pool *pgxpool.Pool) *UserPolicyStore {
	return &UserPolicyStore{pool: pool}
}

func scanUserPolicyRow(row pgx.Row) (*model.UserPolicy, error) {
	var up model.UserPolicy
	err := row.Scan(&up.ID, &up.UserID, &up.TenantID, &up.PolicyID, &up.Enabled, &up.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (s *UserPolicyStore) GetByUserAndTenant(ctx context.Context, userID string, tenantID uuid.UUID) (*model.UserPolicy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userPolicyColumns+` FROM user_policies WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	up, err := scanUserPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting user policy for %s/%s: %w", userID, tenantID, err)
	}
	return up, nil
}

func (s *UserPolicyStore) Create(ctx context.Context, up *model.UserPolicy) (*model.UserPolicy, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO user_policies (user_id, tenant_id, policy_id, enabled) VALUES ($1,$2,$3,$4) RETURNING `+userPolicyColumns,
		up.UserID, up.TenantID, up.PolicyID, up.Enabled,
	)
	created, err := scanUserPolicyRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating user policy: %w", err)
	}
	return created, nil
}

func (s *UserPolicyStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user policy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
