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

const tenantColumns = `id, name, tier, enabled, created_at`

type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

func scanTenantRow(row pgx.Row) (*model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Tier, &t.Enabled, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenantRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting tenant %s: %w", id, err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Tier, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TenantStore) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, tier, enabled) VALUES ($1,$2,$3) RETURNING `+tenantColumns,
		t.Name, t.Tier, t.Enabled,
	)
	created, err := scanTenantRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	return created, nil
}

func (s *TenantStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
