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

const apiKeyColumns = `id, key_hash, key_prefix, tenant_id, policy_id, enabled, expires_at, created_at`

// ApiKeyStore implements policy.ApiKeyRepo and the admin CRUD surface.
type ApiKeyStore struct {
	pool *pgxpool.Pool
}

func NewApiKeyStore(pool *pgxpool.Pool) *ApiKeyStore {
	return &ApiKeyStore{pool: pool}
}

func scanApiKeyRow(row pgx.Row) (*model.ApiKey, error) {
	var k model.ApiKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.TenantID, &k.PolicyID, &k.Enabled, &k.ExpiresAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *ApiKeyStore) GetByHash(ctx context.Context, keyHash string) (*model.ApiKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	k, err := scanApiKeyRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting api key by hash: %w", err)
	}
	return k, nil
}

func (s *ApiKeyStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.ApiKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []model.ApiKey
	for rows.Next() {
		var k model.ApiKey
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.TenantID, &k.PolicyID, &k.Enabled, &k.ExpiresAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *ApiKeyStore) Create(ctx context.Context, k *model.ApiKey) (*model.ApiKey, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO api_keys (key_hash, key_prefix, tenant_id, policy_id, enabled, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+apiKeyColumns,
		k.KeyHash, k.KeyPrefix, k.TenantID, k.PolicyID, k.Enabled, k.ExpiresAt,
	)
	created, err := scanApiKeyRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating api key: %w", err)
	}
	return created, nil
}

func (s *ApiKeyStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
