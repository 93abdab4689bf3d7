package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sergeybar/ratesentry/internal/model"
)

const ipRuleColumns = `id, tenant_id, ip_address, ip_cidr, policy_id, rule_type, enabled, created_at`

// IpRuleStore implements policy.IpRuleRepo plus the admin CRUD surface.
// Write-time validation rejects anything but RuleType=RATE_LIMIT per
// spec.md §9's open question: the BLACKLIST/WHITELIST enum values exist for
// a lifecycle this spec does not define, so Create refuses them rather than
// silently accepting rows the resolver will never honor.
type IpRuleStore struct {
	pool *pgxpool.Pool
}

func NewIpRuleStore(pool *pgxpool.Pool) *IpRuleStore {
	return &IpRuleStore{pool: pool}
}

func scanIpRuleRow(row pgx.Row) (model.IpRule, error) {
	var r model.IpRule
	err := row.Scan(&r.ID, &r.TenantID, &r.IPAddress, &r.IPCIDR, &r.PolicyID, &r.RuleType, &r.Enabled, &r.CreatedAt)
	return r, err
}

// MatchingRateLimitRules returns enabled RATE_LIMIT rules matching ip,
// exact-IP matches before CIDR matches, newest first within each — the
// CIDR containment predicate (`ip_cidr >>= ip_address`) is evaluated at the
// storage layer per spec.md §6.
func (s *IpRuleStore) MatchingRateLimitRules(ctx context.Context, ip string, tenantID *uuid.UUID) ([]model.IpRule, error) {
	query := `
		SELECT ` + ipRuleColumns + `
		FROM ip_rules
		WHERE rule_type = 'RATE_LIMIT' AND enabled
		  AND (($2::uuid IS NOT NULL AND tenant_id = $2) OR tenant_id IS NULL)
		  AND (ip_address = $1::inet OR ip_cidr >>= $1::inet)
		ORDER BY
		  ($2::uuid IS NOT NULL AND tenant_id = $2) DESC,
		  (ip_address IS NOT NULL) DESC,
		  created_at DESC`

	rows, err := s.pool.Query(ctx, query, ip, tenantID)
	if err != nil {
		return nil, fmt.Errorf("matching ip rules for %s: %w", ip, err)
	}
	defer rows.Close()

	var out []model.IpRule
	for rows.Next() {
		r, err := scanIpRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ip rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *IpRuleStore) List(ctx context.Context, tenantID *uuid.UUID) ([]model.IpRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ipRuleColumns+` FROM ip_rules WHERE tenant_id = $1 OR $1 IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing ip rules: %w", err)
	}
	defer rows.Close()

	var out []model.IpRule
	for rows.Next() {
		r, err := scanIpRuleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ip rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *IpRuleStore) Create(ctx context.Context, r *model.IpRule) (*model.IpRule, error) {
	if r.RuleType != model.IpRuleTypeRateLimit {
		return nil, fmt.Errorf("creating ip rule: only RATE_LIMIT rules are accepted at write time, got %s", r.RuleType)
	}
	if (r.IPAddress == nil) == (r.IPCIDR == nil) {
		return nil, fmt.Errorf("creating ip rule: exactly one of ipAddress or ipCidr must be set")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO ip_rules (tenant_id, ip_address, ip_cidr, policy_id, rule_type, enabled)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+ipRuleColumns,
		r.TenantID, r.IPAddress, r.IPCIDR, r.PolicyID, r.RuleType, r.Enabled,
	)
	created, err := scanIpRuleRow(row)
	if err != nil {
		return nil, fmt.Errorf("creating ip rule: %w", err)
	}
	return &created, nil
}

func (s *IpRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ip_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting ip rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
