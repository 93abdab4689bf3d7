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

// EventStore implements eventsink.Writer and metrics.EventReader over the
// partitioned rate_limit_events table.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// WriteEvents batch-inserts a flushed event batch via pgx's batch protocol,
// one round trip for the whole slice instead of one per row.
func (s *EventStore) WriteEvents(ctx context.Context, events []model.RateLimitEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		partitionKey := e.PartitionKey
		if partitionKey == "" {
			partitionKey = model.PartitionKeyFor(e.EventTime)
		}
		batch.Queue(
			`INSERT INTO rate_limit_events
			 (id, policy_id, identifier, identifier_type, allowed, remaining, limit_value, ip_address, resource, event_time, partition_key)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.PolicyID, e.Identifier, e.IdentifierType, e.Allowed, e.Remaining, e.LimitValue, e.IPAddress, e.Resource, e.EventTime, partitionKey,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("writing rate limit event batch: %w", err)
		}
	}
	return nil
}

// CountEvents counts events for policyID in the half-open interval [from,to),
// optionally filtered by allowed/denied.
func (s *EventStore) CountEvents(ctx context.Context, policyID uuid.UUID, allowed *bool, from, to time.Time) (int64, error) {
	var count int64
	var err error
	if allowed == nil {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM rate_limit_events WHERE policy_id = $1 AND event_time >= $2 AND event_time < $3`,
			policyID, from, to,
		).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM rate_limit_events WHERE policy_id = $1 AND allowed = $2 AND event_time >= $3 AND event_time < $4`,
			policyID, *allowed, from, to,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting rate limit events for policy %s: %w", policyID, err)
	}
	return count, nil
}

// CountRejectedByIdentifierSince counts denied events for identifier with
// event_time >= from.
func (s *EventStore) CountRejectedByIdentifierSince(ctx context.Context, identifier string, from time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM rate_limit_events WHERE identifier = $1 AND NOT allowed AND event_time >= $2`,
		identifier, from,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rejections for identifier %s: %w", identifier, err)
	}
	return count, nil
}
