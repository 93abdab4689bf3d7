// Package metrics implements C7: a pure-read facade over the event store.
// Every interval is half-open [from, to) — the store adapter is responsible
// for translating that into its query semantics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventReader is the read surface internal/store provides over the
// append-only RateLimitEvent log.
type EventReader interface {
	CountEvents(ctx context.Context, policyID uuid.UUID, allowed *bool, from, to time.Time) (int64, error)
	CountRejectedByIdentifierSince(ctx context.Context, identifier string, from time.Time) (int64, error)
}

// Aggregator is C7's public surface.
type Aggregator struct {
	reader EventReader
}

// New wires the aggregator to a reader.
func New(reader EventReader) *Aggregator {
	return &Aggregator{reader: reader}
}

// Total returns the count of all events for policyID in [from, to).
func (a *Aggregator) Total(ctx context.Context, policyID uuid.UUID, from, to time.Time) (int64, error) {
	n, err := a.reader.CountEvents(ctx, policyID, nil, from, to)
	if err != nil {
		return 0, fmt.Errorf("metrics: total: %w", err)
	}
	return n, nil
}

// Allowed returns the count of allowed events for policyID in [from, to).
func (a *Aggregator) Allowed(ctx context.Context, policyID uuid.UUID, from, to time.Time) (int64, error) {
	allowed := true
	n, err := a.reader.CountEvents(ctx, policyID, &allowed, from, to)
	if err != nil {
		return 0, fmt.Errorf("metrics: allowed: %w", err)
	}
	return n, nil
}

// Denied returns the count of denied events for policyID in [from, to).
func (a *Aggregator) Denied(ctx context.Context, policyID uuid.UUID, from, to time.Time) (int64, error) {
	denied := false
	n, err := a.reader.CountEvents(ctx, policyID, &denied, from, to)
	if err != nil {
		return 0, fmt.Errorf("metrics: denied: %w", err)
	}
	return n, nil
}

// DenyRate returns denied/total for policyID in [from, to); 0 when total=0.
func (a *Aggregator) DenyRate(ctx context.Context, policyID uuid.UUID, from, to time.Time) (float64, error) {
	total, err := a.Total(ctx, policyID, from, to)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	denied, err := a.Denied(ctx, policyID, from, to)
	if err != nil {
		return 0, err
	}
	return float64(denied) / float64(total), nil
}

// RejectedByIdentifierSince returns how many denied events a single
// identifier has accrued since from.
func (a *Aggregator) RejectedByIdentifierSince(ctx context.Context, identifier string, from time.Time) (int64, error) {
	n, err := a.reader.CountRejectedByIdentifierSince(ctx, identifier, from)
	if err != nil {
		return 0, fmt.Errorf("metrics: rejectedByIdentifierSince: %w", err)
	}
	return n, nil
}
