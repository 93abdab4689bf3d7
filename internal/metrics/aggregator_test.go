package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sergeybar/ratesentry/internal/metrics"
)

type fakeReader struct {
	total   int64
	allowed int64
	denied  int64
	rejectedSince int64
}

func (f *fakeReader) CountEvents(ctx context.Context, policyID uuid.UUID, allowed *bool, from, to time.Time) (int64, error) {
	if allowed == nil {
		return f.total, nil
	}
	if *allowed {
		return f.allowed, nil
	}
	return f.denied, nil
}

func (f *fakeReader) CountRejectedByIdentifierSince(ctx context.Context, identifier string, from time.Time) (int64, error) {
	return f.rejectedSince, nil
}

func TestAggregator_DenyRate(t *testing.T) {
	a := metrics.New(&fakeReader{total: 10, denied: 3})
	rate, err := a.DenyRate(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.3 {
		t.Fatalf("expected 0.3, got %v", rate)
	}
}

func TestAggregator_DenyRate_ZeroTotal(t *testing.T) {
	a := metrics.New(&fakeReader{total: 0, denied: 0})
	rate, err := a.DenyRate(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0 {
		t.Fatalf("expected 0 when total is 0, got %v", rate)
	}
}

func TestAggregator_RejectedByIdentifierSince(t *testing.T) {
	a := metrics.New(&fakeReader{rejectedSince: 7})
	n, err := a.RejectedByIdentifierSince(context.Background(), "user-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
}
