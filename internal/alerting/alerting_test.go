package alerting_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/alerting"
	"github.com/sergeybar/ratesentry/internal/metrics"
	"github.com/sergeybar/ratesentry/internal/model"
)

func TestDeriveSeverity(t *testing.T) {
	cases := []struct {
		denyRate float64
		want     alerting.Severity
	}{
		{0.9, alerting.SeverityCritical},
		{0.8, alerting.SeverityCritical},
		{0.5, alerting.SeverityWarning},
		{0.6, alerting.SeverityWarning},
		{0.2, alerting.SeverityAttention},
		{0, alerting.SeverityAttention},
	}
	for _, c := range cases {
		if got := alerting.DeriveSeverity(c.denyRate); got != c.want {
			t.Errorf("DeriveSeverity(%v) = %v, want %v", c.denyRate, got, c.want)
		}
	}
}

type fakeReader struct {
	total, denied int64
}

func (f *fakeReader) CountEvents(ctx context.Context, policyID uuid.UUID, allowed *bool, from, to time.Time) (int64, error) {
	if allowed == nil {
		return f.total, nil
	}
	if *allowed {
		return f.total - f.denied, nil
	}
	return f.denied, nil
}

func (f *fakeReader) CountRejectedByIdentifierSince(ctx context.Context, identifier string, from time.Time) (int64, error) {
	return 0, nil
}

type fakeRuleRepo struct {
	mu    sync.Mutex
	rules []model.AlertRule
	fires int
}

func (f *fakeRuleRepo) EnabledRules(ctx context.Context) ([]model.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AlertRule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeRuleRepo) SetLastTriggeredAt(ctx context.Context, ruleID uuid.UUID, expected *time.Time, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID != ruleID {
			continue
		}
		if !samePtrTime(f.rules[i].LastTriggeredAt, expected) {
			return false, nil
		}
		f.rules[i].LastTriggeredAt = &now
		f.fires++
		return true, nil
	}
	return false, nil
}

func samePtrTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

type countingNotifier struct {
	sent atomic.Int64
}

func (n *countingNotifier) SendNotification(ctx context.Context, notification alerting.Notification) error {
	n.sent.Add(1)
	return nil
}
func (n *countingNotifier) IsEnabled() bool { return true }
func (n *countingNotifier) GetName() string { return "counting" }

func TestEvaluator_FiresOnceThenRespectsCooldown(t *testing.T) {
	policyID := uuid.New()
	ruleID := uuid.New()
	rules := &fakeRuleRepo{rules: []model.AlertRule{
		{ID: ruleID, Name: "high-deny", PolicyID: policyID, ThresholdPercentage: 50, WindowSeconds: 60, CooldownSeconds: 300, Enabled: true},
	}}
	agg := metrics.New(&fakeReader{total: 20, denied: 10}) // 50% deny rate
	notifier := &countingNotifier{}

	ev := alerting.NewEvaluator(rules, agg, nil, []alerting.Notifier{notifier}, zerolog.Nop())

	ev.EvaluateAll(context.Background())
	if notifier.sent.Load() != 1 {
		t.Fatalf("expected 1 notification on first fire, got %d", notifier.sent.Load())
	}

	// Re-evaluate immediately: should not fire again, cooldown not elapsed.
	ev.EvaluateAll(context.Background())
	if notifier.sent.Load() != 1 {
		t.Fatalf("expected still 1 notification within cooldown, got %d", notifier.sent.Load())
	}
}

func TestEvaluator_BelowThreshold_DoesNotFire(t *testing.T) {
	policyID := uuid.New()
	rules := &fakeRuleRepo{rules: []model.AlertRule{
		{ID: uuid.New(), Name: "high-deny", PolicyID: policyID, ThresholdPercentage: 90, WindowSeconds: 60, CooldownSeconds: 300, Enabled: true},
	}}
	agg := metrics.New(&fakeReader{total: 20, denied: 2}) // 10% deny rate
	notifier := &countingNotifier{}

	ev := alerting.NewEvaluator(rules, agg, nil, []alerting.Notifier{notifier}, zerolog.Nop())
	ev.EvaluateAll(context.Background())
	if notifier.sent.Load() != 0 {
		t.Fatalf("expected no notification below threshold, got %d", notifier.sent.Load())
	}
}

func TestScheduler_SkipsOverrunningTick(t *testing.T) {
	var runs atomic.Int64
	release := make(chan struct{})

	task := func(ctx context.Context) {
		runs.Add(1)
		<-release
	}

	s := alerting.NewScheduler(10*time.Millisecond, 0, task, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	stuckRuns := runs.Load()
	close(release)
	time.Sleep(20 * time.Millisecond)

	if stuckRuns != 1 {
		t.Fatalf("expected exactly 1 run while the first was stuck, got %d", stuckRuns)
	}
}
