// Package alerting implements C8: a periodic evaluator that fires
// AlertRules against C7's metrics and fans out notifications, plus the
// pluggable Notifier interface and a skip-if-overrun scheduler. Grounded on
// the teacher's observability/pagerduty.go notifier shape and main.go's
// background-task pattern (healthPoller/modelSyncer).
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/metrics"
	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/telemetry"
)

// Severity classifies how bad a firing alert is, derived from denyRate.
type Severity string

const (
	SeverityAttention Severity = "ATTENTION"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
)

// DeriveSeverity implements spec.md §4.8's thresholds: >=80% CRITICAL,
// >=50% WARNING, else ATTENTION. denyRate is a 0-1 fraction.
func DeriveSeverity(denyRate float64) Severity {
	pct := denyRate * 100
	switch {
	case pct >= 80:
		return SeverityCritical
	case pct >= 50:
		return SeverityWarning
	default:
		return SeverityAttention
	}
}

// Notification is the payload fanned out to every enabled Notifier.
type Notification struct {
	RuleID              uuid.UUID
	RuleName            string
	PolicyID            uuid.UUID
	PolicyName          string
	CurrentDenyRate     float64
	ThresholdPercentage float64
	WindowSeconds       int
	TotalRequests       int64
	DeniedRequests      int64
	TriggeredAt         time.Time
	Severity            Severity
}

// Notifier is the pluggable sink C8 fans alerts out to.
type Notifier interface {
	SendNotification(ctx context.Context, n Notification) error
	IsEnabled() bool
	GetName() string
}

// RuleRepo supplies the enabled AlertRules to evaluate, and persists the
// lastTriggeredAt update atomically.
type RuleRepo interface {
	EnabledRules(ctx context.Context) ([]model.AlertRule, error)
	// SetLastTriggeredAt performs a compare-and-set: it only applies if the
	// row's current lastTriggeredAt still matches expected, preventing two
	// concurrent ticks from double-firing the same rule.
	SetLastTriggeredAt(ctx context.Context, ruleID uuid.UUID, expected *time.Time, now time.Time) (bool, error)
}

// PolicyNameResolver is the narrow policy lookup the evaluator needs to
// build a human-readable Notification; internal/policy's cache already
// provides this shape.
type PolicyNameResolver interface {
	PolicyName(ctx context.Context, policyID uuid.UUID) (string, error)
}

// Evaluator runs one evaluation pass over every enabled AlertRule.
type Evaluator struct {
	rules     RuleRepo
	agg       *metrics.Aggregator
	policies  PolicyNameResolver
	notifiers []Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEvaluator wires an Evaluator's dependencies together.
func NewEvaluator(rules RuleRepo, agg *metrics.Aggregator, policies PolicyNameResolver, notifiers []Notifier, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		rules:     rules,
		agg:       agg,
		policies:  policies,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_evaluator").Logger(),
		now:       time.Now,
	}
}

// EvaluateAll runs one pass over every enabled rule. A single rule's error
// is logged and does not stop evaluation of the remaining rules.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	rules, err := e.rules.EnabledRules(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to load enabled alert rules")
		return
	}
	for _, rule := range rules {
		if err := e.evaluateOne(ctx, rule); err != nil {
			e.logger.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("alert rule evaluation failed")
		}
	}
}

// EvaluateRule runs a single rule once regardless of its threshold and
// cooldown, without updating lastTriggeredAt — the admin surface's
// testAlert(ruleId) operation.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule model.AlertRule) error {
	return e.fire(ctx, rule, true)
}

func (e *Evaluator) evaluateOne(ctx context.Context, rule model.AlertRule) error {
	return e.fire(ctx, rule, false)
}

func (e *Evaluator) fire(ctx context.Context, rule model.AlertRule, force bool) error {
	now := e.now()
	to := now
	from := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)

	total, err := e.agg.Total(ctx, rule.PolicyID, from, to)
	if err != nil {
		return err
	}
	denyRate, err := e.agg.DenyRate(ctx, rule.PolicyID, from, to)
	if err != nil {
		return err
	}
	denied, err := e.agg.Denied(ctx, rule.PolicyID, from, to)
	if err != nil {
		return err
	}

	if !force {
		if denyRate*100 < rule.ThresholdPercentage {
			return nil
		}
		if !cooldownElapsed(rule.LastTriggeredAt, rule.CooldownSeconds, now) {
			return nil
		}
	}

	if !force {
		ok, err := e.rules.SetLastTriggeredAt(ctx, rule.ID, rule.LastTriggeredAt, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another tick (or concurrent evaluator) already claimed this firing.
			return nil
		}
	}

	policyName := ""
	if e.policies != nil {
		if name, err := e.policies.PolicyName(ctx, rule.PolicyID); err == nil {
			policyName = name
		}
	}

	notification := Notification{
		RuleID:              rule.ID,
		RuleName:            rule.Name,
		PolicyID:            rule.PolicyID,
		PolicyName:          policyName,
		CurrentDenyRate:     denyRate,
		ThresholdPercentage: rule.ThresholdPercentage,
		WindowSeconds:       rule.WindowSeconds,
		TotalRequests:       total,
		DeniedRequests:      denied,
		TriggeredAt:         now,
		Severity:            DeriveSeverity(denyRate),
	}

	telemetry.AlertsFiredTotal.WithLabelValues(string(notification.Severity)).Inc()
	e.fanOut(ctx, notification)
	return nil
}

// fanOut sends notification to every enabled notifier; a single notifier's
// failure is logged and never affects the others, per spec.md §4.8 step 3.
func (e *Evaluator) fanOut(ctx context.Context, n Notification) {
	var wg sync.WaitGroup
	for _, notifier := range e.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(notifier Notifier) {
			defer wg.Done()
			if err := notifier.SendNotification(ctx, n); err != nil {
				e.logger.Error().Err(err).Str("notifier", notifier.GetName()).Str("rule_id", n.RuleID.String()).
					Msg("alert notifier failed")
			}
		}(notifier)
	}
	wg.Wait()
}

func cooldownElapsed(lastTriggeredAt *time.Time, cooldownSeconds int, now time.Time) bool {
	if lastTriggeredAt == nil {
		return true
	}
	return now.Sub(*lastTriggeredAt) >= time.Duration(cooldownSeconds)*time.Second
}
