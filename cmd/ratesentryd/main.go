// Command ratesentryd is the rate-limiting service's entry point: it wires
// configuration, storage, the decision path (C1-C5), the event sink (C6),
// metrics (C7), alerting (C8), and the HTTP API together, then serves until
// an OS signal asks it to stop.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sergeybar/ratesentry/internal/alerting"
	"github.com/sergeybar/ratesentry/internal/config"
	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/eventsink"
	"github.com/sergeybar/ratesentry/internal/httpapi"
	"github.com/sergeybar/ratesentry/internal/logger"
	"github.com/sergeybar/ratesentry/internal/metrics"
	"github.com/sergeybar/ratesentry/internal/orchestrator"
	"github.com/sergeybar/ratesentry/internal/policy"
	"github.com/sergeybar/ratesentry/internal/ratelimit"
	"github.com/sergeybar/ratesentry/internal/resilience"
	"github.com/sergeybar/ratesentry/internal/store"
	"github.com/sergeybar/ratesentry/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("ratesentry starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres failed")
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("running migrations failed")
	}
	log.Info().Msg("migrations applied")

	counters, err := counterstore.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to redis failed")
	}
	if err := counters.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing, breaker will fall back per policy")
	}

	envelope := resilience.NewEnvelope(
		resilience.BreakerConfig{
			FailureRateThreshold:      cfg.BreakerFailureRateThreshold,
			SlidingWindowSize:         cfg.BreakerSlidingWindowSize,
			WaitDurationInOpen:        cfg.BreakerWaitInOpen,
			HalfOpenSuccesses:         cfg.BreakerHalfOpenSuccesses,
			SlowCallDurationThreshold: cfg.BreakerSlowCallDuration,
			SlowCallRateThreshold:     cfg.BreakerSlowCallRateThreshold,
		},
		resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			JitterFraction: cfg.RetryJitterFraction,
		},
	)
	engine := ratelimit.NewEngine(counters, envelope)

	policyStore := store.NewPolicyStore(pool)
	tenantStore := store.NewTenantStore(pool)
	apiKeyStore := store.NewApiKeyStore(pool)
	ipRuleStore := store.NewIpRuleStore(pool)
	userPolicyStore := store.NewUserPolicyStore(pool)
	policyRuleStore := store.NewPolicyRuleStore(pool)
	alertRuleStore := store.NewAlertRuleStore(pool)
	eventStore := store.NewEventStore(pool)

	resolver := policy.NewResolver(
		policyStore, apiKeyStore, ipRuleStore, policyRuleStore, userPolicyStore,
		hashAPIKey, policy.Config{TTL: cfg.PolicyCacheTTL, MaxEntries: cfg.PolicyCacheMaxEntries},
	)

	sink := eventsink.New(eventsink.Config{
		BufferSize:     cfg.EventSinkBufferSize,
		BatchSize:      cfg.EventSinkBatchSize,
		BatchTimeout:   cfg.EventSinkBatchTimeout,
		OverflowPolicy: eventsink.OverflowPolicy(cfg.EventSinkOverflowPolicy),
		Workers:        cfg.EventSinkWorkers,
		MaxRetries:     cfg.EventSinkMaxRetries,
		RetryBaseDelay: cfg.EventSinkRetryBaseDelay,
		DrainDeadline:  cfg.EventSinkDrainDeadline,
	}, eventStore, log)
	sink.Start(ctx)

	orch := orchestrator.New(resolver, engine, sink, hashAPIKey)

	agg := metrics.New(eventStore)

	var notifiers []alerting.Notifier
	if cfg.SlackBotToken != "" {
		notifiers = append(notifiers, alerting.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel))
	}
	if cfg.SMTPAddr != "" && len(cfg.SMTPTo) > 0 {
		notifiers = append(notifiers, alerting.NewEmailNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPTo))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
	}

	evaluator := alerting.NewEvaluator(alertRuleStore, agg, policyStore, notifiers, log)
	alertScheduler := alerting.NewScheduler(cfg.AlertTickInterval, cfg.AlertInitialDelay, evaluator.EvaluateAll, log)
	go alertScheduler.Run(ctx)

	cacheStatsScheduler := alerting.NewScheduler(cfg.CacheStatsTickInterval, cfg.CacheStatsTickInterval, func(ctx context.Context) {
		s := sink.Stats()
		log.Info().Int64("received", s.Received).Int64("written", s.Written).
			Int64("dropped", s.Dropped).Int64("flush_errors", s.FlushErrors).Msg("event sink stats")
	}, log)
	go cacheStatsScheduler.Run(ctx)

	prometheus.MustRegister(telemetry.All()...)

	router := httpapi.NewRouter(httpapi.Deps{
		Orchestrator: orch,
		Alerts:       evaluator,
		Invalidate:   resolver,
		Policies:     policyStore,
		Tenants:      tenantStore,
		APIKeys:      apiKeyStore,
		IPRules:      ipRuleStore,
		UserPolicies: userPolicyStore,
		PolicyRules:  policyRuleStore,
		AlertRules:   alertRuleStore,
		MaxBodyBytes: cfg.MaxBodyBytes,
		AdminAPIKey:  cfg.AdminAPIKey,
		CORSOrigins:  cfg.CORSOrigins,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ratesentry listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	cancel()
	sink.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("ratesentry stopped gracefully")
	}
}

// hashAPIKey is the one-way transform applied to raw API keys before
// lookup or storage, per policy.APIKeyHasher's contract.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
