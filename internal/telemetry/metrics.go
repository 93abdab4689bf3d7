package telemetry

import "github.com/prometheus/client_golang/prometheus"

var ChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "checks",
		Name:      "total",
		Help:      "Total number of Check calls by outcome reason.",
	},
	[]string{"reason"},
)

var CheckDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ratesentry",
		Subsystem: "checks",
		Name:      "duration_seconds",
		Help:      "Check call latency in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	},
	[]string{"algorithm"},
)

var BreakerStateGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ratesentry",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
	},
	[]string{"store"},
)

var BreakerTripsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Total number of times the counter store breaker has opened.",
	},
)

var RetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "resilience",
		Name:      "retries_total",
		Help:      "Total number of counter store call retries.",
	},
)

var FallbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "resilience",
		Name:      "fallbacks_total",
		Help:      "Total number of times a fail-mode fallback decided a Check, by fail mode.",
	},
	[]string{"fail_mode"},
)

var PolicyCacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "policy_cache",
		Name:      "hits_total",
		Help:      "Total policy resolution cache hits and misses.",
	},
	[]string{"result"},
)

var EventSinkDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "event_sink",
		Name:      "dropped_total",
		Help:      "Total number of RateLimitEvents dropped by the sink, by cause.",
	},
	[]string{"cause"},
)

var EventSinkFlushErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "event_sink",
		Name:      "flush_errors_total",
		Help:      "Total number of batch flushes that exhausted retries.",
	},
)

var AlertsFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratesentry",
		Subsystem: "alerts",
		Name:      "fired_total",
		Help:      "Total number of alert rule firings by severity.",
	},
	[]string{"severity"},
)

// All returns every ratesentry metric for registration against a Prometheus
// registry at startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ChecksTotal,
		CheckDuration,
		BreakerStateGauge,
		BreakerTripsTotal,
		RetriesTotal,
		FallbacksTotal,
		PolicyCacheHitsTotal,
		EventSinkDroppedTotal,
		EventSinkFlushErrorsTotal,
		AlertsFiredTotal,
	}
}
