// Package metrics provides Prometheus instrumentation for fraudgate.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts evaluated transactions by final action.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudgate",
			Name:      "decisions_total",
			Help:      "Total fraud decisions by final action.",
		},
		[]string{"action"},
	)

	// RuleFiredTotal counts business-rule firings by rule name.
	RuleFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudgate",
			Name:      "rule_fired_total",
			Help:      "Total business-rule firings that changed a decision.",
		},
		[]string{"rule"},
	)

	// FraudScore observes the distribution of model scores.
	FraudScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudgate",
		Name:      "fraud_score",
		Help:      "Distribution of raw fraud-probability scores.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// DecisionDuration observes end-to-end evaluation latency.
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudgate",
		Name:      "decision_duration_seconds",
		Help:      "Time to derive features, score, and decide in seconds.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ScoringFailuresTotal counts scorer calls that returned an error.
	ScoringFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudgate",
		Name:      "scoring_failures_total",
		Help:      "Total scorer invocations that failed.",
	})

	// BatchSize observes the size of batch evaluation requests.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudgate",
		Name:      "batch_size",
		Help:      "Number of transactions per batch request.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// ActiveStreamClients tracks connected decision-feed clients.
	ActiveStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudgate",
		Name:      "active_stream_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudgate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		RuleFiredTotal,
		FraudScore,
		DecisionDuration,
		ScoringFailuresTotal,
		BatchSize,
		ActiveStreamClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
