// Package metrics provides Prometheus instrumentation for the Paylance platform.
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
			Namespace: "paylance",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paylance",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts ledger transactions by kind and final status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paylance",
			Name:      "transactions_total",
			Help:      "Total ledger transactions recorded by kind and status.",
		},
		[]string{"kind", "status"},
	)

	// GatewayVerificationsTotal counts provider verification calls by result.
	GatewayVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paylance",
			Name:      "gateway_verifications_total",
			Help:      "Total payment gateway verification attempts by result.",
		},
		[]string{"provider", "result"},
	)

	// WithdrawalsTotal counts withdrawal requests by outcome.
	WithdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paylance",
			Name:      "withdrawals_total",
			Help:      "Total withdrawal requests by status.",
		},
		[]string{"status"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paylance", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Escrow metrics ---

	EscrowOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "escrow_opened_total",
		Help:      "Total escrows opened at checkout.",
	})

	EscrowReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "escrow_released_total",
		Help:      "Total escrows released to the payee.",
	})

	EscrowRefundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "escrow_refunded_total",
		Help:      "Total escrows refunded to the payer.",
	})

	EscrowDisputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "escrow_disputed_total",
		Help:      "Total escrows placed in dispute.",
	})

	EscrowAutoReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "escrow_auto_released_total",
		Help:      "Total escrows auto-released after the hold window expired.",
	})

	EscrowHoldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paylance",
		Name:      "escrow_hold_duration_seconds",
		Help:      "Time from escrow funding to resolution in seconds.",
		Buckets:   []float64{3600, 21600, 86400, 259200, 604800, 1209600, 2419200},
	})

	// CommissionEarnedKobo accumulates platform commission in kobo.
	CommissionEarnedKobo = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paylance",
		Name:      "commission_earned_kobo_total",
		Help:      "Total platform commission collected in kobo.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		GatewayVerificationsTotal,
		WithdrawalsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		EscrowOpenedTotal,
		EscrowReleasedTotal,
		EscrowRefundedTotal,
		EscrowDisputedTotal,
		EscrowAutoReleasedTotal,
		EscrowHoldDuration,
		CommissionEarnedKobo,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
