// Package metrics provides Prometheus instrumentation for the agent runtime.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prism",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PipelineRunsTotal counts pipeline runs by outcome ("completed", "hold",
	// "pending_approval", "aborted", "failed").
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "pipeline_runs_total",
			Help:      "Total action pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	// PipelineStageFailuresTotal counts stage failures by stage name.
	PipelineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "pipeline_stage_failures_total",
			Help:      "Total pipeline stage failures by stage.",
		},
		[]string{"stage"},
	)

	// PipelineDuration observes end-to-end pipeline run latency.
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prism",
		Name:      "pipeline_duration_seconds",
		Help:      "Action pipeline run duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// PolicyDenialsTotal counts policy validation failures by check.
	PolicyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "policy_denials_total",
			Help:      "Total policy validation failures by check.",
		},
		[]string{"check"},
	)

	// SigningsTotal counts signing attempts by result ("signed", "policy_violation",
	// "no_session", "service_error", "invalid_response").
	SigningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "signings_total",
			Help:      "Total delegated signing attempts by result.",
		},
		[]string{"result"},
	)

	// IntentTransitionsTotal counts settlement intent transitions by target status.
	IntentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "intent_transitions_total",
			Help:      "Total settlement intent state transitions by target status.",
		},
		[]string{"status"},
	)

	// RiskAssessmentsTotal counts risk assessments by level.
	RiskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "risk_assessments_total",
			Help:      "Total risk assessments by level.",
		},
		[]string{"level"},
	)

	// RotationsTotal counts session rotations by reason and result.
	RotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "session_rotations_total",
			Help:      "Total session key rotations by reason and result.",
		},
		[]string{"reason", "result"},
	)

	// ActiveSessions tracks currently valid session credentials.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "active_sessions",
			Help:      "Number of currently valid session credentials.",
		},
	)

	// EmergencyStopped reports whether the emergency stop is engaged (0/1).
	EmergencyStopped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "emergency_stopped",
			Help:      "1 when the emergency stop is engaged, 0 otherwise.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prism", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prism", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PipelineRunsTotal,
		PipelineStageFailuresTotal,
		PipelineDuration,
		PolicyDenialsTotal,
		SigningsTotal,
		IntentTransitionsTotal,
		RiskAssessmentsTotal,
		RotationsTotal,
		ActiveSessions,
		EmergencyStopped,
		ActiveWebSocketClients,
		DBOpenConnections,
		GoroutineCount,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
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
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
