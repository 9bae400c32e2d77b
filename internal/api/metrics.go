package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loglineRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logline_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	loglineRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logline_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	loglineAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logline_appends_total",
		Help: "Append pipeline runs by outcome.",
	}, []string{"outcome"})

	loglineAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logline_append_duration_seconds",
		Help:    "Append pipeline latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	loglineVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logline_verifications_total",
		Help: "Full-ledger verification runs by result.",
	}, []string{"result"})

	loglinePeerSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logline_peer_syncs_total",
		Help: "Trust key pulls from federation peers by result.",
	}, []string{"result"})

	loglineTrustedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logline_trusted_keys",
		Help: "Number of keys in the trust registry.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		loglineRequestsTotal.WithLabelValues(method, path, status).Inc()
		loglineRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records one append pipeline run. It matches pipeline.RecordFunc.
func RecordAppend(outcome string, elapsed time.Duration) {
	loglineAppendsTotal.WithLabelValues(outcome).Inc()
	loglineAppendDuration.Observe(elapsed.Seconds())
}

// RecordVerification records a full-ledger verification result.
func RecordVerification(valid bool) {
	if valid {
		loglineVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		loglineVerificationsTotal.WithLabelValues("corrupted").Inc()
	}
}

// RecordPeerSync records a federation key pull. It matches trust.SyncRecordFunc.
func RecordPeerSync(_ string, success bool) {
	if success {
		loglinePeerSyncsTotal.WithLabelValues("success").Inc()
	} else {
		loglinePeerSyncsTotal.WithLabelValues("failure").Inc()
	}
}

// SetTrustedKeysGauge sets the trusted key gauge.
func SetTrustedKeysGauge(n int) {
	loglineTrustedKeys.Set(float64(n))
}
