package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config supplies constant labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes the pipeline and HTTP instruments. A nil *Metrics is a no-op.
type Metrics struct {
	ingestionOutcomes *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	reclaimOutcomes   *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	orphanedClaims    prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	rateLimitDenied   *prometheus.CounterVec
	aiUsage           *prometheus.CounterVec
}

// New registers the instruments on registerer.
func New(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "feedlink"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		ingestionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "feedlink_ingestion_outcomes_total",
			Help:        "Upload pipeline runs by terminal outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "feedlink_ingestion_stage_duration_seconds",
			Help:        "Upload pipeline stage latency.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			ConstLabels: constLabels,
		}, []string{"stage", "result"}),
		reclaimOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "feedlink_reclaimer_outcomes_total",
			Help:        "Artifact reclamation attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "feedlink_reclaimer_sweep_duration_seconds",
			Help:        "Reclaimer sweep latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}),
		orphanedClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "feedlink_orphaned_claims",
			Help:        "Claimed invoice identifiers older than the grace window that never got an artifact.",
			ConstLabels: constLabels,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "feedlink_http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "feedlink_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "feedlink_rate_limit_denied_total",
			Help:        "Requests rejected by the caller rate limiter.",
			ConstLabels: constLabels,
		}, []string{"route", "reason"}),
		aiUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "feedlink_ai_usage_total",
			Help:        "AI-assisted invoice operations by result.",
			ConstLabels: constLabels,
		}, []string{"feature", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.ingestionOutcomes,
		m.stageDuration,
		m.reclaimOutcomes,
		m.sweepDuration,
		m.orphanedClaims,
		m.httpRequests,
		m.httpDuration,
		m.rateLimitDenied,
		m.aiUsage,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordIngestionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ingestionOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

func (m *Metrics) AddReclaimOutcome(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) SetOrphanedClaims(n int64) {
	if m == nil {
		return
	}
	m.orphanedClaims.Set(float64(n))
}

func (m *Metrics) RecordRateLimitDenied(route, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(route, reason).Inc()
}

func (m *Metrics) RecordAIUsage(feature, result string) {
	if m == nil {
		return
	}
	m.aiUsage.WithLabelValues(feature, result).Inc()
}

// GinMiddleware records request counts and latency by matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
