package internal

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gateway"

// patternRE strips `{...}` segments from a chi pattern to build a constant
// label, mirroring the teacher's normalizePattern.
var patternRE = regexp.MustCompile(`\{[^}]+\}`)

// Metrics is the process-wide Prometheus registry plus the gauges/counters
// every core subsystem reports into: cache tiers (§4.1), the rate limiter
// (§4.6), job actors (§4.7), and provider fan-out (§4.3). It also keeps a
// minute-resolution ring buffer so `GET /metrics?period=` (§6) can answer
// 15m/1h/24h/7d windows without a real TSDB.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.HistogramVec
	httpInflight prometheus.Gauge

	cacheOps    *prometheus.CounterVec
	jobsActive  *prometheus.GaugeVec
	jobsTotal   *prometheus.CounterVec
	providerOps *prometheus.CounterVec
	rateLimited prometheus.Counter

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	httpErrors  atomic.Int64
	httpTotal   atomic.Int64

	mu      sync.Mutex
	samples []statSample
}

// statSample is one minute-bucket snapshot used to answer period-scoped
// queries (SPEC_FULL §C: "the gateway logs cache hit ratio ... every minute").
type statSample struct {
	at      time.Time
	hits    int64
	misses  int64
	errs    int64
	total   int64
}

// maxSamples bounds the ring buffer to the longest period §6 supports (7d at
// one sample per minute).
const maxSamples = 7 * 24 * 60

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metricsNamespace}),
		collectors.NewBuildInfoCollector(),
	)

	m := &Metrics{reg: reg}

	m.httpRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "requests",
		Help:    "HTTP request latencies by method, path, and status.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path", "status"})

	m.httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "http", Name: "inflight",
		Help: "Current number of inbound in-flight HTTP requests.",
	})

	m.cacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "cache", Name: "operations_total",
		Help: "Cache operations by tier and outcome.",
	}, []string{"tier", "outcome"})

	m.jobsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: "jobs", Name: "active",
		Help: "Currently active job actors by pipeline.",
	}, []string{"pipeline"})

	m.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "jobs", Name: "terminal_total",
		Help: "Jobs reaching a terminal state, by pipeline and status.",
	}, []string{"pipeline", "status"})

	m.providerOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "providers", Name: "calls_total",
		Help: "Provider calls by provider name and outcome.",
	}, []string{"provider", "status"})

	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "ratelimit", Name: "denied_total",
		Help: "Requests denied by the per-IP rate limiter.",
	})

	reg.MustRegister(m.httpRequests, m.httpInflight, m.cacheOps, m.jobsActive,
		m.jobsTotal, m.providerOps, m.rateLimited)

	return m
}

// RunSampler appends a minute-resolution sample until ctx is canceled, the
// data source for period-scoped /metrics reads and the 15-minute alert job
// (§4.11).
func (m *Metrics) RunSampler(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.snapshot()
		}
	}
}

func (m *Metrics) snapshot() {
	s := statSample{
		at:     time.Now(),
		hits:   m.cacheHits.Load(),
		misses: m.cacheMisses.Load(),
		errs:   m.httpErrors.Load(),
		total:  m.httpTotal.Load(),
	}
	m.mu.Lock()
	m.samples = append(m.samples, s)
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
	m.mu.Unlock()
}

// CacheHit / CacheMiss record a cache probe's outcome for a tier (§4.1).
func (m *Metrics) CacheHit(tier Source) {
	m.cacheOps.WithLabelValues(string(tier), "hit").Inc()
	m.cacheHits.Add(1)
}

func (m *Metrics) CacheMiss() {
	m.cacheOps.WithLabelValues("none", "miss").Inc()
	m.cacheMisses.Add(1)
}

// JobStarted / JobTerminal track the job-actor population (§4.7).
func (m *Metrics) JobStarted(p Pipeline) { m.jobsActive.WithLabelValues(string(p)).Inc() }

func (m *Metrics) JobTerminal(p Pipeline, status JobStatus) {
	m.jobsActive.WithLabelValues(string(p)).Dec()
	m.jobsTotal.WithLabelValues(string(p), string(status)).Inc()
}

// ProviderCall records a single provider fan-out outcome (§4.3).
func (m *Metrics) ProviderCall(provider string, status providerStatus) {
	m.providerOps.WithLabelValues(provider, status.String()).Inc()
}

// RateLimited records a 429 decision (§4.6).
func (m *Metrics) RateLimited() { m.rateLimited.Inc() }

// Period is one of the windows §6's /metrics endpoint accepts.
type Period string

const (
	Period15m Period = "15m"
	Period1h  Period = "1h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
)

func (p Period) duration() time.Duration {
	switch p {
	case Period15m:
		return 15 * time.Minute
	case Period1h:
		return time.Hour
	case Period24h:
		return 24 * time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Summary is the JSON-format /metrics response body for a given period.
type Summary struct {
	Period        string  `json:"period"`
	Requests      int64   `json:"requests"`
	Errors        int64   `json:"errors"`
	ErrorRate     float64 `json:"errorRate"`
	CacheHits     int64   `json:"cacheHits"`
	CacheMisses   int64   `json:"cacheMisses"`
	CacheHitRatio float64 `json:"cacheHitRatio"`
}

// Summarize computes a period's summary from the ring buffer plus the
// current live counters (so a period shorter than one sampler tick still
// reports something sensible).
func (m *Metrics) Summarize(period Period) Summary {
	cutoff := time.Now().Add(-period.duration())

	m.mu.Lock()
	var oldest *statSample
	for i := range m.samples {
		if m.samples[i].at.After(cutoff) {
			oldest = &m.samples[i]
			break
		}
	}
	m.mu.Unlock()

	curHits, curMisses := m.cacheHits.Load(), m.cacheMisses.Load()
	curErrs, curTotal := m.httpErrors.Load(), m.httpTotal.Load()

	var reqs, errs, hits, misses int64
	if oldest == nil {
		reqs, errs, hits, misses = curTotal, curErrs, curHits, curMisses
	} else {
		reqs = curTotal - oldest.total
		errs = curErrs - oldest.errs
		hits = curHits - oldest.hits
		misses = curMisses - oldest.misses
	}

	s := Summary{Period: string(period), Requests: reqs, Errors: errs, CacheHits: hits, CacheMisses: misses}
	if reqs > 0 {
		s.ErrorRate = float64(errs) / float64(reqs)
	}
	if hits+misses > 0 {
		s.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	return s
}

// Alert is raised by the scheduled alerts job (§4.11) when a period's error
// rate or cache hit rate crosses a threshold.
type Alert struct {
	At      time.Time `json:"at"`
	Reason  string    `json:"reason"`
	Summary Summary   `json:"summary"`
}

const (
	alertErrorRateThreshold    = 0.05
	alertCacheHitRatioFloor    = 0.20
	alertMinRequestsToEvaluate = 20
)

// CheckAlerts evaluates the last 15 minutes against fixed thresholds, run by
// the scheduled-alerts job every 15 minutes (§4.11).
func (m *Metrics) CheckAlerts() []Alert {
	s := m.Summarize(Period15m)
	if s.Requests < alertMinRequestsToEvaluate {
		return nil
	}
	var alerts []Alert
	if s.ErrorRate > alertErrorRateThreshold {
		alerts = append(alerts, Alert{At: time.Now(), Reason: fmt.Sprintf("error rate %.1f%% over last 15m", s.ErrorRate*100), Summary: s})
	}
	if s.CacheHits+s.CacheMisses > 0 && s.CacheHitRatio < alertCacheHitRatioFloor {
		alerts = append(alerts, Alert{At: time.Now(), Reason: fmt.Sprintf("cache hit ratio %.1f%% over last 15m", s.CacheHitRatio*100), Summary: s})
	}
	return alerts
}

// Handler serves format=prometheus (the default promhttp exposition) or
// format=json (a Summary for the requested period) on GET /metrics (§6).
func (m *Metrics) Handler() http.HandlerFunc {
	prom := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" || format == "prometheus" {
			prom.ServeHTTP(w, r)
			return
		}
		period := Period(r.URL.Query().Get("period"))
		if period == "" {
			period = Period1h
		}
		writeJSON(w, http.StatusOK, m.Summarize(period))
	}
}

// instrument wraps an HTTP handler to record timing, status, and error
// totals for every request (feeds both Prometheus and the period sampler).
func (m *Metrics) instrument(next http.Handler) http.Handler {
	normalized := sync.Map{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chiRoutePattern(r)
		label, ok := normalized.Load(pattern)
		if !ok {
			label = normalizePattern(pattern)
			normalized.Store(pattern, label)
		}

		m.httpTotal.Add(1)
		if ww.Status() >= 400 {
			m.httpErrors.Add(1)
		}
		if ww.Status() == http.StatusTooManyRequests {
			m.RateLimited()
		}

		dur := time.Since(start).Seconds()
		m.httpRequests.WithLabelValues(r.Method, label.(string), strconv.Itoa(ww.Status())).Observe(dur)
	})
}

// chiRoutePattern reads the matched route pattern off chi's RouteContext so
// metrics are labeled by route shape ("/v1/search/{isbn}"), not raw path.
func chiRoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func normalizePattern(pattern string) string {
	p := patternRE.ReplaceAllString(pattern, "")
	p = strings.TrimSuffix(p, "/")
	p = strings.ReplaceAll(p, "//", "/")
	if p == "" {
		return "/"
	}
	return p
}
