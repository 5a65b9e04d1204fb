package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry            *prometheus.Registry
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
	HTTPErrors          *prometheus.CounterVec
	RedisDegraded       *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	BackendFetches      *prometheus.CounterVec
	CachePrunes         prometheus.Counter
	CacheEntries        prometheus.Gauge
	CacheBytes          prometheus.Gauge
	StoreErrors         *prometheus.CounterVec
	BackendCircuitOpen  prometheus.Counter
	BackendCircuitState prometheus.Gauge
	IdempotencyHits     prometheus.Counter
	IdempotencyConflict prometheus.Counter
	IdempotencyBypass   *prometheus.CounterVec
	LockReleaseErrors   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_in_flight_requests",
				Help: "Number of in-flight HTTP requests.",
			},
		),
		HTTPErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total number of HTTP 5xx errors.",
			},
			[]string{"method", "path", "code"},
		),
		RedisDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_degraded_total",
				Help: "Total number of Redis degradation events.",
			},
			[]string{"component"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "last_match_lookups_total",
				Help: "Last match lookups by result: hit, miss, throttled, fallback.",
			},
			[]string{"result"},
		),
		BackendFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "last_match_backend_fetches_total",
				Help: "Backend match list fetches by outcome.",
			},
			[]string{"outcome"},
		),
		CachePrunes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "last_match_prunes_total",
				Help: "Total number of size-triggered cache prunes.",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "last_match_entries",
				Help: "Number of teams currently cached.",
			},
		),
		CacheBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "last_match_size_bytes",
				Help: "Serialized size of the cached mapping.",
			},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "last_match_store_errors_total",
				Help: "Durable store failures by operation.",
			},
			[]string{"op"},
		),
		BackendCircuitOpen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_circuit_open_total",
				Help: "Total number of calls rejected by the backend circuit breaker.",
			},
		),
		BackendCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_circuit_state",
				Help: "Backend circuit breaker state: 0=closed,1=half_open,2=open.",
			},
		),
		IdempotencyHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotency_hits_total",
				Help: "Total number of replayed idempotent responses.",
			},
		),
		IdempotencyConflict: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotency_conflicts_total",
				Help: "Total number of idempotency keys reused with a different payload.",
			},
		),
		IdempotencyBypass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_bypass_total",
				Help: "Total number of requests that skipped idempotency handling.",
			},
			[]string{"reason"},
		),
		LockReleaseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lock_release_errors_total",
				Help: "Total number of failed lock releases.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPInFlight,
		m.HTTPErrors,
		m.RedisDegraded,
		m.CacheLookups,
		m.BackendFetches,
		m.CachePrunes,
		m.CacheEntries,
		m.CacheBytes,
		m.StoreErrors,
		m.BackendCircuitOpen,
		m.BackendCircuitState,
		m.IdempotencyHits,
		m.IdempotencyConflict,
		m.IdempotencyBypass,
		m.LockReleaseErrors,
	)

	return m
}

func (m *Metrics) IncLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.BackendFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveCacheSize(entries, bytes int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
	m.CacheBytes.Set(float64(bytes))
}

func (m *Metrics) IncPrune() {
	if m == nil {
		return
	}
	m.CachePrunes.Inc()
}
