package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_paste_deleted_total",
		Help: "no. of pastes deleted via deletion key",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_cache_misses_total",
		Help: "no. of cache misses",
	})
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_sweep_cycles_total",
		Help: "no. of completed sweeper cycles",
	})
	ExpiredRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_expired_removed_total",
		Help: "no. of pastes removed after TTL expiry",
	})
	ZombiesReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stashbin_zombies_reconciled_total",
		Help: "no. of half-deleted pastes reconciled by the sweeper",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stashbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stashbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
