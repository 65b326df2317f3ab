package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection-pool metrics shared by every store.
var (
	poolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "provstore_pool_connections_in_use",
		Help: "Connections currently leased from the pool.",
	})

	poolAcquiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provstore_pool_acquires_total",
		Help: "Total successful connection acquisitions.",
	})

	poolExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provstore_pool_exhausted_total",
		Help: "Acquisitions that failed because the pool admission timeout elapsed.",
	})

	poolWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "provstore_pool_wait_seconds",
		Help:    "Time spent waiting for pool admission.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers the pool metrics in the default registry.
func Init() {
	prometheus.MustRegister(poolInUse, poolAcquiresTotal, poolExhaustedTotal, poolWaitSeconds)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PoolAcquired records a successful acquisition after waiting wait.
func PoolAcquired(wait time.Duration) {
	poolAcquiresTotal.Inc()
	poolWaitSeconds.Observe(wait.Seconds())
	poolInUse.Inc()
}

// PoolReleased records a lease going back to the pool.
func PoolReleased() {
	poolInUse.Dec()
}

// PoolExhausted records an admission timeout.
func PoolExhausted(wait time.Duration) {
	poolExhaustedTotal.Inc()
	poolWaitSeconds.Observe(wait.Seconds())
}
