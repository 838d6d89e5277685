package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_dispatch_duration_sec",
	Help:    "Total duration of dispatched platform calls, including queueing and retries",
	Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
}, []string{"route"})

var dispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_calls",
	Help: "Number of dispatched platform calls, by final result",
}, []string{"route", "result"})

var dispatchAttemptCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_attempts",
	Help: "Number of individual attempts of dispatched platform calls",
}, []string{"route"})

var dispatchRateLimitCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_dispatch_rate_limits",
	Help: "Number of rate-limit responses received",
}, []string{"route", "scope"})

var dispatchQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_dispatch_queued",
	Help: "Number of calls waiting for an in-flight call on the same route",
}, []string{"route"})
