package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_gateway_events_received",
	Help: "Number of change events received from the gateway",
}, []string{"kind"})

var eventsQueued = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_gateway_events_queued",
	Help: "Number of change events waiting to be handled",
})

var protectedServers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_protected_servers",
	Help: "Number of servers under protection",
})
