package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_event_duration_sec",
	Help: "Total duration of anti-nuke event handling",
}, []string{"kind"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_processed",
	Help: "Number of change events processed",
}, []string{"kind"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_errors",
	Help: "Number of change events which failed processing",
}, []string{"kind"})

var attributionFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_attribution_failures",
	Help: "Number of change events which could not be attributed to an actor",
}, []string{"kind"})

var outcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_outcomes",
	Help: "Number of action outcomes, by status",
}, []string{"kind", "status"})

var punishmentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_punishments",
	Help: "Number of punishments issued",
}, []string{"mode"})

var reversalCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_reversals",
	Help: "Number of reversal attempts, by result",
}, []string{"kind", "result"})

var recoveryCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_recoveries",
	Help: "Number of deleted entity recreation attempts, by result",
}, []string{"entity", "result"})

var notifyErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_notify_errors",
	Help: "Number of failed outcome notifications",
})

var healthMissingCritical = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_health_missing_critical",
	Help: "Number of critical permissions missing on a protected server",
}, []string{"server"})

var healthMissingImportant = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_health_missing_important",
	Help: "Number of important permissions missing on a protected server",
}, []string{"server"})

var healthOutrankedRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "warden_health_outranked_ratio",
	Help: "Fraction of sampled human members ranking at or above this system",
}, []string{"server"})
