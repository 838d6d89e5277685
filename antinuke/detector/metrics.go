package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectorBreachCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_detector_breaches",
	Help: "Number of sliding-window threshold breaches",
}, []string{"kind"})
