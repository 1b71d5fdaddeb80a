package rest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mrtrick/fireengine/pkg/engine"
)

var firesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fireengine",
	Name:      "fires_total",
	Help:      "Fired actions partitioned by design, action and outcome.",
}, []string{"design", "action", "outcome"})

func observeFire(design string, action string, err error) {
	outcome := "complete"
	if err != nil {
		switch engine.StatusCode(err) {
		case 401, 403:
			outcome = "forbidden"
		case 408:
			outcome = "timeout"
		case 409:
			outcome = "conflict"
		default:
			outcome = "error"
		}
	}
	firesTotal.WithLabelValues(design, action, outcome).Inc()
}
