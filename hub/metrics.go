package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	deliveries *prometheus.CounterVec
	pruned     prometheus.Counter
	retries    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bloodlink",
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Push delivery attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bloodlink",
			Subsystem: "push",
			Name:      "subscriptions_pruned_total",
			Help:      "Subscriptions deleted after the push service reported them gone.",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bloodlink",
			Subsystem: "push",
			Name:      "queue_retries_total",
			Help:      "Retry queue attempts by outcome.",
		}, []string{"outcome"}),
	}
}
