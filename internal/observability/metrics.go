// Package observability exposes the prometheus instruments shared across
// the round, oracle, and settlement services.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters the services update. A single instance is
// created at startup and passed into each service.
type Metrics struct {
	PredictionsAccepted prometheus.Counter
	PredictionsRejected *prometheus.CounterVec
	RoundsSettled       prometheus.Counter
	RoundsVoided        prometheus.Counter
	RoundsHeld          prometheus.Counter
	PayoutsSent         prometheus.Counter
	PayoutsFailed       prometheus.Counter
	LamportsDisbursed   prometheus.Counter
	EventsObserved      *prometheus.CounterVec
}

// New registers the sidepool metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PredictionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_predictions_accepted_total",
			Help: "Predictions accepted into the live round.",
		}),
		PredictionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidepool_predictions_rejected_total",
			Help: "Predictions rejected, by reason.",
		}, []string{"reason"}),
		RoundsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_rounds_settled_total",
			Help: "Rounds settled with a confirmed winner.",
		}),
		RoundsVoided: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_rounds_voided_total",
			Help: "Rounds voided with zero payouts.",
		}),
		RoundsHeld: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_rounds_held_total",
			Help: "Rounds held below the dust threshold.",
		}),
		PayoutsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_payouts_sent_total",
			Help: "Payout entries confirmed sent.",
		}),
		PayoutsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_payouts_failed_total",
			Help: "Payout entries that failed disbursement.",
		}),
		LamportsDisbursed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidepool_lamports_disbursed_total",
			Help: "Total lamports confirmed sent to winners.",
		}),
		EventsObserved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidepool_lifecycle_events_total",
			Help: "Round lifecycle events observed on the bus, by topic.",
		}, []string{"topic"}),
	}
}
