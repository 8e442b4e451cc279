// Package telemetry exposes prometheus metrics for the send pipeline,
// the encryption manager and the reconciliation runner.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSubmitted counts local message creates (TEMP rows).
	MessagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_submitted_total",
		Help: "Messages created locally in TEMP status.",
	})

	// MessagesDelivered counts server-acknowledged sends.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_delivered_total",
		Help: "Messages acknowledged by the server (TEMP to SENT).",
	})

	// DeliveryErrors counts failed deliveries by cause.
	DeliveryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_delivery_errors_total",
		Help: "Deliveries that ended in ERROR status.",
	}, []string{"cause"})

	// ThreadBookkeepingSkips counts soft-failed thread side effects.
	ThreadBookkeepingSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_thread_bookkeeping_skips_total",
		Help: "Thread bookkeeping lookups that soft-failed during submit.",
	})

	// SweepDecrypted counts rows recovered by the decrypt sweep.
	SweepDecrypted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_sweep_decrypted_total",
		Help: "Rows decrypted by the sweep.",
	})

	// SweepFailures counts per-item sweep decrypt failures.
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_sweep_failures_total",
		Help: "Rows the sweep could not decrypt and left pending.",
	})

	// ReconcileFlips counts ERROR rows confirmed delivered by the
	// reconciliation runner.
	ReconcileFlips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconcile_flips_total",
		Help: "ERROR messages confirmed server-side and flipped to SENT.",
	})

	// BannerTransitions counts encryption banner changes by target state.
	BannerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_banner_transitions_total",
		Help: "Encryption banner transitions.",
	}, []string{"banner"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
