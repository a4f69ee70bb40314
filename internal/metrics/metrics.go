// Package metrics exposes Prometheus instrumentation for the deposit
// monitoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal counts completed poll cycles per chain.
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "polls_total",
		Help:      "Completed monitor poll cycles.",
	}, []string{"chain"})

	// PollErrorsTotal counts failed poll cycles per chain.
	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "poll_errors_total",
		Help:      "Poll cycles that ended in a fetch error.",
	}, []string{"chain"})

	// PendingWritesTotal counts pending-store writes (suppressed writes excluded).
	PendingWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "pending_writes_total",
		Help:      "Pending-store writes that changed stored state.",
	})

	// DepositsCreditedTotal counts deposits credited to wallets.
	DepositsCreditedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "deposits_credited_total",
		Help:      "Confirmed deposits credited to user wallets.",
	}, []string{"chain"})

	// SweepsTotal counts verification sweep passes.
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "sweeps_total",
		Help:      "Verification sweep passes executed.",
	})

	// SweepAbandonedTotal counts pending entries abandoned at the attempt ceiling.
	SweepAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "depositwatch",
		Name:      "sweep_abandoned_total",
		Help:      "Pending entries deleted after exhausting verification attempts.",
	})

	// ActiveMonitors tracks live chain monitors.
	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "depositwatch",
		Name:      "active_monitors",
		Help:      "Currently live chain monitors.",
	})

	// Subscribers tracks connected deposit-event subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "depositwatch",
		Name:      "subscribers",
		Help:      "Currently connected websocket subscribers.",
	})
)
