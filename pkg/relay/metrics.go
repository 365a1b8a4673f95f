// Copyright 2024-2026 Aiku AI

package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	postsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_posts_total",
			Help: "Inbound posts processed, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatch_total",
			Help: "Per-destination send attempts, by result",
		},
		[]string{"result"},
	)

	pendingPosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_pending_posts",
			Help: "Image posts waiting for an operator decision",
		},
	)

	pendingExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_pending_expired_total",
			Help: "Pending posts evicted before an operator decision",
		},
	)
)

func init() {
	prometheus.MustRegister(postsTotal, dispatchTotal, pendingPosts, pendingExpiredTotal)
}
