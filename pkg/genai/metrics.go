// Copyright 2024-2026 Aiku AI

package genai

import "github.com/prometheus/client_golang/prometheus"

var (
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_genai_retries_total",
			Help: "Generative API retries scheduled after HTTP 429",
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_genai_requests_total",
			Help: "Generative API calls, by result",
		},
		[]string{"result"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_genai_cache_lookups_total",
			Help: "Rewrite memo cache lookups, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(retriesTotal, requestsTotal, cacheLookupsTotal)
}
