package cachefilter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks lookup outcomes by result
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_filter_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "bypass"
	)

	// ServedBytes tracks body bytes served from cache
	ServedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_filter_served_bytes_total",
			Help: "Total number of response body bytes served from cache",
		},
	)

	// Inserts tracks responses offered to the cache
	Inserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_filter_inserts_total",
			Help: "Total number of responses offered to the cache for storage",
		},
	)

	// ContractViolations tracks exchanges aborted because of backend misbehavior
	ContractViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_filter_contract_violations_total",
			Help: "Total number of cache backend contract violations",
		},
		[]string{"reason"}, // "unsupported_status", "missing_body", "oversized_body", ...
	)
)
