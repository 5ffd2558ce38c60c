// Package metrics holds the Prometheus collectors exported by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_wagers_total",
		Help: "Wagers by final state",
	}, []string{"state", "tier"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_risk_rejects_total",
		Help: "Total risk manager rejections",
	}, []string{"reason"})

	AutoShutdowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_engine_auto_shutdowns_total",
		Help: "Times the risk manager disabled the game",
	})

	ManipulatedOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_manipulated_outcomes_total",
		Help: "Outcomes decided by a manipulation mode",
	}, []string{"mode", "changed"})

	AuditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_engine_audit_failures_total",
		Help: "Failed audit writes",
	}, []string{"tier"})

	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_engine_settlement_seconds",
		Help:    "Settlement transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_engine_http_request_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// RegisterPoolGauges exports database pool usage, polled on every scrape.
func RegisterPoolGauges(stats func() (total, idle, acquired int32)) {
	gauge := func(name, help string, pick func(total, idle, acquired int32) int32) {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, func() float64 {
			return float64(pick(stats()))
		})
	}
	gauge("wager_engine_db_conns_total", "Open database connections",
		func(total, _, _ int32) int32 { return total })
	gauge("wager_engine_db_conns_idle", "Idle database connections",
		func(_, idle, _ int32) int32 { return idle })
	gauge("wager_engine_db_conns_acquired", "Database connections in use",
		func(_, _, acquired int32) int32 { return acquired })
}
