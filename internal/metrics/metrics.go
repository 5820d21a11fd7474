// Package metrics exposes Prometheus counters for the trading pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newstrader_executions_total", Help: "Signal executions by outcome"},
		[]string{"outcome"},
	)
	PositionClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newstrader_position_closes_total", Help: "Positions closed by reason"},
		[]string{"reason"},
	)
	BrokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newstrader_broker_errors_total", Help: "Broker call failures by class"},
		[]string{"broker", "class"},
	)
	ReconciledOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "newstrader_reconciled_orders_total", Help: "Pending orders resolved by reconciliation"},
		[]string{"result"},
	)
	ExitCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "newstrader_exit_cycles_total", Help: "Exit sweep cycles completed"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		PositionClosesTotal,
		BrokerErrorsTotal,
		ReconciledOrdersTotal,
		ExitCyclesTotal,
	)
}
