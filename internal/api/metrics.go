package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/pkg/types"
)

// Metrics holds the Prometheus instrumentation for the simulation
// server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	simulations  *prometheus.CounterVec
	simDuration  *prometheus.HistogramVec
	sweepSymbols *prometheus.CounterVec
}

// NewMetrics registers the collectors with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		simulations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradingsim",
			Name:      "simulations_total",
			Help:      "Simulations run, by policy and status.",
		}, []string{"policy", "status"}),
		simDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tradingsim",
			Name:      "simulation_duration_seconds",
			Help:      "Wall time of a single simulation run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"policy"}),
		sweepSymbols: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradingsim",
			Name:      "sweep_symbols_total",
			Help:      "Symbols evaluated in market sweeps, by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveSimulation records one finished simulation.
func (m *Metrics) ObserveSimulation(policy types.PolicyKind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(string(policy), status).Inc()
	if status == "ok" {
		m.simDuration.WithLabelValues(string(policy)).Observe(elapsed.Seconds())
	}
}

// ObserveSweepSymbol records one per-symbol sweep outcome.
func (m *Metrics) ObserveSweepSymbol(outcome types.SymbolOutcome) {
	if m == nil {
		return
	}
	switch {
	case outcome.Failed:
		m.sweepSymbols.WithLabelValues("failed").Inc()
	case outcome.Return > 0:
		m.sweepSymbols.WithLabelValues("win").Inc()
	default:
		m.sweepSymbols.WithLabelValues("loss").Inc()
	}
}

// ServeMetrics exposes /metrics on its own port. It blocks, so run it
// in a goroutine.
func ServeMetrics(logger *zap.Logger, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
