// Package metrics exposes the engine's Prometheus instruments. The registry is
// created once per process; a nil *EngineMetrics is a valid no-op receiver.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics struct {
	ledgerCalls     *prometheus.CounterVec
	ledgerLatency   *prometheus.HistogramVec
	readings        *prometheus.CounterVec
	trades          *prometheus.CounterVec
	listings        *prometheus.CounterVec
	accountsCreated prometheus.Counter
	energyMinted    prometheus.Counter
	energyBurned    prometheus.Counter
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "energy_ledger_calls_total",
				Help: "Ledger gateway calls by operation and outcome.",
			}, []string{"operation", "outcome"}),
			ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "energy_ledger_call_duration_seconds",
				Help:    "Ledger gateway call latency by operation.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			readings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "energy_meter_readings_total",
				Help: "Meter readings processed by resulting action.",
			}, []string{"action"}),
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "energy_trades_total",
				Help: "Trades executed by final state.",
			}, []string{"state"}),
			listings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "energy_listing_transitions_total",
				Help: "Listing state transitions by target state.",
			}, []string{"state"}),
			accountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "energy_accounts_created_total",
				Help: "Ledger accounts provisioned for wallets.",
			}),
			energyMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "energy_minted_kwh_total",
				Help: "Energy minted from production readings, in kWh.",
			}),
			energyBurned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "energy_burned_kwh_total",
				Help: "Energy burned from consumption readings, in kWh.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.ledgerCalls,
			engineRegistry.ledgerLatency,
			engineRegistry.readings,
			engineRegistry.trades,
			engineRegistry.listings,
			engineRegistry.accountsCreated,
			engineRegistry.energyMinted,
			engineRegistry.energyBurned,
		)
	})
	return engineRegistry
}

func (m *EngineMetrics) ObserveLedgerCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(operation, outcome).Inc()
	m.ledgerLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) ObserveReading(action string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(action).Inc()
}

func (m *EngineMetrics) ObserveTrade(state string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(state).Inc()
}

func (m *EngineMetrics) ObserveListing(state string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(state).Inc()
}

func (m *EngineMetrics) ObserveAccountCreated() {
	if m == nil {
		return
	}
	m.accountsCreated.Inc()
}

func (m *EngineMetrics) AddMinted(kwh float64) {
	if m == nil {
		return
	}
	m.energyMinted.Add(kwh)
}

func (m *EngineMetrics) AddBurned(kwh float64) {
	if m == nil {
		return
	}
	m.energyBurned.Add(kwh)
}
