// Package metrics holds the node's Prometheus collectors, registered on a
// private registry rather than the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ccr"

// Metrics is one set of collectors bound to a registry.
type Metrics struct {
	Registry *prometheus.Registry

	Calls         *prometheus.CounterVec
	Rejects       *prometheus.CounterVec
	Redeemed      prometheus.Counter
	RedeemedMicro prometheus.Counter
	CallDuration  *prometheus.HistogramVec
	Transactions  *prometheus.CounterVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_calls_total",
			Help:      "Contract entry point calls by entry point and outcome.",
		}, []string{"entrypoint", "outcome"}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_rejects_total",
			Help:      "Contract rejects by reason.",
		}, []string{"reason"}),
		Redeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_redeemed_total",
			Help:      "Coins redeemed.",
		}),
		RedeemedMicro: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeemed_microccd_total",
			Help:      "MicroCCD paid out by redemptions.",
		}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "contract_call_seconds",
			Help:      "Duration of contract calls including storage commit.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"entrypoint"}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abci_transactions_total",
			Help:      "Transactions seen by the ABCI application by phase and result code.",
		}, []string{"phase", "code"}),
	}
	m.Registry.MustRegister(
		m.Calls, m.Rejects, m.Redeemed, m.RedeemedMicro, m.CallDuration, m.Transactions,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveCall records one contract call. reason is empty on success.
func (m *Metrics) ObserveCall(entrypoint, reason string, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if reason != "" {
		outcome = "rejected"
		m.Rejects.WithLabelValues(reason).Inc()
	}
	m.Calls.WithLabelValues(entrypoint, outcome).Inc()
	m.CallDuration.WithLabelValues(entrypoint).Observe(took.Seconds())
}

// ObserveRedeem records a successful payout.
func (m *Metrics) ObserveRedeem(amount uint64) {
	if m == nil {
		return
	}
	m.Redeemed.Inc()
	m.RedeemedMicro.Add(float64(amount))
}

// ObserveTx records an ABCI transaction result.
func (m *Metrics) ObserveTx(phase string, code uint32) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(phase, codeLabel(code)).Inc()
}

func codeLabel(code uint32) string {
	switch code {
	case 0:
		return "ok"
	case 1:
		return "encoding"
	case 2:
		return "auth"
	case 3:
		return "invalid"
	case 4:
		return "rejected"
	}
	return "other"
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
