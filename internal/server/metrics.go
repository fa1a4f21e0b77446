package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	purchasesTotal   *prometheus.CounterVec
	purchaseDuration *prometheus.HistogramVec
	rateLimitedTotal prometheus.Counter
	treasuryBalance  prometheus.Gauge
	dlqDepth         prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mzlx_purchases_total",
		Help: "Purchase requests by outcome and reason",
	}, []string{"outcome", "reason"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mzlx_purchase_duration_seconds",
		Help:    "Time from request to purchase response",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mzlx_purchase_rate_limited_total",
		Help: "Purchase requests refused by the rate limiter",
	})

	balance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mzlx_treasury_balance",
		Help: "Treasury MZLX balance at the last health check, in whole tokens",
	})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mzlx_reconciliation_dlq_depth",
		Help: "Number of payouts waiting for reconciliation",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(purchases, duration, limited, balance, dlq)

	return &metricsRegistry{
		registry:         r,
		purchasesTotal:   purchases,
		purchaseDuration: duration,
		rateLimitedTotal: limited,
		treasuryBalance:  balance,
		dlqDepth:         dlq,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observePurchase(outcome, reason string, started time.Time) {
	m.purchasesTotal.WithLabelValues(outcome, reason).Inc()
	m.purchaseDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func (m *metricsRegistry) incRateLimited() {
	m.rateLimitedTotal.Inc()
}

func (m *metricsRegistry) setTreasuryBalance(v float64) {
	m.treasuryBalance.Set(v)
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}
