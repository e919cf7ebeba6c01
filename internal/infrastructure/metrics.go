package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "coin_trader"

// Metrics is registered on its own registry so several sessions (and tests)
// never collide on the default one. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted   *prometheus.CounterVec
	orderLatency      *prometheus.HistogramVec
	feedFetches       *prometheus.CounterVec
	feedFailureStreak prometheus.Gauge
	lastTradePrice    *prometheus.GaugeVec
	conditionalOrders *prometheus.GaugeVec
	conditionalFired  *prometheus.CounterVec
	registryRunning   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ordersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total number of order submissions by source and result",
		}, []string{"source", "side", "result"}),
		orderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "submit_latency_ms",
			Help:      "Time to submit an order to the exchange in milliseconds",
			Buckets:   []float64{25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
		}, []string{"source"}),
		feedFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "price_feed",
			Name:      "fetches_total",
			Help:      "Total number of ticker fetches by result",
		}, []string{"market", "result"}),
		feedFailureStreak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "price_feed",
			Name:      "consecutive_failures",
			Help:      "Number of ticker fetches failed in a row",
		}),
		lastTradePrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "price_feed",
			Name:      "last_trade_price",
			Help:      "Last observed trade price",
		}, []string{"market"}),
		conditionalOrders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "conditional",
			Name:      "orders",
			Help:      "Number of conditional orders by state",
		}, []string{"state"}),
		conditionalFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conditional",
			Name:      "fired_total",
			Help:      "Total number of conditional orders fired by result",
		}, []string{"side", "result"}),
		registryRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "conditional",
			Name:      "registry_running",
			Help:      "Registry state (1=running, 0=stopped)",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOrderSubmitted(source, side string, ok bool, latencyMs float64) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(source, side, resultLabel(ok)).Inc()
	m.orderLatency.WithLabelValues(source).Observe(latencyMs)
}

func (m *Metrics) ObserveFeedFetch(market string, ok bool, consecutiveFailures int) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(market, resultLabel(ok)).Inc()
	m.feedFailureStreak.Set(float64(consecutiveFailures))
}

func (m *Metrics) SetLastTradePrice(market string, price float64) {
	if m == nil {
		return
	}
	m.lastTradePrice.WithLabelValues(market).Set(price)
}

func (m *Metrics) SetConditionalOrders(countByState map[string]int) {
	if m == nil {
		return
	}
	m.conditionalOrders.Reset()
	for state, count := range countByState {
		m.conditionalOrders.WithLabelValues(state).Set(float64(count))
	}
}

func (m *Metrics) ObserveConditionalFired(side string, ok bool) {
	if m == nil {
		return
	}
	m.conditionalFired.WithLabelValues(side, resultLabel(ok)).Inc()
}

func (m *Metrics) SetRegistryRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.registryRunning.Set(1)
		return
	}
	m.registryRunning.Set(0)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
