package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики фида котировок
// ============================================================

// feedConnected - статус соединения с фидом (1=connected, 0=disconnected)
var feedConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "brokerage",
		Subsystem: "marketdata",
		Name:      "feed_connected",
		Help:      "Quote feed connection status (1=connected, 0=disconnected)",
	},
)

// feedTicksReceived - принятые тики котировок
var feedTicksReceived = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "marketdata",
		Name:      "feed_ticks_received_total",
		Help:      "Total number of quote ticks received from the feed",
	},
)

// feedReconnects - выполненные переподключения к фиду
var feedReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "marketdata",
		Name:      "feed_reconnects_total",
		Help:      "Total number of feed reconnect attempts",
	},
)
