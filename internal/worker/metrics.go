package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики воркера исполнения
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации проходов воркера
// - Alertmanager: алерты на рост errors и устаревание heartbeat
// - Анализ латентности исполнения в production

// ============ Метрики прохода ============

// PassDuration - длительность полного прохода воркера
var PassDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "brokerage",
		Subsystem: "worker",
		Name:      "pass_duration_ms",
		Help:      "Duration of a full worker pass in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// OrdersProcessed - ордера по исходу прохода
var OrdersProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "worker",
		Name:      "orders_processed_total",
		Help:      "Total number of orders processed by outcome",
	},
	[]string{"outcome"}, // executed, skipped, rejected, error
)

// ============ Метрики риска ============

// MarginUtilization - утилизация маржи по счетам
var MarginUtilization = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "brokerage",
		Subsystem: "risk",
		Name:      "margin_utilization",
		Help:      "Margin utilization fraction per account",
	},
	[]string{"account_id"},
)

// StopLossTriggered - срабатывания стоп-лосса
var StopLossTriggered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "risk",
		Name:      "stop_loss_triggered_total",
		Help:      "Number of stop loss triggers",
	},
)

// TargetTriggered - срабатывания тейк-профита
var TargetTriggered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "risk",
		Name:      "target_triggered_total",
		Help:      "Number of target triggers",
	},
)

// AutoClosedPositions - принудительно закрытые позиции
var AutoClosedPositions = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "risk",
		Name:      "auto_closed_positions_total",
		Help:      "Number of positions force-closed by margin rule",
	},
)

// RiskWarnings - отправленные предупреждения о марже
var RiskWarnings = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokerage",
		Subsystem: "risk",
		Name:      "warnings_total",
		Help:      "Number of margin warning signals emitted",
	},
)

// ============ Вспомогательные функции ============

// RecordPass записывает итоги прохода воркера
func RecordPass(durationMs float64, executed, skipped, rejected, errors int) {
	PassDuration.Observe(durationMs)
	OrdersProcessed.WithLabelValues("executed").Add(float64(executed))
	OrdersProcessed.WithLabelValues("skipped").Add(float64(skipped))
	OrdersProcessed.WithLabelValues("rejected").Add(float64(rejected))
	OrdersProcessed.WithLabelValues("error").Add(float64(errors))
}
