package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Total number of live trades executed",
		},
		[]string{"symbol", "side"},
	)

	tradePnl = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_trade_pnl",
			Help:    "Distribution of realized PnL per closed trade, in quote units",
			Buckets: []float64{-100, -50, -20, -5, -1, 0, 1, 5, 20, 50, 100},
		},
		[]string{"symbol"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Strategy signals emitted, by strategy kind and direction",
		},
		[]string{"kind", "signal"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of currently open positions",
		},
	)

	unprotectedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_unprotected_positions",
			Help: "Open positions whose protective exit legs failed to arm",
		},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_current_price",
			Help: "Latest observed price per symbol",
		},
		[]string{"symbol"},
	)

	streamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_stream_reconnects_total",
			Help: "Market and account stream reconnections",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_errors_total",
			Help: "Errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(tradePnl)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(unprotectedPositions)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(streamReconnects)
	prometheus.MustRegister(errorsTotal)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrade counts one executed order.
func RecordTrade(symbol, side string) {
	tradesTotal.WithLabelValues(symbol, side).Inc()
}

// RecordClosedTrade observes the realized PnL of a finished round trip.
func RecordClosedTrade(symbol string, pnl float64) {
	tradePnl.WithLabelValues(symbol).Observe(pnl)
}

// RecordSignal counts one strategy evaluation outcome.
func RecordSignal(kind, signal string) {
	signalsTotal.WithLabelValues(kind, signal).Inc()
}

// SetOpenPositions tracks the live position count.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// PositionUnprotected adjusts the unprotected position gauge.
func PositionUnprotected(delta int) {
	unprotectedPositions.Add(float64(delta))
}

// UpdatePrice records the latest price seen on the candle stream.
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordReconnect counts one stream redial.
func RecordReconnect() {
	streamReconnects.Inc()
}

// RecordError counts one error by its category string.
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
