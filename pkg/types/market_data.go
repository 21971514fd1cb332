package types

import "time"

// Candle is one OHLCV bar for a symbol over a fixed timeframe.
// Candles are immutable once produced; a history slice is ordered by
// CloseTime, strictly increasing and gap-free.
type Candle struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	OpenTime  time.Time
	CloseTime time.Time
	Timeframe string
}

// Ticker is a point-in-time price snapshot.
type Ticker struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Balance is the free/locked amount of a single asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// SymbolRules carries the exchange-mandated quantization for a symbol.
type SymbolRules struct {
	Symbol      string
	LotStep     float64
	TickSize    float64
	MinNotional float64
}

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// AccountEvent is one entry of the exchange's per-user order event feed.
type AccountEvent struct {
	OrderRef    string
	Symbol      string
	Side        OrderSide
	Status      OrderStatus
	FilledPrice float64
	Timestamp   time.Time
}

// Closes extracts the close prices from a candle history.
func Closes(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
