// Package exchange abstracts the venues the trading loop runs against.
// Binance is the primary implementation with full streaming support;
// Bybit covers REST trading for accounts held there.
package exchange

import (
	"context"

	"trader-engine/pkg/types"
)

// OrderResult is the venue's acknowledgment of a single placed order.
type OrderResult struct {
	OrderRef string
	Symbol   string
	Side     types.OrderSide
	Quantity float64
	Price    float64
	Status   types.OrderStatus
}

// OCORefs identifies both legs of a protective one-cancels-other pair.
type OCORefs struct {
	ListRef       string
	TakeProfitRef string
	StopLossRef   string
	TakeProfit    float64
	StopLoss      float64
}

// Exchange is the full venue surface the engine needs: market data,
// account state, order entry and event streams. Quantities and prices
// are venue-quantized by the caller before any Place call.
type Exchange interface {
	Name() string

	GetSymbolRules(ctx context.Context, symbol string) (types.SymbolRules, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, asset string) (types.Balance, error)
	GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)

	PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error)
	// PlaceOCOSell arms both protective exits for an open long. Venues
	// without native OCO return an ErrOCOUnsupported-wrapped error.
	PlaceOCOSell(ctx context.Context, symbol string, quantity, takeProfit, stopLoss float64, clientRef string) (OCORefs, error)
	// CancelOpenOrders removes every resting order on the symbol, used
	// to clear protective legs before a manual or signal-driven exit.
	CancelOpenOrders(ctx context.Context, symbol string) error

	// SubscribeKlines streams closed candles for the symbols. The
	// channel is bounded; when the consumer lags, the oldest buffered
	// candle is dropped so the stream always favors fresh data.
	SubscribeKlines(ctx context.Context, symbols []string, timeframe string) (<-chan types.Candle, error)
	// SubscribeAccountEvents streams the user's order fill events.
	SubscribeAccountEvents(ctx context.Context) (<-chan types.AccountEvent, error)
}

// ClockSyncer is implemented by venues whose signed requests need the
// local clock offset measured against the server.
type ClockSyncer interface {
	SyncTime(ctx context.Context) error
}
