package strategy

import (
	"trader-engine/internal/indicators"
	"trader-engine/pkg/types"
)

// RsiEmaParams configures the RSI + EMA crossover strategy.
type RsiEmaParams struct {
	RsiPeriod        int     `json:"rsi_period"`
	RsiBuyThreshold  float64 `json:"rsi_buy_threshold"`
	RsiSellThreshold float64 `json:"rsi_sell_threshold"`
	EmaShort         int     `json:"ema_short"`
	EmaLong          int     `json:"ema_long"`
}

func (RsiEmaParams) Kind() Kind { return KindRsiEma }

// DefaultRsiEmaParams returns the stock parameter set.
func DefaultRsiEmaParams() RsiEmaParams {
	return RsiEmaParams{
		RsiPeriod:        14,
		RsiBuyThreshold:  30,
		RsiSellThreshold: 70,
		EmaShort:         9,
		EmaLong:          21,
	}
}

// RsiEma signals BUY when RSI is below the buy threshold while the short
// EMA is above the long EMA, and SELL on the mirrored condition. Threshold
// ties hold.
type RsiEma struct{}

// NewRsiEma creates the RSI + EMA strategy.
func NewRsiEma() *RsiEma { return &RsiEma{} }

func (*RsiEma) Kind() Kind { return KindRsiEma }

func (*RsiEma) MinBars(params Params) int {
	p, ok := params.(RsiEmaParams)
	if !ok {
		return 0
	}
	min := p.RsiPeriod + 1
	if p.EmaLong > min {
		min = p.EmaLong
	}
	return min
}

func (s *RsiEma) Evaluate(history []types.Candle, params Params) Signal {
	p, ok := params.(RsiEmaParams)
	if !ok || len(history) < s.MinBars(params) {
		return SignalHold
	}

	closes := types.Closes(history)
	rsi := indicators.RSILatest(closes, p.RsiPeriod)
	emaShort := indicators.EMALatest(closes, p.EmaShort)
	emaLong := indicators.EMALatest(closes, p.EmaLong)

	if rsi < p.RsiBuyThreshold && emaShort > emaLong {
		return SignalBuy
	}
	if rsi > p.RsiSellThreshold && emaShort < emaLong {
		return SignalSell
	}
	return SignalHold
}
