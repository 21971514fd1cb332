package indicators

import (
	"math"

	"trader-engine/pkg/types"
)

// ATR calculates the Average True Range over the last period bars of the
// history, smoothed with a simple average. Returns 0 when there is not
// enough data.
func ATR(candles []types.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

// ATRPct returns ATR expressed as a percentage of the last close. This is
// the volatility input of the position sizer.
func ATRPct(candles []types.Candle, period int) float64 {
	atr := ATR(candles, period)
	if atr == 0 || len(candles) == 0 {
		return 0
	}
	last := candles[len(candles)-1].Close
	if last == 0 {
		return 0
	}
	return atr / last * 100
}

func trueRange(c types.Candle, prevClose float64) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prevClose)
	lc := math.Abs(c.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}
