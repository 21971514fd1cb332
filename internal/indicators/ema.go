package indicators

// EMA calculates the Exponential Moving Average series for the given
// prices. The first value is seeded with the SMA of the first period
// prices. Returns an empty slice when there is not enough data.
//
// Indicators in this package are pure functions of their input series so
// that a strategy evaluation is reproducible bar-for-bar between backtest
// and live runs.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	ema := make([]float64, 0, len(prices)-period+1)
	multiplier := 2.0 / float64(period+1)

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	prev := sum / float64(period)
	ema = append(ema, prev)

	for i := period; i < len(prices); i++ {
		curr := (prices[i]-prev)*multiplier + prev
		ema = append(ema, curr)
		prev = curr
	}
	return ema
}

// EMALatest returns the last EMA value, or 0 when there is not enough data.
func EMALatest(prices []float64, period int) float64 {
	ema := EMA(prices, period)
	if len(ema) == 0 {
		return 0
	}
	return ema[len(ema)-1]
}

// SMA calculates the Simple Moving Average of the given values.
func SMA(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
