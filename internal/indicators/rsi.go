package indicators

// RSI calculates the Relative Strength Index series using Wilder's
// smoothing. The first value covers prices[0..period]; the result is empty
// when len(prices) <= period.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) <= period {
		return nil
	}

	result := make([]float64, 0, len(prices)-period)

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= period; i++ {
		diff := prices[i] - prices[i-1]
		if diff >= 0 {
			gainSum += diff
		} else {
			lossSum -= diff
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		diff := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else if diff < 0 {
			loss = -diff
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		result = append(result, rsiValue(avgGain, avgLoss))
	}

	return result
}

// RSILatest returns the last RSI value, or the neutral 50 when there is not
// enough data.
func RSILatest(prices []float64, period int) float64 {
	rsi := RSI(prices, period)
	if len(rsi) == 0 {
		return 50.0
	}
	return rsi[len(rsi)-1]
}

func rsiValue(avgGain, avgLoss float64) float64 {
	rs := 100.0
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return 100 - (100 / (1 + rs))
}
