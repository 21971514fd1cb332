package optimizer

// Ranges enumerates the candidate values each tunable simulation gene
// may take. The grid searcher walks the full Cartesian product; the
// genetic searcher samples from the same pools.
type Ranges struct {
	CommissionPcts []float64
	CandleLimits   []int
	Timeframes     []string
}

// DefaultRanges covers the commission, depth and timeframe values worth
// sweeping for short-horizon spot strategies.
func DefaultRanges() Ranges {
	return Ranges{
		CommissionPcts: []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		CandleLimits:   []int{100, 250, 500},
		Timeframes:     []string{"1m", "5m", "15m"},
	}
}

// Size is the number of grid cells the ranges span.
func (r Ranges) Size() int {
	return len(r.CommissionPcts) * len(r.CandleLimits) * len(r.Timeframes)
}
