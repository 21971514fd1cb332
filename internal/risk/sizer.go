package risk

import (
	"math"

	"trader-engine/pkg/types"
)

// Profile is a user's risk configuration. Percentages are whole percent
// values (2.0 means 2%). The engine reads a Profile but never mutates it;
// only user configuration updates do.
type Profile struct {
	UserID           int64
	RiskPct          float64
	MaxDrawdownPct   float64
	MaxOpenPositions int
	CooldownSeconds  int
	SlippagePct      float64
	Leverage         int
	OrderTypePref    string
	TakeProfitPct    float64
	StopLossPct      float64
	NotificationsOn  bool
	BalanceAsset     string
}

// DefaultProfile returns a conservative stock risk profile.
func DefaultProfile(userID int64) Profile {
	return Profile{
		UserID:           userID,
		RiskPct:          2.0,
		MaxDrawdownPct:   10.0,
		MaxOpenPositions: 3,
		CooldownSeconds:  300,
		SlippagePct:      0.1,
		Leverage:         1,
		OrderTypePref:    "MARKET",
		TakeProfitPct:    2.0,
		StopLossPct:      1.0,
		BalanceAsset:     "USDT",
	}
}

// PositionSize is the sizing outcome for one prospective entry.
type PositionSize struct {
	Quantity      float64
	MaxLossAmount float64
}

// SizePosition converts balance, risk percentage, volatility and entry
// price into an executable raw quantity (not yet quantized).
//
// riskBudget = freeBalance × riskPct; stopDistance = volatilityPct ×
// entryPrice; quantity = riskBudget / stopDistance, capped so that
// quantity × entryPrice never exceeds the risk budget. MaxLossAmount is
// the drawdown cap in quote units.
func SizePosition(freeBalance, riskPct, volatilityPct, maxDrawdownPct, entryPrice float64) PositionSize {
	if freeBalance <= 0 || riskPct <= 0 || entryPrice <= 0 {
		return PositionSize{}
	}

	riskBudget := freeBalance * riskPct / 100.0
	maxLoss := freeBalance * maxDrawdownPct / 100.0

	qty := riskBudget / entryPrice
	if volatilityPct > 0 {
		stopDistance := entryPrice * volatilityPct / 100.0
		qty = riskBudget / stopDistance
		if maxQty := riskBudget / entryPrice; qty > maxQty {
			qty = maxQty
		}
	}

	return PositionSize{Quantity: qty, MaxLossAmount: maxLoss}
}

// TrimFraction returns the fraction of the position to liquidate as the
// current drawdown approaches the configured cap, clamped to [0, 1].
func TrimFraction(currentDrawdown, maxDrawdown float64) float64 {
	absDraw := math.Abs(currentDrawdown)
	if absDraw <= 0 || maxDrawdown <= 0 {
		return 0
	}
	frac := absDraw / maxDrawdown
	if frac > 1 {
		return 1
	}
	return frac
}

// FloorToStep floors a value down to an exact multiple of step. Flooring,
// never rounding up, keeps a sized order within its risk budget.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	// The epsilon absorbs binary-representation wobble for values that are
	// already exact multiples of the step.
	return math.Floor(value/step+1e-9) * step
}

// QuantizeQuantity floors a raw quantity to the symbol's lot step and
// validates it against the exchange minimums. ok is false when the order
// must be rejected as a no-op (below one lot, or below minimum notional).
func QuantizeQuantity(rawQty, entryPrice float64, rules types.SymbolRules) (qty float64, ok bool) {
	qty = FloorToStep(rawQty, rules.LotStep)
	if qty <= 0 || (rules.LotStep > 0 && qty < rules.LotStep) {
		return 0, false
	}
	if rules.MinNotional > 0 && qty*entryPrice < rules.MinNotional {
		return 0, false
	}
	return qty, true
}

// ExitPrices derives the take-profit and stop-loss prices from the entry
// price and the pair's configured percentages, floored to the symbol's
// price tick.
func ExitPrices(entryPrice, tpPct, slPct float64, rules types.SymbolRules) (tp, sl float64) {
	tp = FloorToStep(entryPrice*(1+tpPct/100.0), rules.TickSize)
	sl = FloorToStep(entryPrice*(1-slPct/100.0), rules.TickSize)
	return tp, sl
}
