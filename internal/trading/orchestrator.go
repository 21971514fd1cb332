package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trader-engine/internal/backtest"
	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/exchange"
	"trader-engine/internal/indicators"
	"trader-engine/internal/logger"
	"trader-engine/internal/monitoring"
	"trader-engine/internal/risk"
	"trader-engine/internal/store"
	"trader-engine/pkg/types"
)

const volatilityPeriod = 14

// Orchestrator executes the order sequence behind every signal: sizing
// and reservation, the entry leg, then the protective OCO legs. A
// failed entry leg rolls the reservation back; a failed protective leg
// keeps the position and escalates, because an unprotected position is
// worse than a noisy one.
type Orchestrator struct {
	ex       exchange.Exchange
	st       *store.Store
	candles  backtest.CandleSource
	notifier Notifier
	log      *logger.Logger

	onClose func(userID int64, symbol string, pnl float64)

	mu          sync.Mutex
	unprotected map[string]bool
}

func NewOrchestrator(ex exchange.Exchange, st *store.Store, candles backtest.CandleSource, notifier Notifier, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Orchestrator{
		ex:          ex,
		st:          st,
		candles:     candles,
		notifier:    notifier,
		log:         log,
		unprotected: make(map[string]bool),
	}
}

// SetOnClose registers a callback fired after every position close,
// used by the state controller to start cooldowns.
func (o *Orchestrator) SetOnClose(fn func(userID int64, symbol string, pnl float64)) {
	o.onClose = fn
}

// OpenPosition runs the full entry sequence for a BUY signal. An
// already-open position or exhausted position budget is a quiet no-op;
// sizing rejections and leg failures come back as errors.
func (o *Orchestrator) OpenPosition(ctx context.Context, profile risk.Profile, pair store.Pair) error {
	open, err := o.st.ListOpenTrades(ctx, profile.UserID)
	if err != nil {
		return err
	}
	if len(open) >= profile.MaxOpenPositions {
		o.log.Debug("user %d at position limit (%d), skipping %s entry",
			profile.UserID, profile.MaxOpenPositions, pair.Symbol)
		return nil
	}

	rules, err := o.ex.GetSymbolRules(ctx, pair.Symbol)
	if err != nil {
		return err
	}
	price, err := o.ex.GetPrice(ctx, pair.Symbol)
	if err != nil {
		return err
	}
	balance, err := o.ex.GetBalance(ctx, profile.BalanceAsset)
	if err != nil {
		return err
	}

	volPct := o.volatilityPct(ctx, pair, profile)
	size := risk.SizePosition(balance.Free, profile.RiskPct, volPct, profile.MaxDrawdownPct, price)
	quantity, ok := risk.QuantizeQuantity(size.Quantity, price, rules)
	if !ok {
		return traderrors.NewSizingRejection("orchestrator",
			fmt.Sprintf("%s: %.8f below venue minimums", pair.Symbol, size.Quantity))
	}

	tpPct, slPct := exitPercentages(pair, profile)
	takeProfit, stopLoss := risk.ExitPrices(price, tpPct, slPct, rules)

	rec := store.TradeRecord{
		ID:              uuid.NewString(),
		UserID:          profile.UserID,
		Symbol:          pair.Symbol,
		Side:            types.OrderSideBuy,
		Quantity:        quantity,
		EntryPrice:      price,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		EntryOrderRef:   exchange.NewClientRef(),
		OpenedAt:        time.Now().UTC(),
	}
	if err := o.st.ReserveOpenTrade(ctx, rec); err != nil {
		if errors.Is(err, store.ErrPositionOpen) {
			o.log.Debug("user %d already holds %s, ignoring buy", profile.UserID, pair.Symbol)
			return nil
		}
		return err
	}

	buy, err := o.ex.PlaceMarketBuy(ctx, pair.Symbol, quantity, rec.EntryOrderRef)
	if err != nil {
		if releaseErr := o.st.ReleaseReservation(ctx, rec.ID); releaseErr != nil {
			o.log.Error("could not release reservation %s: %v", rec.ID, releaseErr)
		}
		monitoring.RecordError(string(traderrors.CategoryEntryLeg))
		return traderrors.NewEntryLegError("orchestrator", pair.Symbol, err)
	}

	entryPrice := buy.Price
	if entryPrice <= 0 {
		entryPrice = price
	}
	filledQty := buy.Quantity
	if filledQty <= 0 {
		filledQty = quantity
	}
	takeProfit, stopLoss = risk.ExitPrices(entryPrice, tpPct, slPct, rules)
	if err := o.st.FinalizeEntry(ctx, rec.ID, filledQty, entryPrice, takeProfit, stopLoss, rec.EntryOrderRef); err != nil {
		o.log.Error("finalize entry %s: %v", rec.ID, err)
	}

	monitoring.RecordTrade(pair.Symbol, string(types.OrderSideBuy))
	o.log.LogEntry(profile.UserID, pair.Symbol, filledQty, entryPrice, takeProfit, stopLoss, rec.EntryOrderRef)

	refs, err := o.ex.PlaceOCOSell(ctx, pair.Symbol, filledQty, takeProfit, stopLoss, exchange.NewClientRef())
	if err != nil {
		o.markUnprotected(profile.UserID, pair.Symbol, true)
		monitoring.RecordError(string(traderrors.CategoryProtectiveLeg))
		o.notifier.Notify(profile.UserID, fmt.Sprintf(
			"URGENT: %s position is open without protective exits (%v). Fallback monitoring engaged.",
			pair.Symbol, err))
		return traderrors.NewProtectiveLegError("orchestrator", pair.Symbol, err)
	}
	// The reconciler matches venue exit fills against these references,
	// so losing them would orphan the position on the ledger.
	if err := o.st.SetProtectiveRefs(ctx, rec.ID, refs.TakeProfitRef, refs.StopLossRef); err != nil {
		o.log.Error("persist protective refs %s: %v", rec.ID, err)
	}

	o.notifier.Notify(profile.UserID, fmt.Sprintf(
		"Opened %s: qty %.8f @ %.8f, TP %.8f / SL %.8f",
		pair.Symbol, filledQty, entryPrice, takeProfit, stopLoss))
	return nil
}

// ClosePosition unwinds the open position on symbol, if any. Used for
// SELL signals and manual stops. Returns whether a position was closed.
func (o *Orchestrator) ClosePosition(ctx context.Context, userID int64, symbol, reason string) (bool, error) {
	rec, found, err := o.st.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := o.CloseOpenTrade(ctx, rec, reason); err != nil {
		return false, err
	}
	return true, nil
}

// CloseAll unwinds every open position of the user.
func (o *Orchestrator) CloseAll(ctx context.Context, userID int64, reason string) (int, error) {
	open, err := o.st.ListOpenTrades(ctx, userID)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, rec := range open {
		if err := o.CloseOpenTrade(ctx, rec, reason); err != nil {
			o.log.Error("close %s failed: %v", rec.Symbol, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// CloseOpenTrade cancels any resting protective legs, market-sells the
// position and settles the ledger. Shared by the signal path and the
// fallback monitor.
func (o *Orchestrator) CloseOpenTrade(ctx context.Context, rec store.TradeRecord, reason string) error {
	if err := o.ex.CancelOpenOrders(ctx, rec.Symbol); err != nil {
		o.log.Warn("cancel open orders on %s: %v", rec.Symbol, err)
	}

	exitRef := exchange.NewClientRef()
	sell, err := o.ex.PlaceMarketSell(ctx, rec.Symbol, rec.Quantity, exitRef)
	if err != nil {
		monitoring.RecordError(string(traderrors.CategoryExchange))
		return traderrors.Wrap(traderrors.CategoryExchange, "orchestrator", "market_sell", err)
	}
	exitPrice := sell.Price
	if exitPrice <= 0 {
		if p, perr := o.ex.GetPrice(ctx, rec.Symbol); perr == nil {
			exitPrice = p
		}
	}

	pnl := (exitPrice - rec.EntryPrice) * rec.Quantity
	if err := o.st.CloseTrade(ctx, rec.UserID, rec.Symbol, exitRef, exitPrice, pnl); err != nil {
		return err
	}
	o.settleClose(rec.UserID, rec.Symbol, rec.Quantity, exitPrice, pnl, reason)
	return nil
}

// SettleExternalFill records a close that already happened on the
// venue (an OCO leg filled). No orders are placed.
func (o *Orchestrator) SettleExternalFill(ctx context.Context, rec store.TradeRecord, exitRef string, exitPrice float64, reason string) error {
	pnl := (exitPrice - rec.EntryPrice) * rec.Quantity
	if err := o.st.CloseTrade(ctx, rec.UserID, rec.Symbol, exitRef, exitPrice, pnl); err != nil {
		return err
	}
	o.settleClose(rec.UserID, rec.Symbol, rec.Quantity, exitPrice, pnl, reason)
	return nil
}

func (o *Orchestrator) settleClose(userID int64, symbol string, qty, exitPrice, pnl float64, reason string) {
	o.markUnprotected(userID, symbol, false)
	monitoring.RecordTrade(symbol, string(types.OrderSideSell))
	monitoring.RecordClosedTrade(symbol, pnl)
	o.log.LogExit(userID, symbol, qty, exitPrice, pnl, reason)
	o.notifier.Notify(userID, fmt.Sprintf("Closed %s (%s): pnl %.4f", symbol, reason, pnl))
	if o.onClose != nil {
		o.onClose(userID, symbol, pnl)
	}
}

// IsUnprotected reports whether the position's protective legs failed
// to arm.
func (o *Orchestrator) IsUnprotected(userID int64, symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unprotected[unprotectedKey(userID, symbol)]
}

func (o *Orchestrator) markUnprotected(userID int64, symbol string, flag bool) {
	key := unprotectedKey(userID, symbol)
	o.mu.Lock()
	defer o.mu.Unlock()
	if flag && !o.unprotected[key] {
		o.unprotected[key] = true
		monitoring.PositionUnprotected(1)
	} else if !flag && o.unprotected[key] {
		delete(o.unprotected, key)
		monitoring.PositionUnprotected(-1)
	}
}

func unprotectedKey(userID int64, symbol string) string {
	return fmt.Sprintf("%d|%s", userID, symbol)
}

// volatilityPct estimates recent volatility for sizing, falling back
// to the configured stop distance when history is too thin for an ATR.
func (o *Orchestrator) volatilityPct(ctx context.Context, pair store.Pair, profile risk.Profile) float64 {
	if o.candles != nil {
		history, err := o.candles.LoadHistory(ctx, pair.Symbol, "1m", volatilityPeriod*2)
		if err == nil {
			if atr := indicators.ATRPct(history, volatilityPeriod); atr > 0 {
				return atr
			}
		}
	}
	_, slPct := exitPercentages(pair, profile)
	return slPct
}

func exitPercentages(pair store.Pair, profile risk.Profile) (tpPct, slPct float64) {
	tpPct = pair.TakeProfitPct
	if tpPct <= 0 {
		tpPct = profile.TakeProfitPct
	}
	slPct = pair.StopLossPct
	if slPct <= 0 {
		slPct = profile.StopLossPct
	}
	return tpPct, slPct
}
