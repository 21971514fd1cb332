package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/exchange"
	"trader-engine/internal/logger"
	"trader-engine/internal/risk"
	"trader-engine/internal/store"
	"trader-engine/internal/strategy"
	"trader-engine/pkg/types"
)

// mockExchange satisfies the full venue surface with canned responses.
type mockExchange struct {
	mu sync.Mutex

	price    float64
	priceErr error
	balance  float64
	rules    types.SymbolRules
	klines   []types.Candle

	buyPrice  float64
	buyErr    error
	sellPrice float64
	sellErr   error
	ocoErr    error

	buyCalls    int
	sellCalls   int
	ocoCalls    int
	cancelCalls int
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		price:     100.0,
		balance:   1000.0,
		buyPrice:  100.5,
		sellPrice: 100.5,
		rules: types.SymbolRules{
			LotStep:     0.001,
			TickSize:    0.01,
			MinNotional: 10,
		},
	}
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) GetSymbolRules(_ context.Context, symbol string) (types.SymbolRules, error) {
	rules := m.rules
	rules.Symbol = symbol
	return rules, nil
}

func (m *mockExchange) GetPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, m.priceErr
}

func (m *mockExchange) GetBalance(_ context.Context, asset string) (types.Balance, error) {
	return types.Balance{Asset: asset, Free: m.balance}, nil
}

func (m *mockExchange) GetKlines(_ context.Context, _ string, _ string, _ int) ([]types.Candle, error) {
	return m.klines, nil
}

func (m *mockExchange) PlaceMarketBuy(_ context.Context, symbol string, quantity float64, clientRef string) (exchange.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyCalls++
	if m.buyErr != nil {
		return exchange.OrderResult{}, m.buyErr
	}
	return exchange.OrderResult{
		OrderRef: clientRef,
		Symbol:   symbol,
		Side:     types.OrderSideBuy,
		Quantity: quantity,
		Price:    m.buyPrice,
		Status:   types.OrderStatusFilled,
	}, nil
}

func (m *mockExchange) PlaceMarketSell(_ context.Context, symbol string, quantity float64, clientRef string) (exchange.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellCalls++
	if m.sellErr != nil {
		return exchange.OrderResult{}, m.sellErr
	}
	return exchange.OrderResult{
		OrderRef: clientRef,
		Symbol:   symbol,
		Side:     types.OrderSideSell,
		Quantity: quantity,
		Price:    m.sellPrice,
		Status:   types.OrderStatusFilled,
	}, nil
}

func (m *mockExchange) PlaceOCOSell(_ context.Context, _ string, _, takeProfit, stopLoss float64, _ string) (exchange.OCORefs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ocoCalls++
	if m.ocoErr != nil {
		return exchange.OCORefs{}, m.ocoErr
	}
	return exchange.OCORefs{
		ListRef:       fmt.Sprintf("oco-list-%d", m.ocoCalls),
		TakeProfitRef: fmt.Sprintf("oco-tp-%d", m.ocoCalls),
		StopLossRef:   fmt.Sprintf("oco-sl-%d", m.ocoCalls),
		TakeProfit:    takeProfit,
		StopLoss:      stopLoss,
	}, nil
}

func (m *mockExchange) CancelOpenOrders(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	return nil
}

func (m *mockExchange) SubscribeKlines(_ context.Context, _ []string, _ string) (<-chan types.Candle, error) {
	ch := make(chan types.Candle)
	close(ch)
	return ch, nil
}

func (m *mockExchange) SubscribeAccountEvents(_ context.Context) (<-chan types.AccountEvent, error) {
	ch := make(chan types.AccountEvent)
	close(ch)
	return ch, nil
}

func (m *mockExchange) counts() (buys, sells, ocos, cancels int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyCalls, m.sellCalls, m.ocoCalls, m.cancelCalls
}

func (m *mockExchange) setPrice(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = p
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testPair() store.Pair {
	return store.Pair{UserID: 1, Symbol: "BTCUSDT", TakeProfitPct: 2.0, StopLossPct: 1.0, Active: true}
}

func newTestOrchestrator(ex exchange.Exchange, st *store.Store) *Orchestrator {
	return NewOrchestrator(ex, st, nil, nil, logger.NewDiscardLogger())
}

// captureNotifier records messages for assertions.
type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureNotifier) Notify(_ int64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message)
}

func (c *captureNotifier) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestOpenPosition_FullEntrySequence(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	err := orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair())
	require.NoError(t, err)

	rec, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)

	// risk budget 20 USDT over a 1% stop caps the quantity at 0.2.
	assert.InDelta(t, 0.2, rec.Quantity, 1e-9)
	assert.InDelta(t, 100.5, rec.EntryPrice, 1e-9, "exits rebased on the actual fill")
	assert.InDelta(t, 102.51, rec.TakeProfitPrice, 0.011)
	assert.InDelta(t, 99.49, rec.StopLossPrice, 0.011)
	assert.NotEmpty(t, rec.EntryOrderRef)
	assert.Equal(t, "oco-tp-1", rec.TpOrderRef, "both protective refs are persisted")
	assert.Equal(t, "oco-sl-1", rec.SlOrderRef)

	buys, _, ocos, _ := mock.counts()
	assert.Equal(t, 1, buys)
	assert.Equal(t, 1, ocos)
	assert.False(t, orch.IsUnprotected(1, "BTCUSDT"))
}

func TestOpenPosition_EntryFailureReleasesReservation(t *testing.T) {
	mock := newMockExchange()
	mock.buyErr = errors.New("insufficient balance")
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	err := orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair())
	require.Error(t, err)

	var tradeErr *traderrors.TradeError
	require.ErrorAs(t, err, &tradeErr)
	assert.Equal(t, traderrors.CategoryEntryLeg, tradeErr.Category)

	_, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found, "reservation must be rolled back")

	// The slot is free again: a retry reserves and buys.
	mock.buyErr = nil
	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	_, found, err = st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenPosition_ProtectiveFailureKeepsPosition(t *testing.T) {
	mock := newMockExchange()
	mock.ocoErr = errors.New("oco rejected")
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	err := orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair())
	require.Error(t, err)

	var tradeErr *traderrors.TradeError
	require.ErrorAs(t, err, &tradeErr)
	assert.True(t, tradeErr.IsUnprotectedPosition())

	_, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, found, "position stays open for the fallback monitor")
	assert.True(t, orch.IsUnprotected(1, "BTCUSDT"))
}

func TestOpenPosition_BuyWhileOpenIsNoOp(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)
	profile := risk.DefaultProfile(1)
	profile.MaxOpenPositions = 5

	require.NoError(t, orch.OpenPosition(context.Background(), profile, testPair()))
	require.NoError(t, orch.OpenPosition(context.Background(), profile, testPair()))

	buys, _, _, _ := mock.counts()
	assert.Equal(t, 1, buys, "second BUY on the same symbol must not reach the venue")
}

func TestOpenPosition_PositionLimit(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)
	profile := risk.DefaultProfile(1)
	profile.MaxOpenPositions = 1

	require.NoError(t, orch.OpenPosition(context.Background(), profile, testPair()))

	eth := store.Pair{UserID: 1, Symbol: "ETHUSDT", TakeProfitPct: 2.0, StopLossPct: 1.0, Active: true}
	require.NoError(t, orch.OpenPosition(context.Background(), profile, eth))

	buys, _, _, _ := mock.counts()
	assert.Equal(t, 1, buys)
	_, found, err := st.GetOpenTrade(context.Background(), 1, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenPosition_SizingRejection(t *testing.T) {
	mock := newMockExchange()
	mock.rules.MinNotional = 1000
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	err := orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair())
	require.Error(t, err)

	var tradeErr *traderrors.TradeError
	require.ErrorAs(t, err, &tradeErr)
	assert.Equal(t, traderrors.CategorySizing, tradeErr.Category)

	buys, _, _, _ := mock.counts()
	assert.Equal(t, 0, buys)
	_, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClosePosition_CancelsLegsAndSettles(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))

	mock.sellPrice = 102.0
	closed, err := orch.ClosePosition(context.Background(), 1, "BTCUSDT", "SELL_SIGNAL")
	require.NoError(t, err)
	assert.True(t, closed)

	_, sells, _, cancels := mock.counts()
	assert.Equal(t, 1, sells)
	assert.Equal(t, 1, cancels, "resting protective legs cleared before the market sell")

	history, err := st.ListClosedTrades(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, (102.0-100.5)*0.2, history[0].Pnl, 1e-9)

	closedAgain, err := orch.ClosePosition(context.Background(), 1, "BTCUSDT", "SELL_SIGNAL")
	require.NoError(t, err)
	assert.False(t, closedAgain, "no position left to close")
}

func TestCloseAll(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)
	profile := risk.DefaultProfile(1)

	require.NoError(t, orch.OpenPosition(context.Background(), profile, testPair()))
	eth := store.Pair{UserID: 1, Symbol: "ETHUSDT", TakeProfitPct: 2.0, StopLossPct: 1.0, Active: true}
	require.NoError(t, orch.OpenPosition(context.Background(), profile, eth))

	closed, err := orch.CloseAll(context.Background(), 1, "MANUAL_STOP")
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	open, err := st.ListOpenTrades(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReconciler_SettlesProtectiveFill(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	rec, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)

	r := NewReconciler(st, orch, []int64{1}, logger.NewDiscardLogger())
	r.handle(context.Background(), types.AccountEvent{
		OrderRef:    rec.TpOrderRef,
		Symbol:      "BTCUSDT",
		Side:        types.OrderSideSell,
		Status:      types.OrderStatusFilled,
		FilledPrice: rec.TakeProfitPrice,
	})

	_, stillOpen, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, stillOpen)

	_, sells, _, _ := mock.counts()
	assert.Equal(t, 0, sells, "venue already filled the exit, no new order")

	history, err := st.ListClosedTrades(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, (rec.TakeProfitPrice-rec.EntryPrice)*rec.Quantity, history[0].Pnl, 1e-9)
}

func TestReconciler_IgnoresEntryAndNonFillEvents(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	rec, _, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)

	r := NewReconciler(st, orch, []int64{1}, logger.NewDiscardLogger())

	// The entry fill echoes back on the stream but must not close anything.
	r.handle(context.Background(), types.AccountEvent{
		OrderRef: rec.EntryOrderRef, Symbol: "BTCUSDT",
		Side: types.OrderSideSell, Status: types.OrderStatusFilled, FilledPrice: 100.5,
	})
	// Partial fills and buys are not settlement events either.
	r.handle(context.Background(), types.AccountEvent{
		OrderRef: rec.TpOrderRef, Symbol: "BTCUSDT",
		Side: types.OrderSideSell, Status: types.OrderStatusPartiallyFilled, FilledPrice: 102.51,
	})
	r.handle(context.Background(), types.AccountEvent{
		OrderRef: "other", Symbol: "BTCUSDT",
		Side: types.OrderSideBuy, Status: types.OrderStatusFilled, FilledPrice: 100.5,
	})
	// A sell fill whose reference belongs to no protective leg is not
	// ours to settle.
	r.handle(context.Background(), types.AccountEvent{
		OrderRef: "manual-sell", Symbol: "BTCUSDT",
		Side: types.OrderSideSell, Status: types.OrderStatusFilled, FilledPrice: 102.51,
	})

	_, stillOpen, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, stillOpen)
}

func TestReconciler_ClassifiesExitByLegRef(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	captured := &captureNotifier{}
	orch := NewOrchestrator(mock, st, nil, captured, logger.NewDiscardLogger())

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	rec, _, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)

	r := NewReconciler(st, orch, []int64{1}, logger.NewDiscardLogger())
	r.handle(context.Background(), types.AccountEvent{
		OrderRef:    rec.SlOrderRef,
		Symbol:      "BTCUSDT",
		Side:        types.OrderSideSell,
		Status:      types.OrderStatusFilled,
		FilledPrice: rec.StopLossPrice,
	})

	_, stillOpen, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, stillOpen)

	// The leg identity decides the reason, not the print.
	require.NotEmpty(t, captured.messages())
	assert.Contains(t, captured.messages()[len(captured.messages())-1], "STOP_LOSS")
}

func TestReconciler_FillClosesOnlyTheOwningUser(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	pairUser2 := testPair()
	pairUser2.UserID = 2
	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(2), pairUser2))

	rec1, _, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	require.NotEqual(t, rec1.TpOrderRef, "")

	r := NewReconciler(st, orch, []int64{1, 2}, logger.NewDiscardLogger())
	r.handle(context.Background(), types.AccountEvent{
		OrderRef:    rec1.TpOrderRef,
		Symbol:      "BTCUSDT",
		Side:        types.OrderSideSell,
		Status:      types.OrderStatusFilled,
		FilledPrice: rec1.TakeProfitPrice,
	})

	_, user1Open, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, user1Open)

	_, user2Open, err := st.GetOpenTrade(context.Background(), 2, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, user2Open, "the other user's OCO is still working")
}

func TestFallbackMonitor_ClosesUnprotectedPosition(t *testing.T) {
	mock := newMockExchange()
	mock.ocoErr = errors.New("oco rejected")
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	err := orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair())
	require.Error(t, err)
	require.True(t, orch.IsUnprotected(1, "BTCUSDT"))

	monitor := NewFallbackMonitor(mock, st, orch, []int64{1}, logger.NewDiscardLogger())

	// Price between the exits: nothing to do.
	mock.setPrice(101.0)
	monitor.Sweep(context.Background())
	_, stillOpen, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, stillOpen)

	// Price through the take profit: force close as a win.
	mock.setPrice(103.0)
	mock.mu.Lock()
	mock.sellPrice = 103.0
	mock.mu.Unlock()
	monitor.Sweep(context.Background())

	_, stillOpen, err = st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, stillOpen)
	assert.False(t, orch.IsUnprotected(1, "BTCUSDT"))

	history, err := st.ListClosedTrades(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Positive(t, history[0].Pnl)
}

func TestFallbackMonitor_StopLossBreach(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))

	mock.setPrice(98.0)
	mock.mu.Lock()
	mock.sellPrice = 98.0
	mock.mu.Unlock()

	monitor := NewFallbackMonitor(mock, st, orch, []int64{1}, logger.NewDiscardLogger())
	monitor.Sweep(context.Background())

	history, err := st.ListClosedTrades(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Negative(t, history[0].Pnl)

	_, _, _, cancels := mock.counts()
	assert.Equal(t, 1, cancels, "any resting legs are cleared before the forced sell")
}

func newTestController(t *testing.T, mock *mockExchange, st *store.Store) (*Controller, *Orchestrator) {
	t.Helper()
	orch := newTestOrchestrator(mock, st)
	registry := strategy.NewRegistry()
	registry.Register(strategy.NewWindowBreakout())
	registry.Register(strategy.NewRsiEma())
	c := NewController(1, mock, st, orch, registry, nil, logger.NewDiscardLogger())
	return c, orch
}

func seedBreakoutUser(t *testing.T, st *store.Store) {
	t.Helper()
	params, err := strategy.EncodeParams(strategy.BreakoutParams{Window: 2, BreakoutPct: 0.5})
	require.NoError(t, err)
	require.NoError(t, st.SaveStrategySettings(context.Background(), 1, strategy.KindWindowBreakout, string(params)))
	require.NoError(t, st.UpsertPair(context.Background(), testPair()))
}

func flatCandle(i int, close float64) types.Candle {
	open := time.Date(2026, 3, 1, 0, i, 0, 0, time.UTC)
	return types.Candle{
		Symbol:    "BTCUSDT",
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		OpenTime:  open,
		CloseTime: open.Add(time.Minute),
		Timeframe: "1m",
	}
}

func TestController_CandleDrivenEntry(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, _ := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateRunning, c.State())

	// A close above the prior two highs by more than 0.5% is a breakout.
	c.OnCandle(context.Background(), flatCandle(2, 101.0))

	require.Eventually(t, func() bool {
		_, found, err := st.GetOpenTrade(context.Background(), 1, "BTCUSDT")
		return err == nil && found
	}, 2*time.Second, 10*time.Millisecond)
}

func TestController_IgnoresUntrackedSymbolAndHold(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, _ := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))

	other := flatCandle(2, 200)
	other.Symbol = "DOGEUSDT"
	c.OnCandle(context.Background(), other)

	// On-level close: hold, no entry.
	c.OnCandle(context.Background(), flatCandle(2, 100.0))

	time.Sleep(50 * time.Millisecond)
	buys, _, _, _ := mock.counts()
	assert.Equal(t, 0, buys)
}

func TestController_CooldownAfterClose(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, _ := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.HandleClose("BTCUSDT", 5.0)
	assert.Equal(t, StateCooldown, c.State())

	// Signals during cooldown go nowhere.
	c.OnCandle(context.Background(), flatCandle(2, 101.0))
	time.Sleep(50 * time.Millisecond)
	buys, _, _, _ := mock.counts()
	assert.Equal(t, 0, buys)

	current = base.Add(301 * time.Second)
	assert.Equal(t, StateRunning, c.State())
}

func TestController_DrawdownPauseAndResume(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, _ := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))

	// Default profile pauses at 10% drawdown; balance starts at 1000.
	c.HandleClose("BTCUSDT", -200.0)
	assert.Equal(t, StatePausedDrawdown, c.State())

	// Still paused after the cooldown horizon: only Resume clears it.
	c.HandleClose("BTCUSDT", 1.0)
	assert.Equal(t, StatePausedDrawdown, c.State())

	c.Resume()
	assert.Equal(t, StateRunning, c.State())

	// The peak rebased on resume, so a small follow-up loss does not
	// immediately re-trip the pause.
	c.HandleClose("BTCUSDT", -5.0)
	assert.Equal(t, StateCooldown, c.State())
}

func TestController_StopClosesPositionsOnRequest(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, orch := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))

	require.NoError(t, c.Stop(context.Background(), true))
	assert.Equal(t, StateStopped, c.State())

	open, err := st.ListOpenTrades(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, open)

	// Stopped sessions ignore candles entirely.
	c.OnCandle(context.Background(), flatCandle(3, 105.0))
	time.Sleep(50 * time.Millisecond)
	buys, _, _, _ := mock.counts()
	assert.Equal(t, 1, buys)
}

func TestController_ReloadSettingsSwitchesStrategy(t *testing.T) {
	mock := newMockExchange()
	mock.klines = []types.Candle{flatCandle(0, 100), flatCandle(1, 100)}
	st := newTestStore(t)
	seedBreakoutUser(t, st)

	c, _ := newTestController(t, mock, st)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, st.SaveStrategySettings(context.Background(), 1, strategy.KindRsiEma, ""))
	require.NoError(t, c.ReloadSettings(context.Background()))

	c.mu.Lock()
	kind := c.strat.Kind()
	c.mu.Unlock()
	assert.Equal(t, strategy.KindRsiEma, kind)
}

func TestOrchestrator_OnCloseCallback(t *testing.T) {
	mock := newMockExchange()
	st := newTestStore(t)
	orch := newTestOrchestrator(mock, st)

	var gotUser int64
	var gotSymbol string
	var gotPnl float64
	orch.SetOnClose(func(userID int64, symbol string, pnl float64) {
		gotUser, gotSymbol, gotPnl = userID, symbol, pnl
	})

	require.NoError(t, orch.OpenPosition(context.Background(), risk.DefaultProfile(1), testPair()))
	mock.mu.Lock()
	mock.sellPrice = 101.5
	mock.mu.Unlock()

	_, err := orch.ClosePosition(context.Background(), 1, "BTCUSDT", "SELL_SIGNAL")
	require.NoError(t, err)

	assert.Equal(t, int64(1), gotUser)
	assert.Equal(t, "BTCUSDT", gotSymbol)
	assert.InDelta(t, (101.5-100.5)*0.2, gotPnl, 1e-9)
}

func TestNotifierMessageFormat(t *testing.T) {
	n := NewLogNotifier(logger.NewDiscardLogger())
	assert.NotPanics(t, func() { n.Notify(1, fmt.Sprintf("Closed %s: pnl %.4f", "BTCUSDT", 0.3)) })
}
