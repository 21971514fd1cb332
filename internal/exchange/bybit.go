package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybitapi "github.com/bybit-exchange/bybit.go.api"
	"github.com/gorilla/websocket"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
	"trader-engine/pkg/types"
)

// ErrOCOUnsupported marks venues without native one-cancels-other
// orders. Entries on such venues run unprotected until the fallback
// monitor takes over, so callers must escalate.
var ErrOCOUnsupported = errors.New("venue has no native OCO support")

// ErrStreamUnsupported marks venues without a private event stream;
// fill reconciliation then relies on polling.
var ErrStreamUnsupported = errors.New("venue has no account event stream")

const (
	bybitWsMainnetURL = "wss://stream.bybit.com/v5/public/spot"
	bybitWsTestnetURL = "wss://stream-testnet.bybit.com/v5/public/spot"
)

// Bybit adapts the unified trading account API to the Exchange
// interface. Spot only. The venue exposes no spot OCO, so protective
// exits degrade to the fallback monitor.
type Bybit struct {
	client  *bybitapi.Client
	wsURL   string
	testnet bool
	log     *logger.Logger
}

func NewBybit(apiKey, secret string, testnet bool, log *logger.Logger) *Bybit {
	baseURL := bybitapi.MAINNET
	wsURL := bybitWsMainnetURL
	if testnet {
		baseURL = bybitapi.TESTNET
		wsURL = bybitWsTestnetURL
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Bybit{
		client:  bybitapi.NewBybitHttpClient(apiKey, secret, bybitapi.WithBaseURL(baseURL)),
		wsURL:   wsURL,
		testnet: testnet,
		log:     log,
	}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) GetSymbolRules(ctx context.Context, symbol string) (types.SymbolRules, error) {
	params := map[string]interface{}{"category": "spot", "symbol": symbol}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return types.SymbolRules{}, b.wrapErr("instrument_info", err)
	}
	var result struct {
		List []struct {
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderAmt   string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := decodeBybitResult(resp, &result); err != nil {
		return types.SymbolRules{}, b.wrapErr("instrument_info", err)
	}
	if len(result.List) == 0 {
		return types.SymbolRules{}, traderrors.New(traderrors.CategoryExchange, "bybit", "instrument_info",
			"unknown symbol "+symbol)
	}
	info := result.List[0]
	return types.SymbolRules{
		Symbol:      symbol,
		LotStep:     parseFloat(info.LotSizeFilter.BasePrecision),
		TickSize:    parseFloat(info.PriceFilter.TickSize),
		MinNotional: parseFloat(info.LotSizeFilter.MinOrderAmt),
	}, nil
}

func (b *Bybit) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{"category": "spot", "symbol": symbol}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, b.wrapErr("tickers", err)
	}
	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeBybitResult(resp, &result); err != nil {
		return 0, b.wrapErr("tickers", err)
	}
	if len(result.List) == 0 {
		return 0, traderrors.New(traderrors.CategoryExchange, "bybit", "tickers", "no ticker for "+symbol)
	}
	return parseFloat(result.List[0].LastPrice), nil
}

func (b *Bybit) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	params := map[string]interface{}{"accountType": "UNIFIED", "coin": asset}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return types.Balance{}, b.wrapErr("wallet", err)
	}
	var result struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				Locked              string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeBybitResult(resp, &result); err != nil {
		return types.Balance{}, b.wrapErr("wallet", err)
	}
	for _, account := range result.List {
		for _, coin := range account.Coin {
			if coin.Coin == asset {
				return types.Balance{
					Asset:  asset,
					Free:   parseFloat(coin.AvailableToWithdraw),
					Locked: parseFloat(coin.Locked),
				}, nil
			}
		}
	}
	return types.Balance{Asset: asset}, nil
}

func (b *Bybit) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	interval, err := bybitInterval(timeframe)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, b.wrapErr("kline", err)
	}
	var result struct {
		List [][]string `json:"list"`
	}
	if err := decodeBybitResult(resp, &result); err != nil {
		return nil, b.wrapErr("kline", err)
	}

	span, err := types.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	// Bybit returns newest first; the engine wants oldest first.
	candles := make([]types.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		openTime := time.UnixMilli(parseInt(row[0])).UTC()
		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			OpenTime:  openTime,
			CloseTime: openTime.Add(span),
			Timeframe: timeframe,
		})
	}
	return candles, nil
}

func (b *Bybit) PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error) {
	return b.placeMarket(ctx, symbol, types.OrderSideBuy, quantity, clientRef)
}

func (b *Bybit) PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error) {
	return b.placeMarket(ctx, symbol, types.OrderSideSell, quantity, clientRef)
}

func (b *Bybit) placeMarket(ctx context.Context, symbol string, side types.OrderSide, quantity float64, clientRef string) (OrderResult, error) {
	params := map[string]interface{}{
		"category":    "spot",
		"symbol":      symbol,
		"side":        sideTitle(side),
		"orderType":   "Market",
		"qty":         formatQty(quantity),
		"orderLinkId": clientRef,
	}
	resp, err := b.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return OrderResult{}, b.wrapErr("place_order", err)
	}
	var result struct {
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := decodeBybitResult(resp, &result); err != nil {
		return OrderResult{}, b.wrapErr("place_order", err)
	}
	// The create endpoint only acknowledges; the fill price arrives by
	// polling the ticker since spot market orders fill immediately.
	price, err := b.GetPrice(ctx, symbol)
	if err != nil {
		price = 0
	}
	return OrderResult{
		OrderRef: result.OrderLinkID,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Status:   types.OrderStatusFilled,
	}, nil
}

// CancelOpenOrders cancels every resting spot order on the symbol.
func (b *Bybit) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := map[string]interface{}{"category": "spot", "symbol": symbol}
	if _, err := b.client.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx); err != nil {
		return b.wrapErr("cancel_all", err)
	}
	return nil
}

// PlaceOCOSell always fails: Bybit spot has no one-cancels-other list
// orders. The orchestrator treats this as a protective leg failure and
// hands the position to the fallback monitor.
func (b *Bybit) PlaceOCOSell(_ context.Context, symbol string, _, _, _ float64, _ string) (OCORefs, error) {
	return OCORefs{}, traderrors.Wrap(traderrors.CategoryProtectiveLeg, "bybit", "place_oco",
		fmt.Errorf("%s: %w", symbol, ErrOCOUnsupported))
}

// SubscribeKlines streams closed spot candles over the public v5 feed.
func (b *Bybit) SubscribeKlines(ctx context.Context, symbols []string, timeframe string) (<-chan types.Candle, error) {
	interval, err := bybitInterval(timeframe)
	if err != nil {
		return nil, err
	}
	topics := make([]string, len(symbols))
	for i, sym := range symbols {
		topics[i] = "kline." + interval + "." + sym
	}

	out := make(chan types.Candle, klineBufferSize)
	go func() {
		defer close(out)
		for {
			if err := b.readKlineStream(ctx, topics, timeframe, out); err != nil {
				b.log.Warn("bybit kline stream dropped: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(streamRedialDelay):
			}
		}
	}()
	return out, nil
}

func (b *Bybit) readKlineStream(ctx context.Context, topics []string, timeframe string, out chan types.Candle) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sub := map[string]interface{}{"op": "subscribe", "args": topics}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, candle := range parseBybitKlineMessage(message, timeframe) {
			offerCandle(out, candle)
		}
	}
}

// SubscribeAccountEvents is unsupported on the spot adapter; fills are
// reconciled by polling instead.
func (b *Bybit) SubscribeAccountEvents(_ context.Context) (<-chan types.AccountEvent, error) {
	return nil, traderrors.Wrap(traderrors.CategoryStream, "bybit", "account_events", ErrStreamUnsupported)
}

func (b *Bybit) wrapErr(op string, err error) error {
	return traderrors.Wrap(traderrors.CategoryExchange, "bybit", op, err)
}

// parseBybitKlineMessage extracts closed candles from one public
// stream frame, skipping still-forming bars.
func parseBybitKlineMessage(message []byte, timeframe string) []types.Candle {
	var frame struct {
		Topic string `json:"topic"`
		Data  []struct {
			Start   int64  `json:"start"`
			End     int64  `json:"end"`
			Open    string `json:"open"`
			High    string `json:"high"`
			Low     string `json:"low"`
			Close   string `json:"close"`
			Volume  string `json:"volume"`
			Confirm bool   `json:"confirm"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return nil
	}
	parts := strings.Split(frame.Topic, ".")
	if len(parts) != 3 || parts[0] != "kline" {
		return nil
	}
	symbol := parts[2]

	var out []types.Candle
	for _, k := range frame.Data {
		if !k.Confirm {
			continue
		}
		out = append(out, types.Candle{
			Symbol:    symbol,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			OpenTime:  time.UnixMilli(k.Start).UTC(),
			CloseTime: time.UnixMilli(k.End).UTC(),
			Timeframe: timeframe,
		})
	}
	return out
}

func bybitInterval(timeframe string) (string, error) {
	switch timeframe {
	case "1m":
		return "1", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	}
	return "", traderrors.New(traderrors.CategoryConfig, "bybit", "interval",
		"unsupported timeframe "+timeframe)
}

func sideTitle(side types.OrderSide) string {
	switch side {
	case types.OrderSideBuy:
		return "Buy"
	case types.OrderSideSell:
		return "Sell"
	}
	return string(side)
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func decodeBybitResult(resp *bybitapi.ServerResponse, out any) error {
	if resp.RetCode != 0 {
		return fmt.Errorf("api error %d: %s", resp.RetCode, resp.RetMsg)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
