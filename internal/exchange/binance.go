package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
	"trader-engine/pkg/types"
)

const (
	binanceMainnetURL   = "https://api.binance.com"
	binanceTestnetURL   = "https://testnet.binance.vision"
	binanceWsMainnetURL = "wss://stream.binance.com:9443"
	binanceWsTestnetURL = "wss://stream.testnet.binance.vision"

	// Binance allows 1200 request weight per minute; 10 req/s with a
	// small burst stays far inside that while letting kline preloads
	// batch up.
	binanceRequestsPerSecond = 10
	binanceBurst             = 20
)

// Binance talks to the Binance spot REST and WebSocket APIs. Signed
// endpoints use HMAC-SHA256 over the query string with the server time
// offset applied, so clock drift does not invalidate requests.
type Binance struct {
	apiKey    string
	secret    string
	baseURL   string
	wsBaseURL string
	client    *http.Client
	limiter   *rate.Limiter
	log       *logger.Logger

	timeOffsetMs atomic.Int64

	rulesMu sync.RWMutex
	rules   map[string]types.SymbolRules
}

func NewBinance(apiKey, secret string, testnet bool, log *logger.Logger) *Binance {
	baseURL, wsURL := binanceMainnetURL, binanceWsMainnetURL
	if testnet {
		baseURL, wsURL = binanceTestnetURL, binanceWsTestnetURL
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Binance{
		apiKey:    apiKey,
		secret:    secret,
		baseURL:   baseURL,
		wsBaseURL: wsURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(binanceRequestsPerSecond), binanceBurst),
		log:       log,
		rules:     make(map[string]types.SymbolRules),
	}
}

func (b *Binance) Name() string { return "binance" }

// NewClientRef mints a client order id accepted by Binance.
func NewClientRef() string {
	return "te-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// SyncTime measures the offset to the venue clock. Signed requests
// apply the offset to their timestamps, so call it at startup and
// refresh periodically to keep drift inside the recv window.
func (b *Binance) SyncTime(ctx context.Context) error {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	before := time.Now().UnixMilli()
	if err := b.public(ctx, "/api/v3/time", nil, &out); err != nil {
		return err
	}
	offset := out.ServerTime - (before+time.Now().UnixMilli())/2
	b.timeOffsetMs.Store(offset)
	b.log.Info("binance clock offset %dms", offset)
	return nil
}

func (b *Binance) GetSymbolRules(ctx context.Context, symbol string) (types.SymbolRules, error) {
	b.rulesMu.RLock()
	cached, ok := b.rules[symbol]
	b.rulesMu.RUnlock()
	if ok {
		return cached, nil
	}

	var out struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := b.public(ctx, "/api/v3/exchangeInfo", params, &out); err != nil {
		return types.SymbolRules{}, err
	}
	if len(out.Symbols) == 0 {
		return types.SymbolRules{}, traderrors.New(traderrors.CategoryExchange, "binance", "exchange_info",
			"unknown symbol "+symbol)
	}

	rules := types.SymbolRules{Symbol: symbol}
	for _, f := range out.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			rules.LotStep = parseFloat(f.StepSize)
		case "PRICE_FILTER":
			rules.TickSize = parseFloat(f.TickSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			rules.MinNotional = parseFloat(f.MinNotional)
		}
	}
	b.rulesMu.Lock()
	b.rules[symbol] = rules
	b.rulesMu.Unlock()
	return rules, nil
}

func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := b.public(ctx, "/api/v3/ticker/price", params, &out); err != nil {
		return 0, err
	}
	return parseFloat(out.Price), nil
}

func (b *Binance) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	var out struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.signed(ctx, http.MethodGet, "/api/v3/account", nil, &out); err != nil {
		return types.Balance{}, err
	}
	for _, bal := range out.Balances {
		if bal.Asset == asset {
			return types.Balance{
				Asset:  asset,
				Free:   parseFloat(bal.Free),
				Locked: parseFloat(bal.Locked),
			}, nil
		}
	}
	return types.Balance{Asset: asset}, nil
}

func (b *Binance) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(limit)},
	}
	var raw [][]json.RawMessage
	if err := b.public(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		var openTime, closeTime int64
		var o, h, l, c, v string
		json.Unmarshal(k[0], &openTime)
		json.Unmarshal(k[1], &o)
		json.Unmarshal(k[2], &h)
		json.Unmarshal(k[3], &l)
		json.Unmarshal(k[4], &c)
		json.Unmarshal(k[5], &v)
		json.Unmarshal(k[6], &closeTime)
		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Open:      parseFloat(o),
			High:      parseFloat(h),
			Low:       parseFloat(l),
			Close:     parseFloat(c),
			Volume:    parseFloat(v),
			OpenTime:  time.UnixMilli(openTime).UTC(),
			CloseTime: time.UnixMilli(closeTime).UTC(),
			Timeframe: timeframe,
		})
	}
	return candles, nil
}

func (b *Binance) PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error) {
	return b.placeMarket(ctx, symbol, types.OrderSideBuy, quantity, clientRef)
}

func (b *Binance) PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientRef string) (OrderResult, error) {
	return b.placeMarket(ctx, symbol, types.OrderSideSell, quantity, clientRef)
}

func (b *Binance) placeMarket(ctx context.Context, symbol string, side types.OrderSide, quantity float64, clientRef string) (OrderResult, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {"MARKET"},
		"quantity":         {formatQty(quantity)},
		"newClientOrderId": {clientRef},
	}
	var out struct {
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		Fills         []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := b.signed(ctx, http.MethodPost, "/api/v3/order", params, &out); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{
		OrderRef: out.ClientOrderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: parseFloat(out.ExecutedQty),
		Price:    avgFillPrice(out.Fills),
		Status:   types.OrderStatus(out.Status),
	}, nil
}

func (b *Binance) PlaceOCOSell(ctx context.Context, symbol string, quantity, takeProfit, stopLoss float64, clientRef string) (OCORefs, error) {
	// Stop leg fills as a limit slightly below the trigger so a fast
	// move through the stop still executes.
	params := url.Values{
		"symbol":               {symbol},
		"side":                 {string(types.OrderSideSell)},
		"quantity":             {formatQty(quantity)},
		"price":                {formatPrice(takeProfit)},
		"stopPrice":            {formatPrice(stopLoss)},
		"stopLimitPrice":       {formatPrice(stopLoss)},
		"stopLimitTimeInForce": {"GTC"},
		"listClientOrderId":    {clientRef},
	}
	var out struct {
		OrderListID  int64 `json:"orderListId"`
		OrderReports []struct {
			ClientOrderID string `json:"clientOrderId"`
			Type          string `json:"type"`
		} `json:"orderReports"`
	}
	if err := b.signed(ctx, http.MethodPost, "/api/v3/order/oco", params, &out); err != nil {
		return OCORefs{}, err
	}

	refs := OCORefs{
		ListRef:    strconv.FormatInt(out.OrderListID, 10),
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	}
	for _, report := range out.OrderReports {
		switch report.Type {
		case "LIMIT_MAKER":
			refs.TakeProfitRef = report.ClientOrderID
		case "STOP_LOSS_LIMIT":
			refs.StopLossRef = report.ClientOrderID
		}
	}
	return refs, nil
}

// CancelOpenOrders cancels every resting order on the symbol. Binance
// answers 400 when nothing is open; that case is not a failure here.
func (b *Binance) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{"symbol": {symbol}}
	err := b.signed(ctx, http.MethodDelete, "/api/v3/openOrders", params, nil)
	if err != nil && strings.Contains(err.Error(), "-2011") {
		return nil
	}
	return err
}

// public performs an unsigned GET against path.
func (b *Binance) public(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := b.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "request", err)
	}
	return b.do(req, out)
}

// signed performs an authenticated request, appending the timestamp
// and HMAC signature to the query string.
func (b *Binance) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli()+b.timeOffsetMs.Load(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + b.sign(query)

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path+"?"+query, nil)
	if err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "request", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req, out)
}

func (b *Binance) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) do(req *http.Request, out any) error {
	if err := b.limiter.Wait(req.Context()); err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "rate_limit", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "http", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "read_body", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		json.Unmarshal(body, &apiErr)
		return traderrors.New(traderrors.CategoryExchange, "binance", "api",
			fmt.Sprintf("status %d code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Msg))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return traderrors.Wrap(traderrors.CategoryExchange, "binance", "decode", err)
	}
	return nil
}

func avgFillPrice(fills []struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}) float64 {
	var notional, qty float64
	for _, f := range fills {
		p, q := parseFloat(f.Price), parseFloat(f.Qty)
		notional += p * q
		qty += q
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
