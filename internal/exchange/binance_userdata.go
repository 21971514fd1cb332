package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	traderrors "trader-engine/internal/errors"
	"trader-engine/pkg/types"
)

const (
	accountEventBufferSize = 128
	// Binance expires listen keys after 60 minutes; refreshing at half
	// that keeps the stream alive through one missed keep-alive.
	listenKeyKeepAlive = 30 * time.Minute
)

// SubscribeAccountEvents opens the user data stream and delivers order
// fill events. The listen key is kept alive in the background and
// recreated on redial.
func (b *Binance) SubscribeAccountEvents(ctx context.Context) (<-chan types.AccountEvent, error) {
	// Fail fast when credentials are bad instead of inside the goroutine.
	key, err := b.createListenKey(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan types.AccountEvent, accountEventBufferSize)
	go func() {
		defer close(out)
		for {
			if key == "" {
				key, err = b.createListenKey(ctx)
				if err != nil {
					b.log.Warn("listen key refresh failed: %v", err)
				}
			}
			if key != "" {
				if err := b.readUserDataStream(ctx, key, out); err != nil {
					b.log.Warn("user data stream dropped: %v", err)
				}
				key = ""
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

func (b *Binance) readUserDataStream(ctx context.Context, key string, out chan types.AccountEvent) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, b.wsBaseURL+"/ws/"+key, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	b.log.Info("user data stream connected")

	keepAlive := time.NewTicker(listenKeyKeepAlive)
	defer keepAlive.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				if err := b.keepAliveListenKey(ctx, key); err != nil {
					b.log.Warn("listen key keep-alive failed: %v", err)
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		event, ok := parseExecutionReport(message)
		if !ok {
			continue
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Binance) createListenKey(ctx context.Context) (string, error) {
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := b.keyedRequest(ctx, http.MethodPost, "/api/v3/userDataStream", nil, &out); err != nil {
		return "", err
	}
	if out.ListenKey == "" {
		return "", traderrors.New(traderrors.CategoryStream, "binance", "listen_key", "empty listen key")
	}
	return out.ListenKey, nil
}

func (b *Binance) keepAliveListenKey(ctx context.Context, key string) error {
	params := url.Values{"listenKey": {key}}
	return b.keyedRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params, nil)
}

// keyedRequest authenticates with the API key header only; the user
// data stream endpoints are not signed.
func (b *Binance) keyedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := b.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return traderrors.Wrap(traderrors.CategoryStream, "binance", "request", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req, out)
}

// parseExecutionReport extracts an order fill event from a user data
// stream frame. Non-execution events return ok=false.
func parseExecutionReport(message []byte) (types.AccountEvent, bool) {
	var report struct {
		Event         string `json:"e"`
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		Status        string `json:"X"`
		ClientOrderID string `json:"c"`
		LastPrice     string `json:"L"`
		EventTime     int64  `json:"E"`
	}
	if err := json.Unmarshal(message, &report); err != nil {
		return types.AccountEvent{}, false
	}
	if report.Event != "executionReport" {
		return types.AccountEvent{}, false
	}
	return types.AccountEvent{
		OrderRef:    report.ClientOrderID,
		Symbol:      report.Symbol,
		Side:        types.OrderSide(report.Side),
		Status:      types.OrderStatus(report.Status),
		FilledPrice: parseFloat(report.LastPrice),
		Timestamp:   time.UnixMilli(report.EventTime).UTC(),
	}, true
}
