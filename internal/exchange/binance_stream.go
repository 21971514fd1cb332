package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trader-engine/pkg/types"
)

const (
	klineBufferSize    = 256
	streamRedialDelay  = 5 * time.Second
	streamReadDeadline = 3 * time.Minute
)

// SubscribeKlines streams closed candles for the given symbols over
// one combined-stream connection. The goroutine redials on any read
// failure and closes the channel only when ctx is done.
func (b *Binance) SubscribeKlines(ctx context.Context, symbols []string, timeframe string) (<-chan types.Candle, error) {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + timeframe
	}
	endpoint := b.wsBaseURL + "/stream?streams=" + strings.Join(streams, "/")

	out := make(chan types.Candle, klineBufferSize)
	go func() {
		defer close(out)
		for {
			if err := b.readKlineStream(ctx, endpoint, out); err != nil {
				b.log.Warn("kline stream dropped: %v", err)
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

func (b *Binance) readKlineStream(ctx context.Context, endpoint string, out chan types.Candle) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	b.log.Info("kline stream connected: %s", endpoint)

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		candle, closed, err := parseKlineMessage(message)
		if err != nil || !closed {
			continue
		}
		offerCandle(out, candle)
	}
}

// offerCandle enqueues without ever blocking the reader: when the
// buffer is full the oldest candle is evicted first. Slow consumers
// lose history, never freshness.
func offerCandle(ch chan types.Candle, c types.Candle) {
	for {
		select {
		case ch <- c:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// parseKlineMessage decodes one combined-stream frame. closed reports
// whether the candle has finished forming; callers skip open candles.
func parseKlineMessage(message []byte) (types.Candle, bool, error) {
	var frame struct {
		Data struct {
			Event string `json:"e"`
			Kline struct {
				OpenTime  int64  `json:"t"`
				CloseTime int64  `json:"T"`
				Symbol    string `json:"s"`
				Interval  string `json:"i"`
				Open      string `json:"o"`
				High      string `json:"h"`
				Low       string `json:"l"`
				Close     string `json:"c"`
				Volume    string `json:"v"`
				Closed    bool   `json:"x"`
			} `json:"k"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return types.Candle{}, false, err
	}
	k := frame.Data.Kline
	if frame.Data.Event != "kline" || k.Symbol == "" {
		return types.Candle{}, false, nil
	}
	return types.Candle{
		Symbol:    k.Symbol,
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Timeframe: k.Interval,
	}, k.Closed, nil
}
