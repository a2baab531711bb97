package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"papertrader/src/logger"
	"papertrader/src/models"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
)

const (
	DefaultStreamURL = "wss://stream.binance.com:9443/stream"

	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// BinanceStream subscribes to the combined kline stream for every pair on one connection
// and reconnects after errors until its context ends.
type BinanceStream struct {
	URL            string
	ReconnectDelay time.Duration
	ClosedOnly     bool // only forward bars the exchange marks final
	Buffer         int

	log    *logger.Logger
	dialer *websocket.Dialer
}

func NewBinanceStream(streamURL string, reconnect time.Duration, closedOnly bool, log *logger.Logger) *BinanceStream {
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BinanceStream{
		URL:            streamURL,
		ReconnectDelay: reconnect,
		ClosedOnly:     closedOnly,
		Buffer:         256,
		log:            log.Component("feed.binance"),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// combinedMessage is the envelope of the /stream endpoint.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// StreamURL builds the combined stream URL for pairs, e.g. ...?streams=btcusdt@kline_1m.
func (b *BinanceStream) StreamURL(pairs []string, interval string) (string, error) {
	if len(pairs) == 0 {
		return "", fmt.Errorf("no pairs to subscribe")
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(p), interval))
	}
	// Binance wants the stream list unescaped
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

func (b *BinanceStream) Stream(ctx context.Context, pairs []string, interval string) (<-chan models.Tick, error) {
	target, err := b.StreamURL(pairs, interval)
	if err != nil {
		return nil, err
	}
	out := make(chan models.Tick, b.Buffer)
	go func() {
		defer close(out)
		b.run(ctx, target, out)
	}()
	return out, nil
}

func (b *BinanceStream) run(ctx context.Context, target string, out chan<- models.Tick) {
	for {
		err := b.session(ctx, target, out)
		if ctx.Err() != nil {
			return
		}
		b.log.Warnf("stream disconnected: %v; reconnecting in %s", err, b.ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.ReconnectDelay):
		}
	}
}

// session holds one connection until it fails or ctx ends.
func (b *BinanceStream) session(ctx context.Context, target string, out chan<- models.Tick) error {
	conn, _, err := b.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.log.Infof("connected to %s", target)

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					b.log.Debugf("ping failed: %v", err)
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		tick, ok, err := parseKlineMessage(data)
		if err != nil {
			b.log.Debugf("skipping message: %v", err)
			continue
		}
		if !ok || (b.ClosedOnly && !tick.Candle.Closed) {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseKlineMessage decodes a combined-stream kline push. ok is false for other event types.
func parseKlineMessage(data []byte) (models.Tick, bool, error) {
	var msg combinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Tick{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	payload := msg.Data
	if len(payload) == 0 {
		// raw /ws endpoint sends the event without an envelope
		payload = data
	}
	// binance.WsKlineEvent names every key of the push (E, T, L, V, Q ...), so
	// encoding/json never folds them onto their lowercase twins.
	var ev binance.WsKlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.Tick{}, false, fmt.Errorf("decode kline: %w", err)
	}
	if ev.Event != "kline" || ev.Symbol == "" {
		return models.Tick{}, false, nil
	}
	k := ev.Kline
	candle := models.Candle{
		Time:   time.UnixMilli(k.StartTime).UTC(),
		Open:   parseFloat(k.Open),
		High:   parseFloat(k.High),
		Low:    parseFloat(k.Low),
		Close:  parseFloat(k.Close),
		Volume: parseFloat(k.Volume),
		Closed: k.IsFinal,
	}
	if candle.Close <= 0 {
		return models.Tick{}, false, fmt.Errorf("%s: non-positive close %q", ev.Symbol, k.Close)
	}
	return models.Tick{Pair: strings.ToUpper(ev.Symbol), Candle: candle}, true, nil
}
