package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"papertrader/src/models"

	"github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// BinanceHistory loads warmup candles from the public spot REST API.
type BinanceHistory struct {
	client *binance.Client
}

// NewBinanceHistory builds an unauthenticated client. baseURL overrides the API host
// when non-empty.
func NewBinanceHistory(baseURL string, timeout time.Duration) *BinanceHistory {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceHistory{client: client}
}

func (h *BinanceHistory) History(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	kls, err := h.client.NewKlinesService().
		Symbol(strings.ToUpper(pair)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", pair, interval, err)
	}
	now := time.Now().UnixMilli()
	out := make([]models.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c := models.Candle{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
			Closed: kl.CloseTime < now,
		}
		if c.Close <= 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
