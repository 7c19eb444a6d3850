package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/dnldd/klinesync/shared"
)

// BinanceConfig represents the configuration for the binance sdk client.
type BinanceConfig struct {
	// BaseURL is the API base url.
	BaseURL string
	// Symbol is the trading pair, e.g. ETHUSDT.
	Symbol string
	// Timeframe is the kline interval.
	Timeframe shared.Timeframe
	// Timeout is the per request timeout.
	Timeout time.Duration
}

// BinanceClient represents a kline client backed by the go-binance sdk.
type BinanceClient struct {
	cfg    *BinanceConfig
	client *binance.Client
}

// Ensure the BinanceClient implements the KlineFetcher interface.
var _ shared.KlineFetcher = (*BinanceClient)(nil)

// NewBinanceClient instantiates a new binance sdk client. Only public market
// data endpoints are used so no credentials are required.
func NewBinanceClient(cfg *BinanceConfig) (*BinanceClient, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol cannot be an empty string")
	}
	if cfg.Timeframe.Duration() == 0 {
		return nil, fmt.Errorf("unknown timeframe provided: %q", cfg.Timeframe)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := binance.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: timeout}

	return &BinanceClient{
		cfg:    cfg,
		client: client,
	}, nil
}

// FetchKlines fetches a page of klines for the configured symbol and timeframe.
func (c *BinanceClient) FetchKlines(ctx context.Context, query shared.KlineQuery) ([]shared.Candle, error) {
	op := fmt.Sprintf("fetching %s klines (%s) via sdk", c.cfg.Symbol, c.cfg.Timeframe.String())

	svc := c.client.NewKlinesService().
		Symbol(c.cfg.Symbol).
		Interval(c.cfg.Timeframe.String()).
		Limit(query.Limit)
	if query.StartTime > 0 {
		svc = svc.StartTime(query.StartTime)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, &shared.TransportError{Op: op, Err: err}
	}

	candles := make([]shared.Candle, 0, len(klines))
	for idx, kl := range klines {
		if kl == nil {
			continue
		}

		candle, err := shared.NewCandle(kl.OpenTime, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume,
			kl.CloseTime, kl.QuoteAssetVolume, kl.TradeNum, kl.TakerBuyBaseAssetVolume,
			kl.TakerBuyQuoteAssetVolume)
		if err != nil {
			return nil, &shared.TransportError{Op: op, Err: fmt.Errorf("parsing kline record %d: %w", idx, err)}
		}

		candles = append(candles, candle)
	}

	return candles, nil
}
