package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dnldd/klinesync/shared"
	"github.com/tidwall/gjson"
)

const (
	// BaseURL is the default public market data endpoint.
	BaseURL = "https://data-api.binance.vision"
	// klinesPath is the kline query path.
	klinesPath = "/api/v3/klines"
	// DefaultTimeout is the default per request timeout.
	DefaultTimeout = time.Second * 20
	// minKlineFields is the minimum number of fields in a kline record.
	minKlineFields = 11
)

// RESTConfig represents the configuration for the REST client.
type RESTConfig struct {
	// BaseURL is the API base url.
	BaseURL string
	// Symbol is the trading pair, e.g. ETHUSDT.
	Symbol string
	// Timeframe is the kline interval.
	Timeframe shared.Timeframe
	// Timeout is the per request timeout.
	Timeout time.Duration
}

// RESTClient represents a kline client speaking to the REST endpoint directly.
type RESTClient struct {
	cfg   *RESTConfig
	httpc http.Client
	buf   *bytes.Buffer
}

// Ensure the RESTClient implements the KlineFetcher interface.
var _ shared.KlineFetcher = (*RESTClient)(nil)

// NewRESTClient instantiates a new REST client.
func NewRESTClient(cfg *RESTConfig) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be an empty string")
	}
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

	return &RESTClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: timeout},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}, nil
}

// formURL creates full urls including parameters for the api.
func (c *RESTClient) formURL(path string, params string) string {
	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// ParseKlines parses klines from the provided json records.
func ParseKlines(data []gjson.Result) ([]shared.Candle, error) {
	candles := make([]shared.Candle, 0, len(data))

	for idx := range data {
		fields := data[idx].Array()
		if len(fields) < minKlineFields {
			return nil, fmt.Errorf("kline record %d has %d fields, expected at least %d",
				idx, len(fields), minKlineFields)
		}

		candle, err := shared.NewCandle(fields[0].Int(), fields[1].String(), fields[2].String(),
			fields[3].String(), fields[4].String(), fields[5].String(), fields[6].Int(),
			fields[7].String(), fields[8].Int(), fields[9].String(), fields[10].String())
		if err != nil {
			return nil, fmt.Errorf("parsing kline record %d: %w", idx, err)
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// FetchKlines fetches a page of klines for the configured symbol and timeframe.
func (c *RESTClient) FetchKlines(ctx context.Context, query shared.KlineQuery) ([]shared.Candle, error) {
	op := fmt.Sprintf("fetching %s klines (%s)", c.cfg.Symbol, c.cfg.Timeframe.String())

	params := url.Values{}
	params.Add("symbol", c.cfg.Symbol)
	params.Add("interval", c.cfg.Timeframe.String())
	params.Add("limit", strconv.Itoa(query.Limit))
	if query.StartTime > 0 {
		params.Add("startTime", strconv.FormatInt(query.StartTime, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(klinesPath, params.Encode()), nil)
	if err != nil {
		return nil, &shared.TransportError{Op: op, Err: err}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &shared.TransportError{Op: op, Err: err}
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &shared.TransportError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := gjson.GetBytes(body, "msg").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &shared.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}

	if !gjson.ValidBytes(body) {
		return nil, &shared.TransportError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("malformed json response")}
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, &shared.TransportError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("expected a json array of klines")}
	}

	candles, err := ParseKlines(parsed.Array())
	if err != nil {
		return nil, &shared.TransportError{Op: op, Status: resp.StatusCode, Err: err}
	}

	return candles, nil
}
