package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/pkg/exchange"
)

const (
	pathTicker       = "/api/mix/v1/market/ticker"
	pathDepth        = "/api/mix/v1/market/depth"
	pathCandles      = "/api/mix/v1/market/candles"
	pathFundingRate  = "/api/mix/v1/market/current-fundRate"
	pathAccounts     = "/api/mix/v1/account/accounts"
	pathAllPositions = "/api/mix/v1/position/allPosition"
	pathOrderHistory = "/api/mix/v1/order/history"
	pathPlaceOrder   = "/api/mix/v1/order/placeOrder"
	pathAILog        = "/api/v1/ai/log"

	defaultMarginCoin = "USDT"
)

// Client is a signed REST client for the venue's contract API. It implements
// exchange.Client and is safe for concurrent use.
type Client struct {
	cfg        *exchange.Config
	httpClient *http.Client
	clock      func() time.Time
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClock overrides the time source (primarily for testing signatures).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClient constructs a REST client from the exchange configuration.
func NewClient(cfg *exchange.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("bitget: config is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ exchange.Client = (*Client)(nil)

// GetTicker fetches the latest quote for a contract symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	q := url.Values{"symbol": {MixSymbol(symbol, c.cfg.ProductType)}}
	var payload tickerPayload
	if err := c.get(ctx, pathTicker, q, &payload); err != nil {
		return nil, err
	}
	return &exchange.Ticker{
		Symbol:    payload.Symbol,
		Last:      parseFloat(payload.Last),
		Bid:       parseFloat(payload.BestBid),
		Ask:       parseFloat(payload.BestAsk),
		Volume24h: parseFloat(payload.BaseVol),
		Change24h: parseFloat(payload.Chg24h),
		Ts:        parseInt(payload.Timestamp),
	}, nil
}

// GetDepth fetches top-of-book levels.
func (c *Client) GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	q := url.Values{
		"symbol": {MixSymbol(symbol, c.cfg.ProductType)},
		"limit":  {"15"},
	}
	var payload depthPayload
	if err := c.get(ctx, pathDepth, q, &payload); err != nil {
		return nil, err
	}
	return &exchange.Depth{
		Bids: convertLevels(payload.Bids),
		Asks: convertLevels(payload.Asks),
	}, nil
}

// GetCandles fetches OHLCV bars, newest last.
func (c *Client) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]exchange.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{
		"symbol":      {MixSymbol(symbol, c.cfg.ProductType)},
		"granularity": {granularity},
		"limit":       {strconv.Itoa(limit)},
	}
	// Candle data inside the envelope is an array of string rows, not an
	// object, so it is decoded apart from the typed payloads.
	raw, err := c.getRaw(ctx, pathCandles, q)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bitget: decode candles: %w", err)
	}
	candles := make([]exchange.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, exchange.Candle{
			Ts:     parseInt(row[0]),
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	return candles, nil
}

// GetFundingRate fetches the current funding snapshot.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error) {
	q := url.Values{"symbol": {MixSymbol(symbol, c.cfg.ProductType)}}
	var payload fundingPayload
	if err := c.get(ctx, pathFundingRate, q, &payload); err != nil {
		return nil, err
	}
	return &exchange.FundingRate{
		Symbol:          payload.Symbol,
		Rate:            parseFloat(payload.FundingRate),
		NextFundingTime: parseInt(payload.NextUpdate),
	}, nil
}

// GetAssets fetches account balances (signed).
func (c *Client) GetAssets(ctx context.Context) ([]exchange.Asset, error) {
	q := url.Values{"productType": {c.cfg.ProductType}}
	var payload []assetPayload
	if err := c.getSigned(ctx, pathAccounts, q, &payload); err != nil {
		return nil, err
	}
	assets := make([]exchange.Asset, 0, len(payload))
	for _, a := range payload {
		assets = append(assets, exchange.Asset{
			Coin:      a.MarginCoin,
			Equity:    parseFloat(a.Equity),
			Available: parseFloat(a.Available),
			Frozen:    parseFloat(a.Locked),
		})
	}
	return assets, nil
}

// GetPositions fetches all open contract positions (signed).
func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	q := url.Values{"productType": {c.cfg.ProductType}}
	var payload []positionPayload
	if err := c.getSigned(ctx, pathAllPositions, q, &payload); err != nil {
		return nil, err
	}
	positions := make([]exchange.Position, 0, len(payload))
	for _, p := range payload {
		total := parseFloat(p.Total)
		if total == 0 {
			continue
		}
		positions = append(positions, exchange.Position{
			Symbol:       p.Symbol,
			HoldSide:     p.HoldSide,
			Total:        total,
			AvgOpenPrice: parseFloat(p.AvgOpenPrice),
			UnrealizedPL: parseFloat(p.UnrealizedPL),
		})
	}
	return positions, nil
}

// GetOrderHistory fetches recent orders for a symbol (signed).
func (c *Client) GetOrderHistory(ctx context.Context, symbol string) ([]exchange.OrderRecord, error) {
	now := c.clock()
	q := url.Values{
		"symbol":    {MixSymbol(symbol, c.cfg.ProductType)},
		"startTime": {strconv.FormatInt(now.Add(-24*time.Hour).UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(now.UnixMilli(), 10)},
		"pageSize":  {"50"},
	}
	var payload struct {
		OrderList []orderPayload `json:"orderList"`
	}
	if err := c.getSigned(ctx, pathOrderHistory, q, &payload); err != nil {
		return nil, err
	}
	records := make([]exchange.OrderRecord, 0, len(payload.OrderList))
	for _, o := range payload.OrderList {
		records = append(records, exchange.OrderRecord{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Size:       parseFloat(o.Size),
			FillPrice:  parseFloat(o.PriceAvg),
			Status:     o.State,
			CreateTime: parseInt(o.CTime),
		})
	}
	return records, nil
}

// PlaceOrder submits a market order using the venue side code (signed).
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side exchange.SideCode, size float64) (*exchange.OrderAck, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("bitget: invalid side code %d", side)
	}
	if size <= 0 {
		return nil, fmt.Errorf("bitget: order size must be positive, got %v", size)
	}
	body := map[string]string{
		"symbol":     MixSymbol(symbol, c.cfg.ProductType),
		"marginCoin": defaultMarginCoin,
		"size":       strconv.FormatFloat(size, 'f', -1, 64),
		"side":       side.String(),
		"orderType":  "market",
	}
	var payload orderAckPayload
	if err := c.postSigned(ctx, pathPlaceOrder, body, &payload); err != nil {
		return nil, err
	}
	return &exchange.OrderAck{OrderID: payload.OrderID, ClientOID: payload.ClientOid}, nil
}

// UploadAILog ships an audit record to the venue's AI trace sink.
func (c *Client) UploadAILog(ctx context.Context, entry *exchange.AILogEntry) (*exchange.AILogAck, error) {
	if entry == nil {
		return nil, errors.New("bitget: nil ai log entry")
	}
	var data json.RawMessage
	envelope, err := c.doSigned(ctx, http.MethodPost, pathAILog, nil, entry, &data)
	if err != nil {
		return nil, err
	}
	return &exchange.AILogAck{Code: envelope.Code, Msg: envelope.Msg, Data: data}, nil
}

func convertLevels(rows [][]string) []exchange.Level {
	levels := make([]exchange.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, exchange.Level{
			Price: parseFloat(row[0]),
			Qty:   parseFloat(row[1]),
		})
	}
	return levels
}

// get issues an unauthenticated GET and decodes the envelope data.
func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	raw, err := c.getRaw(ctx, path, q)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bitget: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	fullPath := path
	if len(q) > 0 {
		fullPath += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("bitget: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	envelope, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// getSigned issues a signed GET and decodes the envelope data.
func (c *Client) getSigned(ctx context.Context, path string, q url.Values, out interface{}) error {
	var raw json.RawMessage
	if _, err := c.doSigned(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bitget: decode %s: %w", path, err)
	}
	return nil
}

// postSigned issues a signed POST and decodes the envelope data.
func (c *Client) postSigned(ctx context.Context, path string, body interface{}, out interface{}) error {
	var raw json.RawMessage
	if _, err := c.doSigned(ctx, http.MethodPost, path, nil, body, &raw); err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bitget: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) doSigned(ctx context.Context, method, path string, q url.Values, body interface{}, rawOut *json.RawMessage) (*apiEnvelope, error) {
	fullPath := path
	if len(q) > 0 {
		fullPath += "?" + q.Encode()
	}

	var bodyStr string
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("bitget: encode body: %w", err)
		}
		bodyStr = string(data)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+fullPath, reader)
	if err != nil {
		return nil, fmt.Errorf("bitget: build request: %w", err)
	}

	timestamp := strconv.FormatInt(c.clock().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("ACCESS-SIGN", sign(c.cfg.APISecret, timestamp, method, fullPath, bodyStr))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Passphrase)

	envelope, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	if rawOut != nil {
		*rawOut = envelope.Data
	}
	return envelope, nil
}

func (c *Client) do(req *http.Request, path string) (*apiEnvelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitget: %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("bitget: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logx.Errorf("bitget: %s %s -> http %d: %s", req.Method, path, resp.StatusCode, truncate(string(data), 256))
		return nil, fmt.Errorf("bitget: %s %s: http %d", req.Method, path, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("bitget: decode envelope: %w", err)
	}
	if err := envelope.err(); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
