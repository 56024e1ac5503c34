package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"helmsman/pkg/exchange"
)

// Cache wraps an exchange.Client and serves repeated market data reads from
// memory. Several agents digest the same symbol every cycle; without this
// layer each of them would hit the venue's REST API for identical candles
// and depth. Account state and order flow pass straight through.
type Cache struct {
	client exchange.Client
	ttl    TTL
	clock  func() time.Time

	mu       sync.Mutex
	tickers  map[string]entry[exchange.Ticker]
	depths   map[string]entry[exchange.Depth]
	candles  map[string]entry[[]exchange.Candle]
	fundings map[string]entry[exchange.FundingRate]
}

type entry[T any] struct {
	value T
	at    time.Time
}

// TTL holds the freshness window per resource. Zero disables caching for
// that resource.
type TTL struct {
	Ticker  time.Duration
	Depth   time.Duration
	Candles time.Duration
	Funding time.Duration
}

// DefaultTTL matches the cadence of the strategic layer: quotes go stale in
// seconds, candle history in a minute, funding in minutes.
func DefaultTTL() TTL {
	return TTL{
		Ticker:  2 * time.Second,
		Depth:   2 * time.Second,
		Candles: 60 * time.Second,
		Funding: 300 * time.Second,
	}
}

// CacheOption tailors a Cache.
type CacheOption func(*Cache)

// WithTTL overrides the freshness windows.
func WithTTL(ttl TTL) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source. Test hook.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) { c.clock = clock }
}

// NewCache wraps the given client.
func NewCache(client exchange.Client, opts ...CacheOption) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("market: client is required")
	}
	c := &Cache{
		client:   client,
		ttl:      DefaultTTL(),
		clock:    time.Now,
		tickers:  make(map[string]entry[exchange.Ticker]),
		depths:   make(map[string]entry[exchange.Depth]),
		candles:  make(map[string]entry[[]exchange.Candle]),
		fundings: make(map[string]entry[exchange.FundingRate]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func fresh[T any](m map[string]entry[T], key string, ttl time.Duration, now time.Time) (T, bool) {
	e, ok := m[key]
	if !ok || ttl <= 0 || now.Sub(e.at) > ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

// GetTicker returns a cached quote when fresh, otherwise fetches one.
func (c *Cache) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	now := c.clock()
	c.mu.Lock()
	if v, ok := fresh(c.tickers, symbol, c.ttl.Ticker, now); ok {
		c.mu.Unlock()
		out := v
		return &out, nil
	}
	c.mu.Unlock()

	t, err := c.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tickers[symbol] = entry[exchange.Ticker]{value: *t, at: now}
	c.mu.Unlock()
	return t, nil
}

// GetDepth returns a cached order book snapshot when fresh.
func (c *Cache) GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	now := c.clock()
	c.mu.Lock()
	if v, ok := fresh(c.depths, symbol, c.ttl.Depth, now); ok {
		c.mu.Unlock()
		out := v
		return &out, nil
	}
	c.mu.Unlock()

	d, err := c.client.GetDepth(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.depths[symbol] = entry[exchange.Depth]{value: *d, at: now}
	c.mu.Unlock()
	return d, nil
}

// GetCandles returns cached history when fresh. The key includes granularity
// and limit so distinct requests never alias.
func (c *Cache) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]exchange.Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", symbol, granularity, limit)
	now := c.clock()
	c.mu.Lock()
	if v, ok := fresh(c.candles, key, c.ttl.Candles, now); ok {
		c.mu.Unlock()
		return append([]exchange.Candle(nil), v...), nil
	}
	c.mu.Unlock()

	cs, err := c.client.GetCandles(ctx, symbol, granularity, limit)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.candles[key] = entry[[]exchange.Candle]{value: append([]exchange.Candle(nil), cs...), at: now}
	c.mu.Unlock()
	return cs, nil
}

// GetFundingRate returns a cached funding snapshot when fresh.
func (c *Cache) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error) {
	now := c.clock()
	c.mu.Lock()
	if v, ok := fresh(c.fundings, symbol, c.ttl.Funding, now); ok {
		c.mu.Unlock()
		out := v
		return &out, nil
	}
	c.mu.Unlock()

	f, err := c.client.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.fundings[symbol] = entry[exchange.FundingRate]{value: *f, at: now}
	c.mu.Unlock()
	return f, nil
}

// GetAssets is never cached; equity feeds the risk engine.
func (c *Cache) GetAssets(ctx context.Context) ([]exchange.Asset, error) {
	return c.client.GetAssets(ctx)
}

// GetPositions is never cached; reconciliation needs the live view.
func (c *Cache) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return c.client.GetPositions(ctx)
}

// GetOrderHistory passes through.
func (c *Cache) GetOrderHistory(ctx context.Context, symbol string) ([]exchange.OrderRecord, error) {
	return c.client.GetOrderHistory(ctx, symbol)
}

// PlaceOrder passes through.
func (c *Cache) PlaceOrder(ctx context.Context, symbol string, side exchange.SideCode, size float64) (*exchange.OrderAck, error) {
	return c.client.PlaceOrder(ctx, symbol, side, size)
}

// UploadAILog passes through.
func (c *Cache) UploadAILog(ctx context.Context, log *exchange.AILogEntry) (*exchange.AILogAck, error) {
	return c.client.UploadAILog(ctx, log)
}
