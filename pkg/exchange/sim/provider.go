package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"helmsman/pkg/exchange"
)

const (
	defaultInitialEquity = 100000.0
	defaultFallbackPrice = 100.0
)

// Provider is a paper-trading implementation of exchange.Client that keeps
// market data, positions and equity in-memory. Market data is settable so
// tests and dry runs can script exact conditions.
type Provider struct {
	mu sync.Mutex

	tickers  map[string]exchange.Ticker
	depths   map[string]exchange.Depth
	candles  map[string][]exchange.Candle
	fundings map[string]exchange.FundingRate

	positions map[string]*positionState
	orders    []exchange.OrderRecord
	aiLogs    []exchange.AILogEntry

	initialEquity float64
	cash          float64
	nextOrderID   int64

	clock func() time.Time
}

type positionState struct {
	Symbol string
	Qty    float64 // positive long, negative short
	Entry  float64 // average entry price
}

// New constructs a simulator with default equity.
func New() *Provider {
	return &Provider{
		tickers:       make(map[string]exchange.Ticker),
		depths:        make(map[string]exchange.Depth),
		candles:       make(map[string][]exchange.Candle),
		fundings:      make(map[string]exchange.FundingRate),
		positions:     make(map[string]*positionState),
		initialEquity: defaultInitialEquity,
		cash:          defaultInitialEquity,
		nextOrderID:   1,
		clock:         time.Now,
	}
}

// WithClock overrides the timestamp source. Test hook.
func (p *Provider) WithClock(clock func() time.Time) *Provider {
	p.clock = clock
	return p
}

// SetEquity resets cash to the given value, discarding open positions.
func (p *Provider) SetEquity(equity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialEquity = equity
	p.cash = equity
	p.positions = make(map[string]*positionState)
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// SetTicker installs the latest ticker for a symbol. The last price also
// becomes the fill price for subsequent orders.
func (p *Provider) SetTicker(symbol string, t exchange.Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.Symbol = canonical(symbol)
	p.tickers[t.Symbol] = t
}

// SetDepth installs the order book snapshot for a symbol.
func (p *Provider) SetDepth(symbol string, d exchange.Depth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depths[canonical(symbol)] = d
}

// SetCandles installs the candle history for a symbol, oldest first.
func (p *Provider) SetCandles(symbol string, cs []exchange.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[canonical(symbol)] = append([]exchange.Candle(nil), cs...)
}

// SetFundingRate installs the current funding rate for a symbol.
func (p *Provider) SetFundingRate(symbol string, f exchange.FundingRate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.Symbol = canonical(symbol)
	p.fundings[f.Symbol] = f
}

// SetPosition force-installs a position, bypassing order flow. Used to seed
// reconciliation scenarios.
func (p *Provider) SetPosition(symbol, holdSide string, qty, entry float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := canonical(symbol)
	if qty == 0 {
		delete(p.positions, sym)
		return
	}
	signed := qty
	if holdSide == "short" {
		signed = -qty
	}
	p.positions[sym] = &positionState{Symbol: sym, Qty: signed, Entry: entry}
}

// Orders returns a copy of every order placed so far, oldest first.
func (p *Provider) Orders() []exchange.OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exchange.OrderRecord(nil), p.orders...)
}

// AILogs returns a copy of every uploaded audit entry.
func (p *Provider) AILogs() []exchange.AILogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exchange.AILogEntry(nil), p.aiLogs...)
}

// GetTicker returns the installed ticker or an error when none was set.
func (p *Provider) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickers[canonical(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: no ticker for %s", symbol)
	}
	out := t
	return &out, nil
}

// GetDepth returns the installed order book snapshot.
func (p *Provider) GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.depths[canonical(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: no depth for %s", symbol)
	}
	out := exchange.Depth{
		Bids: append([]exchange.Level(nil), d.Bids...),
		Asks: append([]exchange.Level(nil), d.Asks...),
	}
	return &out, nil
}

// GetCandles returns up to limit most recent candles, oldest first.
func (p *Provider) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]exchange.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.candles[canonical(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: no candles for %s", symbol)
	}
	if limit > 0 && len(cs) > limit {
		cs = cs[len(cs)-limit:]
	}
	return append([]exchange.Candle(nil), cs...), nil
}

// GetFundingRate returns the installed funding rate, defaulting to zero.
func (p *Provider) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := canonical(symbol)
	f, ok := p.fundings[sym]
	if !ok {
		f = exchange.FundingRate{Symbol: sym}
	}
	out := f
	return &out, nil
}

// GetAssets reports a single USDT margin asset holding current equity.
func (p *Provider) GetAssets(ctx context.Context) ([]exchange.Asset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash + p.unrealizedLocked()
	return []exchange.Asset{{
		Coin:      "USDT",
		Equity:    equity,
		Available: equity,
	}}, nil
}

// GetPositions returns open positions with mark-to-market unrealised PnL.
func (p *Provider) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]exchange.Position, 0, len(p.positions))
	for sym, state := range p.positions {
		mark := p.markPriceLocked(sym)
		holdSide := "long"
		if state.Qty < 0 {
			holdSide = "short"
		}
		out = append(out, exchange.Position{
			Symbol:       sym,
			HoldSide:     holdSide,
			Total:        math.Abs(state.Qty),
			AvgOpenPrice: state.Entry,
			UnrealizedPL: state.Qty * (mark - state.Entry),
		})
	}
	return out, nil
}

// GetOrderHistory returns recorded orders for the symbol, oldest first.
func (p *Provider) GetOrderHistory(ctx context.Context, symbol string) ([]exchange.OrderRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := canonical(symbol)
	var out []exchange.OrderRecord
	for _, o := range p.orders {
		if o.Symbol == sym {
			out = append(out, o)
		}
	}
	return out, nil
}

// PlaceOrder fills a market order at the latest ticker price and mutates the
// position according to the side code. Close sides against a flat book fill
// with size zero rather than erroring.
func (p *Provider) PlaceOrder(ctx context.Context, symbol string, side exchange.SideCode, size float64) (*exchange.OrderAck, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("sim: invalid side code %d", side)
	}
	if size <= 0 {
		return nil, fmt.Errorf("sim: size must be positive, got %v", size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sym := canonical(symbol)
	price := p.markPriceLocked(sym)

	delta, reduceOnly := sideDelta(side, size)
	state := p.positions[sym]

	execDelta := delta
	if reduceOnly {
		if state == nil || state.Qty == 0 || state.Qty*delta > 0 {
			execDelta = 0
		} else if math.Abs(delta) > math.Abs(state.Qty) {
			execDelta = -state.Qty
		}
	}

	if execDelta != 0 {
		if state == nil {
			state = &positionState{Symbol: sym}
			p.positions[sym] = state
		}
		oldQty := state.Qty
		newQty := oldQty + execDelta

		if oldQty != 0 && oldQty*execDelta < 0 {
			closeQty := math.Min(math.Abs(oldQty), math.Abs(execDelta))
			dir := 1.0
			if oldQty < 0 {
				dir = -1.0
			}
			p.cash += closeQty * (price - state.Entry) * dir
		}

		switch {
		case oldQty == 0:
			state.Entry = price
		case oldQty*execDelta > 0:
			state.Entry = ((oldQty * state.Entry) + (execDelta * price)) / newQty
		case oldQty*newQty < 0:
			state.Entry = price
		}

		state.Qty = newQty
		if math.Abs(state.Qty) < 1e-10 {
			delete(p.positions, sym)
		}
	}

	oid := fmt.Sprintf("sim-%d", p.nextOrderID)
	p.nextOrderID++
	p.orders = append(p.orders, exchange.OrderRecord{
		OrderID:    oid,
		Symbol:     sym,
		Side:       side.String(),
		Size:       math.Abs(execDelta),
		FillPrice:  price,
		Status:     "filled",
		CreateTime: p.clock().UnixMilli(),
	})
	return &exchange.OrderAck{OrderID: oid}, nil
}

// UploadAILog records the audit entry in-memory and always accepts it.
func (p *Provider) UploadAILog(ctx context.Context, entry *exchange.AILogEntry) (*exchange.AILogAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aiLogs = append(p.aiLogs, *entry)
	return &exchange.AILogAck{Code: "00000", Msg: "success"}, nil
}

// sideDelta maps a side code to a signed quantity delta and whether the order
// may only reduce an existing position.
func sideDelta(side exchange.SideCode, size float64) (delta float64, reduceOnly bool) {
	switch side {
	case exchange.SideOpenLong:
		return size, false
	case exchange.SideOpenShort:
		return -size, false
	case exchange.SideCloseLong:
		return -size, true
	case exchange.SideCloseShort:
		return size, true
	}
	return 0, false
}

func (p *Provider) markPriceLocked(symbol string) float64 {
	if t, ok := p.tickers[symbol]; ok && t.Last > 0 {
		return t.Last
	}
	if state, ok := p.positions[symbol]; ok && state.Entry > 0 {
		return state.Entry
	}
	return defaultFallbackPrice
}

func (p *Provider) unrealizedLocked() float64 {
	total := 0.0
	for sym, state := range p.positions {
		total += state.Qty * (p.markPriceLocked(sym) - state.Entry)
	}
	return total
}
