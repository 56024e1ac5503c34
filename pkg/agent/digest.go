package agent

import (
	"context"
	"fmt"
	"math"

	"helmsman/pkg/exchange"
	"helmsman/pkg/market/indicators"
)

const (
	candleGranularity = "60"
	candleLimit       = 100
	depthTopLevels    = 10
)

// digest is the pre-computed numeric summary sent to the model. Only the
// sections a role needs are populated; empty sections are omitted from the
// JSON payload.
type digest struct {
	Symbol        string           `json:"symbol"`
	Ticker        *tickerDigest    `json:"ticker,omitempty"`
	Book          *bookDigest      `json:"book,omitempty"`
	Trend         *trendDigest     `json:"trend,omitempty"`
	Funding       *fundingDigest   `json:"funding,omitempty"`
	Account       *accountDigest   `json:"account,omitempty"`
	CounterThesis string           `json:"counterThesis,omitempty"`
}

type tickerDigest struct {
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume24h float64 `json:"volume24h"`
	Change24h float64 `json:"change24h"`
}

type bookDigest struct {
	Imbalance float64 `json:"imbalance"`
	SpreadBps float64 `json:"spreadBps"`
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
}

type trendDigest struct {
	RSI14       float64 `json:"rsi14"`
	EMAFast     float64 `json:"emaFast"`
	EMASlow     float64 `json:"emaSlow"`
	MACDHist    float64 `json:"macdHist,omitempty"`
	BollUpper   float64 `json:"bollUpper,omitempty"`
	BollLower   float64 `json:"bollLower,omitempty"`
	ATR14       float64 `json:"atr14,omitempty"`
	Change10Bar float64 `json:"change10Bar"`
}

type fundingDigest struct {
	Rate float64 `json:"rate"`
}

type accountDigest struct {
	Equity    float64            `json:"equity"`
	Available float64            `json:"available"`
	Positions []positionDigest   `json:"positions,omitempty"`
}

type positionDigest struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Size         float64 `json:"size"`
	UnrealizedPL float64 `json:"unrealizedPL"`
}

// gatherDigest fetches and pre-digests the role's input set. Any fetch
// failure aborts the whole digest; the caller turns that into a neutral
// report.
func gatherDigest(ctx context.Context, client exchange.Client, symbol string, role Role, counter string) (*digest, error) {
	d := &digest{Symbol: symbol}

	needTicker := role == RoleMarket || role == RoleSentiment || role == RoleBull ||
		role == RoleBear || role == RoleFundamentals
	needBook := role == RoleStructure || role == RoleMarket
	needTrend := role == RoleTechnical || role == RoleMomentum || role == RoleBull || role == RoleBear
	needFunding := role == RoleStructure || role == RoleSentiment || role == RoleBull ||
		role == RoleBear || role == RoleFundamentals
	needAccount := role == RoleStructure || role == RoleRisk

	if needTicker {
		ticker, err := client.GetTicker(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("agent: ticker: %w", err)
		}
		d.Ticker = &tickerDigest{
			Last:      ticker.Last,
			Bid:       ticker.Bid,
			Ask:       ticker.Ask,
			Volume24h: ticker.Volume24h,
			Change24h: ticker.Change24h,
		}
	}
	if needBook {
		depth, err := client.GetDepth(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("agent: depth: %w", err)
		}
		d.Book = digestBook(depth)
	}
	if needTrend {
		candles, err := client.GetCandles(ctx, symbol, candleGranularity, candleLimit)
		if err != nil {
			return nil, fmt.Errorf("agent: candles: %w", err)
		}
		d.Trend = digestTrend(candles, role)
	}
	if needFunding {
		funding, err := client.GetFundingRate(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("agent: funding: %w", err)
		}
		d.Funding = &fundingDigest{Rate: funding.Rate}
	}
	if needAccount {
		assets, err := client.GetAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent: assets: %w", err)
		}
		positions, err := client.GetPositions(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent: positions: %w", err)
		}
		d.Account = digestAccount(assets, positions)
	}
	if counter != "" && (role == RoleBull || role == RoleBear) {
		d.CounterThesis = counter
	}
	return d, nil
}

func digestBook(depth *exchange.Depth) *bookDigest {
	bids := make([]float64, 0, len(depth.Bids))
	for _, l := range depth.Bids {
		bids = append(bids, l.Qty)
	}
	asks := make([]float64, 0, len(depth.Asks))
	for _, l := range depth.Asks {
		asks = append(asks, l.Qty)
	}

	b := &bookDigest{
		Imbalance: indicators.OrderBookImbalance(bids, asks, depthTopLevels),
	}
	for i, q := range bids {
		if i >= depthTopLevels {
			break
		}
		b.BidVolume += q
	}
	for i, q := range asks {
		if i >= depthTopLevels {
			break
		}
		b.AskVolume += q
	}
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		bestBid := depth.Bids[0].Price
		bestAsk := depth.Asks[0].Price
		if mid := (bestBid + bestAsk) / 2; mid > 0 {
			b.SpreadBps = (bestAsk - bestBid) / mid * 10000
		}
	}
	return b
}

func digestTrend(candles []exchange.Candle, role Role) *trendDigest {
	closes := make([]float64, len(candles))
	klines := make([]indicators.Kline, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		klines[i] = indicators.Kline{High: c.High, Low: c.Low, Close: c.Close}
	}

	fast, slow := 9, 21
	if role == RoleMomentum {
		fast, slow = 20, 50
	}

	t := &trendDigest{
		RSI14:   lastFinite(indicators.RSI(closes, 14)),
		EMAFast: lastFinite(indicators.EMA(closes, fast)),
		EMASlow: lastFinite(indicators.EMA(closes, slow)),
	}
	if mom := indicators.Momentum(closes, 10); !math.IsNaN(mom) {
		t.Change10Bar = mom
	}
	if role == RoleTechnical {
		_, _, hist := indicators.MACD(closes)
		t.MACDHist = lastFinite(hist)
		_, upper, lower := indicators.Bollinger(closes, 20, 2)
		t.BollUpper = lastFinite(upper)
		t.BollLower = lastFinite(lower)
		t.ATR14 = lastFinite(indicators.ATR(klines, 14))
	}
	return t
}

func digestAccount(assets []exchange.Asset, positions []exchange.Position) *accountDigest {
	a := &accountDigest{}
	for _, asset := range assets {
		a.Equity += asset.Equity
		a.Available += asset.Available
	}
	for _, pos := range positions {
		a.Positions = append(a.Positions, positionDigest{
			Symbol:       pos.Symbol,
			Side:         pos.HoldSide,
			Size:         pos.Total,
			UnrealizedPL: pos.UnrealizedPL,
		})
	}
	return a
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
