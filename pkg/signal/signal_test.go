package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/pkg/exchange"
)

// linearRamp returns n prices evenly spaced from lo to hi.
func linearRamp(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func depthWithSums(bidSum, askSum float64) *exchange.Depth {
	d := &exchange.Depth{}
	for i := 0; i < 10; i++ {
		d.Bids = append(d.Bids, exchange.Level{Price: 88000 - float64(i), Qty: bidSum / 10})
		d.Asks = append(d.Asks, exchange.Level{Price: 88001 + float64(i), Qty: askSum / 10})
	}
	return d
}

func onlyWeight(set func(*Weights)) TradingConfig {
	cfg := DefaultTradingConfig()
	cfg.Weights = Weights{}
	set(&cfg.Weights)
	return cfg
}

func TestOBIChannel(t *testing.T) {
	cfg := onlyWeight(func(w *Weights) { w.OBI = 1 })

	got := Combine(nil, depthWithSums(100, 50), cfg)
	assert.InDelta(t, 1.0/3.0, got, 1e-9)

	assert.Zero(t, Combine(nil, nil, cfg))
	assert.Zero(t, Combine(nil, &exchange.Depth{}, cfg))
}

func TestOBIUsesTopTenLevels(t *testing.T) {
	cfg := onlyWeight(func(w *Weights) { w.OBI = 1 })
	d := depthWithSums(100, 100)
	// A huge 11th bid level must not influence the result.
	d.Bids = append(d.Bids, exchange.Level{Price: 87000, Qty: 1e9})
	assert.Zero(t, Combine(nil, d, cfg))
}

func TestRSIChannel(t *testing.T) {
	cfg := onlyWeight(func(w *Weights) { w.RSI = 1 })

	// Monotone rally drives RSI to 100, an overbought fade signal.
	assert.InDelta(t, -0.5, Combine(linearRamp(87000, 88000, 50), nil, cfg), 1e-9)
	// Monotone selloff drives RSI to 0, an oversold bounce signal.
	assert.InDelta(t, 0.5, Combine(linearRamp(88000, 87000, 50), nil, cfg), 1e-9)
	// Too little history contributes zero.
	assert.Zero(t, Combine(linearRamp(87000, 88000, 10), nil, cfg))
}

func TestEMAChannel(t *testing.T) {
	cfg := onlyWeight(func(w *Weights) { w.EMA = 1 })

	got := Combine(linearRamp(87000, 88000, 50), nil, cfg)
	assert.InDelta(t, 0.022080, got, 1e-6)

	// A price spike far above the EMA is clamped at +0.5.
	prices := linearRamp(100, 100, 30)
	prices[len(prices)-1] = 200
	assert.InDelta(t, 0.5, Combine(prices, nil, cfg), 1e-9)

	assert.Zero(t, Combine(linearRamp(100, 101, 5), nil, cfg))
}

func TestMomentumChannel(t *testing.T) {
	cfg := onlyWeight(func(w *Weights) { w.Momentum = 1 })

	got := Combine(linearRamp(87000, 88000, 50), nil, cfg)
	assert.InDelta(t, 0.046490, got, 1e-6)

	// A 10% move is clamped at the channel bound.
	prices := linearRamp(100, 100, 20)
	prices[len(prices)-1] = 110
	assert.InDelta(t, 0.5, Combine(prices, nil, cfg), 1e-9)

	assert.Zero(t, Combine(linearRamp(100, 101, 8), nil, cfg))
}

func TestCombineWeightedSum(t *testing.T) {
	cfg := DefaultTradingConfig()
	got := Combine(linearRamp(87000, 88000, 50), depthWithSums(100, 50), cfg)
	// obi +1/3, overbought rsi -0.5 at half weight, small ema and momentum terms.
	assert.InDelta(t, 0.151904, got, 1e-6)
}

func TestCombineBounded(t *testing.T) {
	cfg := DefaultTradingConfig()
	inputs := [][]float64{
		linearRamp(87000, 88000, 100),
		linearRamp(88000, 10, 100),
		linearRamp(1, 1e9, 60),
		nil,
	}
	for _, prices := range inputs {
		for _, d := range []*exchange.Depth{nil, depthWithSums(1e9, 0), depthWithSums(0, 1e9)} {
			got := Combine(prices, d, cfg)
			require.False(t, math.IsNaN(got))
			require.GreaterOrEqual(t, got, -2.0)
			require.LessOrEqual(t, got, 2.0)
		}
	}
}

func TestDefaultTradingConfigValid(t *testing.T) {
	require.NoError(t, DefaultTradingConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*TradingConfig)
	}{
		{"negative threshold", func(c *TradingConfig) { c.SignalThreshold = -0.1 }},
		{"confidence above one", func(c *TradingConfig) { c.MinConfidence = 1.5 }},
		{"zero risk per trade", func(c *TradingConfig) { c.RiskPerTrade = 0 }},
		{"zero max position", func(c *TradingConfig) { c.MaxPositionSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTradingConfig()
			tt.tweak(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
