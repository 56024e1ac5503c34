package signal

import (
	"fmt"
	"math"
	"time"

	"helmsman/pkg/exchange"
	"helmsman/pkg/market/indicators"
)

const (
	obiDepthLevels = 10
	rsiPeriod      = 14
	emaPeriod      = 20
	momentumPeriod = 10
)

// Weights scale each channel's bounded contribution.
type Weights struct {
	OBI      float64 `json:"obi"`
	RSI      float64 `json:"rsi"`
	EMA      float64 `json:"ema"`
	Momentum float64 `json:"momentum"`
	Funding  float64 `json:"funding"`
}

// TradingConfig bundles the channel weights, execution thresholds and risk
// limits the hot loop reads on every tick. Single writer, many readers:
// the coordinator publishes a fresh immutable value after each cycle.
type TradingConfig struct {
	Weights Weights `json:"weights"`

	SignalThreshold float64       `json:"signalThreshold"`
	MinConfidence   float64       `json:"minConfidence"`
	Cooldown        time.Duration `json:"cooldown"`
	DecayWindow     time.Duration `json:"decayWindow"`

	RiskPerTrade    float64 `json:"riskPerTrade"`
	MaxPositionSize float64 `json:"maxPositionSize"`
}

// DefaultTradingConfig returns the baseline configuration used before the
// coordinator publishes its first tuned copy.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		Weights: Weights{
			OBI:      1.0,
			RSI:      0.5,
			EMA:      1.0,
			Momentum: 1.0,
		},
		SignalThreshold: 0.2,
		MinConfidence:   0.6,
		Cooldown:        5 * time.Second,
		DecayWindow:     60 * time.Second,
		RiskPerTrade:    0.02,
		MaxPositionSize: 0.05,
	}
}

// Validate rejects configurations the hot loop cannot operate on.
func (c TradingConfig) Validate() error {
	if c.SignalThreshold < 0 {
		return fmt.Errorf("signal: threshold must be non-negative, got %v", c.SignalThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("signal: minConfidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("signal: riskPerTrade must be in (0,1], got %v", c.RiskPerTrade)
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("signal: maxPositionSize must be positive, got %v", c.MaxPositionSize)
	}
	return nil
}

// Combine folds the four local channels into one scalar. Pure and
// deterministic; channels lacking the required history contribute zero.
// The sum is not re-normalized, so the output is bounded by the channel
// clamps times the weights.
func Combine(prices []float64, depth *exchange.Depth, cfg TradingConfig) float64 {
	total := obiChannel(depth)*cfg.Weights.OBI +
		rsiChannel(prices)*cfg.Weights.RSI +
		emaChannel(prices)*cfg.Weights.EMA +
		momentumChannel(prices)*cfg.Weights.Momentum

	if math.IsNaN(total) || math.IsInf(total, 0) {
		panic(fmt.Sprintf("signal: non-finite combined signal %v", total))
	}
	return total
}

func obiChannel(depth *exchange.Depth) float64 {
	if depth == nil || (len(depth.Bids) == 0 && len(depth.Asks) == 0) {
		return 0
	}
	bids := make([]float64, 0, len(depth.Bids))
	for _, l := range depth.Bids {
		bids = append(bids, l.Qty)
	}
	asks := make([]float64, 0, len(depth.Asks))
	for _, l := range depth.Asks {
		asks = append(asks, l.Qty)
	}
	return indicators.OrderBookImbalance(bids, asks, obiDepthLevels)
}

func rsiChannel(prices []float64) float64 {
	series := indicators.RSI(prices, rsiPeriod)
	if len(series) == 0 {
		return 0
	}
	rsi := series[len(series)-1]
	switch {
	case math.IsNaN(rsi):
		return 0
	case rsi < 30:
		return 0.5
	case rsi > 70:
		return -0.5
	default:
		return 0
	}
}

func emaChannel(prices []float64) float64 {
	series := indicators.EMA(prices, emaPeriod)
	if len(series) == 0 {
		return 0
	}
	ema := series[len(series)-1]
	if math.IsNaN(ema) || ema == 0 {
		return 0
	}
	price := prices[len(prices)-1]
	return clamp((price-ema)/ema*10, -0.5, 0.5)
}

func momentumChannel(prices []float64) float64 {
	mom := indicators.Momentum(prices, momentumPeriod)
	if math.IsNaN(mom) {
		return 0
	}
	return clamp(mom*20, -0.5, 0.5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
