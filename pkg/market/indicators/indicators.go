package indicators

import "math"

// EMA produces the exponential moving average for the supplied prices.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	result := make([]float64, len(prices))
	for i := range result {
		result[i] = math.NaN()
	}
	if len(prices) < period {
		return result
	}
	multiplier := 2.0 / float64(period+1)

	start := -1
	var seed float64
	for i := period - 1; i < len(prices); i++ {
		windowValid := true
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(prices[j]) {
				windowValid = false
				break
			}
			sum += prices[j]
		}
		if windowValid {
			start = i
			seed = sum / float64(period)
			break
		}
	}
	if start == -1 {
		return result
	}
	result[start] = seed

	for i := start + 1; i < len(prices); i++ {
		if math.IsNaN(prices[i]) {
			result[i] = result[i-1]
			continue
		}
		prev := result[i-1]
		if math.IsNaN(prev) {
			prev = seed
		}
		result[i] = (prices[i]-prev)*multiplier + prev
	}
	return result
}

// MACD returns MACD, signal, and histogram series.
func MACD(prices []float64) ([]float64, []float64, []float64) {
	if len(prices) == 0 {
		return []float64{}, []float64{}, []float64{}
	}
	ema12 := EMA(prices, 12)
	ema26 := EMA(prices, 26)

	macd := make([]float64, len(prices))
	for i := range prices {
		if math.IsNaN(ema12[i]) || math.IsNaN(ema26[i]) {
			macd[i] = math.NaN()
		} else {
			macd[i] = ema12[i] - ema26[i]
		}
	}

	signal := EMA(macd, 9)
	hist := make([]float64, len(prices))
	for i := range hist {
		if math.IsNaN(macd[i]) || math.IsNaN(signal[i]) {
			hist[i] = math.NaN()
		} else {
			hist[i] = macd[i] - signal[i]
		}
	}
	return macd, signal, hist
}

// RSI computes the Relative Strength Index across the supplied prices.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	rsi := make([]float64, len(prices))
	for i := range rsi {
		rsi[i] = math.NaN()
	}
	if len(prices) <= period {
		return rsi
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum -= change
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	rsi[period] = computeRSI(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain := math.Max(change, 0)
		loss := math.Max(-change, 0)

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)

		rsi[i] = computeRSI(avgGain, avgLoss)
	}
	return rsi
}

// ATR computes the Average True Range across the Kline series.
func ATR(klines []Kline, period int) []float64 {
	if period <= 0 || len(klines) == 0 {
		return []float64{}
	}
	tr := make([]float64, len(klines))
	for i := range klines {
		if i == 0 {
			tr[i] = klines[i].High - klines[i].Low
			continue
		}
		highLow := klines[i].High - klines[i].Low
		highClose := math.Abs(klines[i].High - klines[i-1].Close)
		lowClose := math.Abs(klines[i].Low - klines[i-1].Close)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}
	return EMA(tr, period)
}

// Bollinger returns middle, upper and lower band series using a simple
// moving average and k population standard deviations.
func Bollinger(prices []float64, period int, k float64) ([]float64, []float64, []float64) {
	n := len(prices)
	mid := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := range mid {
		mid[i], upper[i], lower[i] = math.NaN(), math.NaN(), math.NaN()
	}
	if period <= 0 || n < period {
		return mid, upper, lower
	}
	for i := period - 1; i < n; i++ {
		sum := 0.0
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(prices[j]) {
				valid = false
				break
			}
			sum += prices[j]
		}
		if !valid {
			continue
		}
		mean := sum / float64(period)
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		mid[i] = mean
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return mid, upper, lower
}

// OrderBookImbalance returns (sumBids - sumAsks) / (sumBids + sumAsks) over
// the top depth levels of each side. Zero when both sides are empty.
func OrderBookImbalance(bidQtys, askQtys []float64, depth int) float64 {
	sumSide := func(qtys []float64) float64 {
		total := 0.0
		for i, q := range qtys {
			if depth > 0 && i >= depth {
				break
			}
			total += q
		}
		return total
	}
	bids := sumSide(bidQtys)
	asks := sumSide(askQtys)
	if bids+asks == 0 {
		return 0
	}
	return (bids - asks) / (bids + asks)
}

// Momentum returns the relative price change over the given lookback.
// NaN when the series is too short or the base price is zero.
func Momentum(prices []float64, period int) float64 {
	n := len(prices)
	if period <= 0 || n <= period {
		return math.NaN()
	}
	base := prices[n-1-period]
	if base == 0 {
		return math.NaN()
	}
	return (prices[n-1] - base) / base
}

// VPIN averages |buy - sell| / (buy + sell) over paired volume buckets.
// Buckets with zero total volume are skipped.
func VPIN(buyVolumes, sellVolumes []float64) float64 {
	n := len(buyVolumes)
	if len(sellVolumes) < n {
		n = len(sellVolumes)
	}
	if n == 0 {
		return math.NaN()
	}
	sum := 0.0
	counted := 0
	for i := 0; i < n; i++ {
		total := buyVolumes[i] + sellVolumes[i]
		if total <= 0 {
			continue
		}
		sum += math.Abs(buyVolumes[i]-sellVolumes[i]) / total
		counted++
	}
	if counted == 0 {
		return math.NaN()
	}
	return sum / float64(counted)
}

// KellyFraction returns the Kelly criterion bet fraction for the given win
// rate and win/loss payoff ratio, clamped to [0, 1].
func KellyFraction(winRate, winLossRatio float64) float64 {
	if winLossRatio <= 0 || winRate <= 0 {
		return 0
	}
	f := winRate - (1-winRate)/winLossRatio
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Kline represents OHLCV input for ATR calculations.
type Kline struct {
	High  float64
	Low   float64
	Close float64
}

func computeRSI(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50.0
	case avgLoss == 0:
		return 100.0
	case avgGain == 0:
		return 0.0
	default:
		rs := avgGain / avgLoss
		return 100.0 - (100.0 / (1.0 + rs))
	}
}
