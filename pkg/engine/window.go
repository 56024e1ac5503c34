package engine

// PriceWindow holds the most recent N prices, oldest first. Owned by exactly
// one hot loop; not safe for concurrent use.
type PriceWindow struct {
	prices []float64
	max    int
}

const defaultWindowSize = 100

// NewPriceWindow builds a window bounded at n prices (default 100).
func NewPriceWindow(n int) *PriceWindow {
	if n <= 0 {
		n = defaultWindowSize
	}
	return &PriceWindow{max: n}
}

// Push appends a price, evicting the oldest when full.
func (w *PriceWindow) Push(price float64) {
	if len(w.prices) == w.max {
		copy(w.prices, w.prices[1:])
		w.prices[len(w.prices)-1] = price
		return
	}
	w.prices = append(w.prices, price)
}

// Len returns the number of stored prices.
func (w *PriceWindow) Len() int { return len(w.prices) }

// Prices returns a copy of the window, oldest first.
func (w *PriceWindow) Prices() []float64 {
	return append([]float64(nil), w.prices...)
}

// Last returns the newest price, or zero when empty.
func (w *PriceWindow) Last() float64 {
	if len(w.prices) == 0 {
		return 0
	}
	return w.prices[len(w.prices)-1]
}
