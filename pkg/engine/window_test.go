package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceWindowBounded(t *testing.T) {
	w := NewPriceWindow(3)
	assert.Zero(t, w.Len())
	assert.Zero(t, w.Last())

	w.Push(1)
	w.Push(2)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []float64{1, 2}, w.Prices())

	w.Push(3)
	w.Push(4)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{2, 3, 4}, w.Prices())
	assert.Equal(t, 4.0, w.Last())
}

func TestPriceWindowLengthInvariant(t *testing.T) {
	w := NewPriceWindow(100)
	for i := 1; i <= 250; i++ {
		w.Push(float64(i))
		want := i
		if want > 100 {
			want = 100
		}
		assert.Equal(t, want, w.Len())
	}
}

func TestPriceWindowDefaultSize(t *testing.T) {
	w := NewPriceWindow(0)
	for i := 0; i < 150; i++ {
		w.Push(float64(i))
	}
	assert.Equal(t, 100, w.Len())
}

func TestPricesReturnsCopy(t *testing.T) {
	w := NewPriceWindow(5)
	w.Push(1)
	got := w.Prices()
	got[0] = 99
	assert.Equal(t, []float64{1}, w.Prices())
}
