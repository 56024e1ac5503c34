package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/pkg/exchange"
)

// ErrTripped reports that the circuit breaker latched and no trade is
// allowed until an operator resets it.
var ErrTripped = errors.New("risk: circuit breaker tripped")

// Limits are the static guard rails for one engine instance.
type Limits struct {
	MaxDailyLoss    float64 `json:"maxDailyLoss"`
	MinEquity       float64 `json:"minEquity"`
	MaxDrawdown     float64 `json:"maxDrawdown"`
	MaxPositionSize float64 `json:"maxPositionSize"`
}

// State is a point-in-time snapshot of the engine.
type State struct {
	Equity        float64
	InitialEquity float64
	PeakEquity    float64
	DailyPnL      float64
	PositionSize  float64
	OpenOrders    int
	Tripped       bool
	TripReason    string
}

// Update carries the fields a caller wants to change. Nil fields are left
// untouched.
type Update struct {
	Equity       *float64
	PositionSize *float64
	OpenOrders   *int
}

// Engine is the synchronous circuit breaker. Once tripped it stays tripped
// until Reset, regardless of later state updates.
type Engine struct {
	mu     sync.Mutex
	limits Limits
	state  State
}

// NewEngine builds an armed engine seeded with the starting equity.
func NewEngine(initialEquity float64, limits Limits) (*Engine, error) {
	if initialEquity <= 0 || math.IsNaN(initialEquity) {
		return nil, fmt.Errorf("risk: initial equity must be positive, got %v", initialEquity)
	}
	return &Engine{
		limits: limits,
		state: State{
			Equity:        initialEquity,
			InitialEquity: initialEquity,
			PeakEquity:    initialEquity,
		},
	}, nil
}

// UpdateState applies the partial update and maintains the derived fields.
// peakEquity only ratchets up; dailyPnL is always equity minus the initial
// equity. Trip conditions are evaluated after the update.
func (e *Engine) UpdateState(u Update) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Equity != nil {
		if math.IsNaN(*u.Equity) || math.IsInf(*u.Equity, 0) {
			panic(fmt.Sprintf("risk: non-finite equity update: %v", *u.Equity))
		}
		e.state.Equity = *u.Equity
		if e.state.Equity > e.state.PeakEquity {
			e.state.PeakEquity = e.state.Equity
		}
		e.state.DailyPnL = e.state.Equity - e.state.InitialEquity
	}
	if u.PositionSize != nil {
		e.state.PositionSize = *u.PositionSize
	}
	if u.OpenOrders != nil {
		e.state.OpenOrders = *u.OpenOrders
	}

	e.evaluateTripLocked()
}

// CanTrade reports whether the proposed order passes the guard rails. A
// rejected order never untripps the breaker; a violated trip condition
// latches it.
func (e *Engine) CanTrade(side exchange.SideCode, size, price float64) bool {
	if size < 0 || math.IsNaN(size) || price < 0 || math.IsNaN(price) {
		panic(fmt.Sprintf("risk: invalid order check size=%v price=%v", size, price))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Tripped {
		return false
	}

	projected := e.state.PositionSize
	switch side {
	case exchange.SideOpenLong, exchange.SideOpenShort:
		projected += size
	case exchange.SideCloseLong, exchange.SideCloseShort:
		projected -= size
	}
	if e.limits.MaxPositionSize > 0 && math.Abs(projected) > e.limits.MaxPositionSize {
		logx.Slowf("risk: order rejected, projected size %.6f exceeds cap %.6f",
			math.Abs(projected), e.limits.MaxPositionSize)
		return false
	}

	if e.evaluateTripLocked() {
		return false
	}
	return true
}

// Trip latches the breaker with the given reason.
func (e *Engine) Trip(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripLocked(reason)
}

// Reset re-arms the breaker. Operator action only.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Tripped {
		return
	}
	e.state.Tripped = false
	e.state.TripReason = ""
	logx.Infof("risk: circuit breaker reset, engine armed")
}

// Status returns a snapshot of the current state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Limits returns the configured guard rails.
func (e *Engine) Limits() Limits {
	return e.limits
}

func (e *Engine) evaluateTripLocked() bool {
	if e.state.Tripped {
		return true
	}
	if e.limits.MaxDailyLoss > 0 && e.state.DailyPnL < -e.limits.MaxDailyLoss {
		e.tripLocked(fmt.Sprintf("daily loss %.2f exceeds limit %.2f",
			-e.state.DailyPnL, e.limits.MaxDailyLoss))
		return true
	}
	if e.limits.MinEquity > 0 && e.state.Equity < e.limits.MinEquity {
		e.tripLocked(fmt.Sprintf("equity %.2f below minimum %.2f",
			e.state.Equity, e.limits.MinEquity))
		return true
	}
	if e.limits.MaxDrawdown > 0 && e.state.PeakEquity > 0 {
		drawdown := (e.state.PeakEquity - e.state.Equity) / e.state.PeakEquity
		if drawdown > e.limits.MaxDrawdown {
			e.tripLocked(fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%",
				drawdown*100, e.limits.MaxDrawdown*100))
			return true
		}
	}
	return false
}

func (e *Engine) tripLocked(reason string) {
	if e.state.Tripped {
		return
	}
	e.state.Tripped = true
	e.state.TripReason = reason
	logx.Errorf("risk: CIRCUIT BREAKER TRIPPED: %s", reason)
}
