package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/pkg/coordinator"
	"helmsman/pkg/exchange"
	"helmsman/pkg/feed"
	"helmsman/pkg/journal"
	"helmsman/pkg/market/indicators"
	"helmsman/pkg/risk"
	"helmsman/pkg/signal"
)

const (
	defaultReconcileEvery = 500
	defaultDepthRefresh   = 10 * time.Second
	defaultFallbackPoll   = 5 * time.Second
	defaultStaleAfter     = 10 * time.Second

	// Weight of the advisory bias added to the local signal.
	biasWeight = 0.15
	// Roughly one tick in twenty gets a status line.
	statusSampleEvery = 20

	tickBuffer = 256
)

// AdvisoryView is the hot loop's read-only window into the strategic layer.
// *coordinator.Coordinator satisfies it.
type AdvisoryView interface {
	LatestAdvisory() *coordinator.Advisory
	TradingConfig() signal.TradingConfig
}

// TickSource feeds the loop. *feed.Feed satisfies it.
type TickSource interface {
	Latest() (feed.Tick, bool)
	OnTick(func(feed.Tick)) func()
	Degraded() bool
}

// Position is the loop's view of its single open position. Nil means flat.
type Position struct {
	Symbol     string
	Side       exchange.PositionSide
	Size       float64
	EntryPrice float64
}

// HotLoop is the synchronous per-tick evaluation and dispatch path for one
// symbol. It performs no model calls; its only REST traffic is the order
// itself, periodic reconciliation and the degraded-feed fallback poll.
type HotLoop struct {
	symbol   string
	risk     *risk.Engine
	advisor  AdvisoryView
	exchange exchange.Client
	source   TickSource

	window    *PriceWindow
	lastDepth *exchange.Depth
	position  *Position

	lastOrderAt time.Time
	tickCount   int64

	reconcileEvery int64
	depthRefresh   time.Duration
	fallbackPoll   time.Duration
	staleAfter     time.Duration

	clock     func() time.Time
	journal   *journal.Writer
	orderHook func(journal.OrderRecord)

	mu sync.RWMutex // guards position and lastOrderAt for observers

	ticks    chan feed.Tick
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	unsub    func()
}

// LoopOption tailors a HotLoop.
type LoopOption func(*HotLoop)

// WithReconcileEvery sets how many ticks elapse between position refreshes.
func WithReconcileEvery(n int64) LoopOption {
	return func(h *HotLoop) {
		if n > 0 {
			h.reconcileEvery = n
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(clock func() time.Time) LoopOption {
	return func(h *HotLoop) { h.clock = clock }
}

// WithJournal records every dispatched order.
func WithJournal(w *journal.Writer) LoopOption {
	return func(h *HotLoop) { h.journal = w }
}

// WithOrderHook registers a callback invoked after every dispatch attempt,
// successful or not. Called on the tick goroutine; keep it fast.
func WithOrderHook(fn func(journal.OrderRecord)) LoopOption {
	return func(h *HotLoop) { h.orderHook = fn }
}

// WithDepthRefresh sets the order book snapshot interval.
func WithDepthRefresh(d time.Duration) LoopOption {
	return func(h *HotLoop) {
		if d > 0 {
			h.depthRefresh = d
		}
	}
}

// WithFallbackPoll sets how often a stale feed triggers a REST ticker fetch.
func WithFallbackPoll(d time.Duration) LoopOption {
	return func(h *HotLoop) {
		if d > 0 {
			h.fallbackPoll = d
		}
	}
}

// WithStaleAfter sets the age beyond which the feed's latest tick counts as
// stale.
func WithStaleAfter(d time.Duration) LoopOption {
	return func(h *HotLoop) {
		if d > 0 {
			h.staleAfter = d
		}
	}
}

// NewHotLoop wires the loop for one symbol.
func NewHotLoop(symbol string, riskEngine *risk.Engine, advisor AdvisoryView, exClient exchange.Client, source TickSource, opts ...LoopOption) (*HotLoop, error) {
	if symbol == "" {
		return nil, fmt.Errorf("engine: symbol is required")
	}
	if riskEngine == nil {
		return nil, fmt.Errorf("engine: risk engine is required")
	}
	if advisor == nil {
		return nil, fmt.Errorf("engine: advisory view is required")
	}
	if exClient == nil {
		return nil, fmt.Errorf("engine: exchange client is required")
	}
	if source == nil {
		return nil, fmt.Errorf("engine: tick source is required")
	}
	h := &HotLoop{
		symbol:         symbol,
		risk:           riskEngine,
		advisor:        advisor,
		exchange:       exClient,
		source:         source,
		window:         NewPriceWindow(defaultWindowSize),
		reconcileEvery: defaultReconcileEvery,
		depthRefresh:   defaultDepthRefresh,
		fallbackPoll:   defaultFallbackPoll,
		staleAfter:     defaultStaleAfter,
		clock:          time.Now,
		ticks:          make(chan feed.Tick, tickBuffer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Start reconciles state from the exchange and begins consuming ticks.
func (h *HotLoop) Start(ctx context.Context) error {
	h.cancelMu.Lock()
	defer h.cancelMu.Unlock()
	if h.cancel != nil {
		return fmt.Errorf("engine: %s already started", h.symbol)
	}

	if err := h.reconcile(ctx); err != nil {
		return fmt.Errorf("engine: startup reconciliation: %w", err)
	}
	h.refreshDepth(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.unsub = h.source.OnTick(func(t feed.Tick) {
		select {
		case h.ticks <- t:
		default:
			logx.Slowf("engine: %s tick buffer full, dropping", h.symbol)
		}
	})
	go func() {
		defer close(h.done)
		h.run(runCtx)
	}()
	return nil
}

// Stop halts the loop. In-flight tick handling completes first.
func (h *HotLoop) Stop() {
	h.cancelMu.Lock()
	cancel, done, unsub := h.cancel, h.done, h.unsub
	h.cancel = nil
	h.unsub = nil
	h.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	cancel()
	<-done
}

// Status renders a one-line view for the supervisor heartbeat.
func (h *HotLoop) Status() string {
	state := h.risk.Status()
	age := "none"
	if adv := h.advisor.LatestAdvisory(); adv != nil {
		age = h.clock().Sub(adv.GeneratedAt).Round(time.Second).String()
	}
	armed := "armed"
	if state.Tripped {
		armed = "TRIPPED"
	}
	return fmt.Sprintf("%s eq=%.2f pos=%s advisory_age=%s risk=%s",
		h.symbol, state.Equity, h.positionBrief(), age, armed)
}

// Position returns the loop's current view of its position, nil when flat.
func (h *HotLoop) Position() *Position {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.position == nil {
		return nil
	}
	out := *h.position
	return &out
}

func (h *HotLoop) run(ctx context.Context) {
	depthTicker := time.NewTicker(h.depthRefresh)
	defer depthTicker.Stop()
	fallbackTicker := time.NewTicker(h.fallbackPoll)
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-h.ticks:
			h.handleTick(ctx, tick)
		case <-depthTicker.C:
			h.refreshDepth(ctx)
		case <-fallbackTicker.C:
			h.pollIfStale(ctx)
		}
	}
}

// handleTick runs the per-tick algorithm. At most one order per tick.
func (h *HotLoop) handleTick(ctx context.Context, tick feed.Tick) {
	if tick.LastPrice <= 0 || math.IsNaN(tick.LastPrice) {
		panic(fmt.Sprintf("engine: invalid tick price %v for %s", tick.LastPrice, h.symbol))
	}

	h.window.Push(tick.LastPrice)
	h.tickCount++
	if h.reconcileEvery > 0 && h.tickCount%h.reconcileEvery == 0 {
		if err := h.reconcile(ctx); err != nil {
			logx.Slowf("engine: %s reconciliation failed: %v", h.symbol, err)
		}
	}

	cfg := h.advisor.TradingConfig()
	now := h.clock()

	advisory := h.advisor.LatestAdvisory()
	action := coordinator.ActionHold
	effective := 0.0
	if advisory != nil && now.Sub(advisory.GeneratedAt) <= cfg.DecayWindow {
		action = advisory.Action
		effective = advisory.Confidence
	}

	prices := h.window.Prices()
	s := signal.Combine(prices, h.lastDepth, cfg)
	biased := s + biasWeight*bias(action, effective)

	if h.tickCount%statusSampleEvery == 0 {
		logx.Infof("engine: %s px=%.2f s=%.4f s'=%.4f action=%s conf=%.2f pos=%s",
			h.symbol, tick.LastPrice, s, biased, action, effective, h.positionBrief())
	}

	if !h.confirmed(action, effective, prices) {
		return
	}
	if !h.lastOrderAt.IsZero() && now.Sub(h.lastOrderAt) < cfg.Cooldown {
		return
	}
	if effective < cfg.MinConfidence {
		return
	}
	if math.Abs(biased) < cfg.SignalThreshold {
		return
	}

	dir, ok := directionOf(action)
	if !ok {
		return
	}
	code, ok := exchange.ResolveSideCode(dir, h.positionSide())
	if !ok {
		return
	}

	size := h.orderSize(code, tick.LastPrice, cfg)
	if size <= 0 {
		return
	}
	if !h.risk.CanTrade(code, size, tick.LastPrice) {
		return
	}

	h.dispatch(ctx, code, size, tick.LastPrice, biased, now)
}

// bias maps the advisory into a signed strength added to the local signal.
func bias(action coordinator.Action, confidence float64) float64 {
	switch action {
	case coordinator.ActionLong:
		return confidence
	case coordinator.ActionShort:
		return -confidence
	default:
		return 0
	}
}

// confirmed applies the local confirmation gate: a directional advisory
// needs either strong confidence or an RSI that leaves room in that
// direction. Close directives are always confirmed.
func (h *HotLoop) confirmed(action coordinator.Action, effective float64, prices []float64) bool {
	switch action {
	case coordinator.ActionClose:
		return true
	case coordinator.ActionLong, coordinator.ActionShort:
	default:
		return false
	}
	if effective > 0.7 {
		return true
	}
	series := indicators.RSI(prices, 14)
	if len(series) == 0 {
		return true
	}
	rsi := series[len(series)-1]
	if math.IsNaN(rsi) {
		return true
	}
	if action == coordinator.ActionLong {
		return rsi < 70
	}
	return rsi > 30
}

func directionOf(action coordinator.Action) (exchange.Direction, bool) {
	switch action {
	case coordinator.ActionLong:
		return exchange.DirectionLong, true
	case coordinator.ActionShort:
		return exchange.DirectionShort, true
	case coordinator.ActionClose:
		return exchange.DirectionClose, true
	default:
		return "", false
	}
}

func (h *HotLoop) positionSide() exchange.PositionSide {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.position == nil {
		return exchange.PositionFlat
	}
	return h.position.Side
}

// orderSize returns the size for the resolved side code: closes flatten the
// whole position, opens risk a fraction of equity scaled by price.
func (h *HotLoop) orderSize(code exchange.SideCode, price float64, cfg signal.TradingConfig) float64 {
	switch code {
	case exchange.SideCloseLong, exchange.SideCloseShort:
		h.mu.RLock()
		defer h.mu.RUnlock()
		if h.position == nil {
			return 0
		}
		return h.position.Size
	}

	equity := h.risk.Status().Equity
	size := equity * cfg.RiskPerTrade / price
	if size > cfg.MaxPositionSize {
		size = cfg.MaxPositionSize
	}
	return roundSize(size)
}

// roundSize rounds to the venue's five decimal places.
func roundSize(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

func (h *HotLoop) dispatch(ctx context.Context, code exchange.SideCode, size, price, biased float64, now time.Time) {
	ack, err := h.exchange.PlaceOrder(ctx, h.symbol, code, size)
	rec := &journal.OrderRecord{
		Timestamp: now,
		Symbol:    h.symbol,
		SideCode:  int(code),
		Side:      code.String(),
		Size:      size,
		Price:     price,
		Signal:    biased,
	}
	if err != nil {
		rec.Error = err.Error()
		logx.Errorf("engine: %s order %s size=%.5f failed: %v", h.symbol, code, size, err)
		h.writeJournal(rec)
		return
	}
	rec.OrderID = ack.OrderID

	h.mu.Lock()
	switch code {
	case exchange.SideOpenLong:
		h.position = &Position{Symbol: h.symbol, Side: exchange.PositionLong, Size: size, EntryPrice: price}
	case exchange.SideOpenShort:
		h.position = &Position{Symbol: h.symbol, Side: exchange.PositionShort, Size: size, EntryPrice: price}
	case exchange.SideCloseLong, exchange.SideCloseShort:
		h.position = nil
	}
	h.lastOrderAt = now
	posSize := 0.0
	if h.position != nil {
		posSize = h.position.Size
	}
	h.mu.Unlock()

	h.risk.UpdateState(risk.Update{PositionSize: &posSize})
	logx.Infof("engine: %s placed %s size=%.5f px=%.2f order=%s",
		h.symbol, code, size, price, ack.OrderID)
	h.writeJournal(rec)
}

func (h *HotLoop) writeJournal(rec *journal.OrderRecord) {
	if h.journal != nil {
		if _, err := h.journal.WriteOrder(rec); err != nil {
			logx.Slowf("engine: %s journal write failed: %v", h.symbol, err)
		}
	}
	if h.orderHook != nil {
		h.orderHook(*rec)
	}
}

// reconcile adopts the exchange's view of equity and the open position,
// overwriting optimistic state.
func (h *HotLoop) reconcile(ctx context.Context) error {
	assets, err := h.exchange.GetAssets(ctx)
	if err != nil {
		return fmt.Errorf("engine: assets: %w", err)
	}
	equity := 0.0
	for _, a := range assets {
		equity += a.Equity
	}
	if equity > 0 {
		h.risk.UpdateState(risk.Update{Equity: &equity})
	}

	positions, err := h.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: positions: %w", err)
	}
	var adopted *Position
	for _, p := range positions {
		if !symbolMatches(p.Symbol, h.symbol) || p.Total <= 0 {
			continue
		}
		side := exchange.PositionLong
		if p.HoldSide == "short" {
			side = exchange.PositionShort
		}
		adopted = &Position{
			Symbol:     h.symbol,
			Side:       side,
			Size:       p.Total,
			EntryPrice: p.AvgOpenPrice,
		}
		break
	}

	h.mu.Lock()
	h.position = adopted
	h.mu.Unlock()

	posSize := 0.0
	if adopted != nil {
		posSize = adopted.Size
	}
	h.risk.UpdateState(risk.Update{PositionSize: &posSize})
	return nil
}

func (h *HotLoop) refreshDepth(ctx context.Context) {
	depth, err := h.exchange.GetDepth(ctx, h.symbol)
	if err != nil {
		logx.Slowf("engine: %s depth refresh failed: %v", h.symbol, err)
		return
	}
	h.lastDepth = depth
}

// pollIfStale fetches one tick over REST when the stream has gone quiet, so
// a severed link degrades to slow polling instead of total blindness.
func (h *HotLoop) pollIfStale(ctx context.Context) {
	latest, ok := h.source.Latest()
	if ok && !h.source.Degraded() && h.clock().Sub(latest.Timestamp) <= h.staleAfter {
		return
	}
	ticker, err := h.exchange.GetTicker(ctx, h.symbol)
	if err != nil {
		logx.Slowf("engine: %s fallback ticker fetch failed: %v", h.symbol, err)
		return
	}
	if ticker.Last <= 0 {
		return
	}
	h.handleTick(ctx, feed.Tick{
		Symbol:    h.symbol,
		LastPrice: ticker.Last,
		Bid:       ticker.Bid,
		Ask:       ticker.Ask,
		Volume24h: ticker.Volume24h,
		Timestamp: h.clock(),
	})
}

func (h *HotLoop) positionBrief() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.position == nil {
		return "flat"
	}
	return fmt.Sprintf("%s/%.5f", h.position.Side, h.position.Size)
}

func symbolMatches(venueSymbol, symbol string) bool {
	return venueSymbol == symbol || strings.HasPrefix(venueSymbol, symbol+"_")
}
