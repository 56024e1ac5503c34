package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultPingInterval  = 20 * time.Second
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 30 * time.Second
	defaultMaxFailures   = 6
)

// ErrDegraded reports that the feed gave up reconnecting after too many
// consecutive failures.
var ErrDegraded = errors.New("feed: link severed")

// Tick is an immutable snapshot of the latest market state for one symbol.
type Tick struct {
	Symbol    string
	LastPrice float64
	Bid       float64
	Ask       float64
	Volume24h float64
	Timestamp time.Time
}

// Config controls one feed instance. Zero fields take defaults.
type Config struct {
	URL    string
	Symbol string

	PingInterval  time.Duration
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxFailures   int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
}

// Feed maintains one live WebSocket stream for one symbol and fans ticks out
// to subscribers. It reconnects with exponential backoff and turns degraded
// after MaxFailures consecutive failures.
type Feed struct {
	cfg Config

	mu       sync.RWMutex
	latest   *Tick
	degraded bool
	subs     map[int]func(Tick)
	nextSub  int

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a feed for the given stream URL and symbol.
func New(cfg Config) (*Feed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed: url is required")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("feed: symbol is required")
	}
	cfg.applyDefaults()
	return &Feed{
		cfg:  cfg,
		subs: make(map[int]func(Tick)),
	}, nil
}

// Start launches the connection loop. Calling Start twice is an error.
func (f *Feed) Start(ctx context.Context) error {
	f.cancelMu.Lock()
	defer f.cancelMu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("feed: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		f.run(runCtx)
	}()
	return nil
}

// Stop tears the connection down and waits for the loop to exit.
func (f *Feed) Stop() {
	f.cancelMu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Latest returns the most recent tick, or false before any frame arrived.
func (f *Feed) Latest() (Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return Tick{}, false
	}
	return *f.latest, true
}

// Degraded reports whether the feed stopped reconnecting.
func (f *Feed) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// OnTick registers a callback invoked once per emitted tick. The returned
// function cancels the subscription. Subscribers only observe ticks emitted
// after registration.
func (f *Feed) OnTick(fn func(Tick)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// subscribeFrame is the channel subscription sent right after dialing.
type subscribeFrame struct {
	Op   string            `json:"op"`
	Args []subscriptionArg `json:"args"`
}

type subscriptionArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// pushFrame is an inbound data frame from the public stream.
type pushFrame struct {
	Action string `json:"action"`
	Arg    struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []tickPayload `json:"data"`
}

type tickPayload struct {
	Last   json.Number `json:"last"`
	BidPx  json.Number `json:"bidPx"`
	AskPx  json.Number `json:"askPx"`
	Vol24h json.Number `json:"vol24h"`
	Ts     json.Number `json:"ts"`
}

func (f *Feed) run(ctx context.Context) {
	delay := f.cfg.ReconnectBase
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		healthy, err := f.runConn(ctx)
		if ctx.Err() != nil {
			return
		}
		if healthy {
			// A session that delivered data resets the failure streak.
			failures = 0
			delay = f.cfg.ReconnectBase
		}
		failures++
		logx.Errorf("feed: %s stream closed (failure %d/%d): %v",
			f.cfg.Symbol, failures, f.cfg.MaxFailures, err)
		if failures >= f.cfg.MaxFailures {
			f.mu.Lock()
			f.degraded = true
			f.mu.Unlock()
			logx.Errorf("feed: %s %v", f.cfg.Symbol, ErrDegraded)
			return
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay, f.cfg.ReconnectMax)
	}
}

// runConn drives a single connection until it fails. healthy reports whether
// at least one data frame was parsed during the session.
func (f *Feed) runConn(ctx context.Context) (healthy bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("feed: dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeText := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	sub := subscribeFrame{
		Op: "subscribe",
		Args: []subscriptionArg{
			{Channel: "ticker", InstID: f.cfg.Symbol},
			{Channel: "candle1m", InstID: f.cfg.Symbol},
		},
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	if err := writeText(raw); err != nil {
		return false, fmt.Errorf("feed: subscribe: %w", err)
	}

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := writeText([]byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return healthy, ctx.Err()
			}
			return healthy, fmt.Errorf("feed: read: %w", err)
		}
		switch string(payload) {
		case "ping":
			if err := writeText([]byte("pong")); err != nil {
				return healthy, fmt.Errorf("feed: pong: %w", err)
			}
			continue
		case "pong":
			continue
		}
		if f.handleFrame(payload) {
			healthy = true
		}
	}
}

// handleFrame parses one inbound frame. Parse errors and off-channel frames
// are dropped. Returns whether the frame carried usable data.
func (f *Feed) handleFrame(payload []byte) bool {
	var frame pushFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return false
	}
	if frame.Action != "push" || len(frame.Data) == 0 {
		return false
	}
	if frame.Arg.Channel != "ticker" && frame.Arg.Channel != "candle1m" {
		return false
	}

	data := frame.Data[len(frame.Data)-1]
	last, err := data.Last.Float64()
	if err != nil || last <= 0 {
		return false
	}
	bid, _ := data.BidPx.Float64()
	ask, _ := data.AskPx.Float64()
	vol, _ := data.Vol24h.Float64()
	tsMillis, _ := data.Ts.Int64()
	ts := time.Now()
	if tsMillis > 0 {
		ts = time.UnixMilli(tsMillis)
	}

	tick := Tick{
		Symbol:    f.cfg.Symbol,
		LastPrice: last,
		Bid:       bid,
		Ask:       ask,
		Volume24h: vol,
		Timestamp: ts,
	}

	f.mu.Lock()
	if f.latest != nil && f.latest.LastPrice == tick.LastPrice {
		f.mu.Unlock()
		return true
	}
	f.latest = &tick
	subs := make([]func(Tick), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(tick)
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	if current <= 0 {
		return defaultReconnectBase
	}
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
