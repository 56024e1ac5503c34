package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/pkg/exchange"
	"helmsman/pkg/llm"
)

const (
	defaultInterval = 12 * time.Second
	// Model calls get the cycle interval minus this headroom so a slow call
	// never bleeds into the next cycle.
	callHeadroom = 2 * time.Second
)

// Signal is the direction an analyst reports.
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// Report is one analyst's latest view. Exactly one per agent is retained.
type Report struct {
	AgentName  string         `json:"agentName"`
	Role       Role           `json:"role"`
	Timestamp  time.Time      `json:"timestamp"`
	Signal     Signal         `json:"signal"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// reportContract is the strict shape requested from the model.
type reportContract struct {
	Signal     string         `json:"signal" jsonschema_description:"bullish, bearish or neutral"`
	Confidence float64        `json:"confidence" jsonschema_description:"0.0 to 1.0"`
	Reasoning  string         `json:"reasoning" jsonschema_description:"one or two sentences"`
	Data       map[string]any `json:"data,omitempty" jsonschema_description:"key numeric observations"`
}

// Agent runs one analyst on a fixed cycle. Cycles never overlap: the next
// cycle starts on schedule only if the previous one has stored its report.
type Agent struct {
	name     string
	role     Role
	symbol   string
	interval time.Duration

	llm      llm.LLMClient
	exchange exchange.Client
	clock    func() time.Time

	// counterpart supplies the opposing thesis for bull/bear roles.
	counterpart func() *Report

	mu      sync.RWMutex
	latest  *Report
	subs    map[int]func(Report)
	nextSub int

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option tailors an Agent.
type Option func(*Agent)

// WithInterval overrides the analysis cycle interval.
func WithInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(a *Agent) { a.clock = clock }
}

// WithCounterpart wires the opposing advocate's latest report into this
// agent's prompt. Only meaningful for the bull and bear roles.
func WithCounterpart(latest func() *Report) Option {
	return func(a *Agent) { a.counterpart = latest }
}

// New constructs an agent for one symbol and role.
func New(name string, role Role, symbol string, llmClient llm.LLMClient, exClient exchange.Client, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if _, ok := allRoles[role]; !ok {
		return nil, fmt.Errorf("agent: unknown role %q", role)
	}
	if symbol == "" {
		return nil, fmt.Errorf("agent: symbol is required")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("agent: llm client is required")
	}
	if exClient == nil {
		return nil, fmt.Errorf("agent: exchange client is required")
	}
	a := &Agent{
		name:     name,
		role:     role,
		symbol:   symbol,
		interval: defaultInterval,
		llm:      llmClient,
		exchange: exClient,
		clock:    time.Now,
		subs:     make(map[int]func(Report)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Role returns the agent's role.
func (a *Agent) Role() Role { return a.role }

// Start launches the analysis loop. The first cycle runs immediately.
func (a *Agent) Start(ctx context.Context) error {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	if a.cancel != nil {
		return fmt.Errorf("agent: %s already started", a.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.run(runCtx)
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (a *Agent) Stop() {
	a.cancelMu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LatestReport returns the most recent report, or nil before the first cycle.
func (a *Agent) LatestReport() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return nil
	}
	out := *a.latest
	return &out
}

// OnReport registers a callback invoked once per stored report. The returned
// function cancels the subscription.
func (a *Agent) OnReport(fn func(Report)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *Agent) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle runs one analysis round. It never returns an error: every failure
// becomes a neutral report.
func (a *Agent) cycle(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()

	report, err := a.analyze(callCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logx.Slowf("agent: %s (%s) cycle failed, reporting neutral: %v", a.name, a.role, err)
		report = &Report{
			AgentName:  a.name,
			Role:       a.role,
			Timestamp:  a.clock(),
			Signal:     SignalNeutral,
			Confidence: 0.5,
			Reasoning:  fmt.Sprintf("error: %v", err),
		}
	}
	a.store(*report)
}

func (a *Agent) callTimeout() time.Duration {
	if a.interval > callHeadroom*2 {
		return a.interval - callHeadroom
	}
	return a.interval / 2
}

func (a *Agent) analyze(ctx context.Context) (*Report, error) {
	counter := ""
	if a.counterpart != nil {
		if peer := a.counterpart(); peer != nil {
			counter = fmt.Sprintf("%s (%s): %s", peer.AgentName, peer.Signal, peer.Reasoning)
		}
	}

	d, err := gatherDigest(ctx, a.exchange, a.symbol, a.role, counter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal digest: %w", err)
	}

	req := &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: a.role.SystemPrompt()},
			{Role: "user", Content: string(payload)},
		},
	}
	var out reportContract
	if err := a.llm.ChatStructured(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("agent: model call: %w", err)
	}

	return &Report{
		AgentName:  a.name,
		Role:       a.role,
		Timestamp:  a.clock(),
		Signal:     normalizeSignal(out.Signal),
		Confidence: clampUnit(out.Confidence),
		Reasoning:  out.Reasoning,
		Payload:    out.Data,
	}, nil
}

func (a *Agent) store(report Report) {
	a.mu.Lock()
	a.latest = &report
	subs := make([]func(Report), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(report)
	}
}

func normalizeSignal(s string) Signal {
	switch Signal(strings.ToLower(strings.TrimSpace(s))) {
	case SignalBullish:
		return SignalBullish
	case SignalBearish:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
