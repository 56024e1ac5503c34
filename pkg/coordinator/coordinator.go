package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/pkg/agent"
	"helmsman/pkg/exchange"
	"helmsman/pkg/llm"
	"helmsman/pkg/signal"
)

const (
	defaultInterval = 30 * time.Second
	defaultWarmup   = 10 * time.Second
	// A cycle needs at least this many agent reports to run.
	minReports = 2

	sizeHintFloor = 0.005
	sizeHintCeil  = 0.05
)

// Action is the coordinator's directive to the hot loop.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
)

// Advisory is the fused strategic view published once per cycle. Immutable
// after publication; the hot loop only ever sees the most recent one.
type Advisory struct {
	Action           Action                  `json:"action"`
	Confidence       float64                 `json:"confidence"`
	PositionSizeHint float64                 `json:"positionSizeHint"`
	StopLossPct      float64                 `json:"stopLossPct,omitempty"`
	TakeProfitPct    float64                 `json:"takeProfitPct,omitempty"`
	Reasoning        string                  `json:"reasoning"`
	GeneratedAt      time.Time               `json:"generatedAt"`
	AgentVotes       map[string]agent.Signal `json:"agentVotes,omitempty"`
}

// advisoryContract is the strict shape requested from the model.
type advisoryContract struct {
	Action           string  `json:"action" jsonschema_description:"long, short, hold or close"`
	Confidence       float64 `json:"confidence" jsonschema_description:"0.0 to 1.0"`
	PositionSizeHint float64 `json:"positionSizeHint" jsonschema_description:"fraction of equity, 0.005 to 0.05"`
	StopLossPct      float64 `json:"stopLossPct,omitempty"`
	TakeProfitPct    float64 `json:"takeProfitPct,omitempty"`
	Reasoning        string  `json:"reasoning"`
}

const systemPrompt = `You are the lead coordinator of a perpetual futures trading desk. ` +
	`You receive the latest report from each analyst. Fuse them into one directive. ` +
	`Rules: default to "hold" unless at least two analysts agree on a direction or ` +
	`one analyst reports confidence above 0.7. Respond with a JSON object: ` +
	`{"action": "long"|"short"|"hold"|"close", "confidence": 0.0-1.0, ` +
	`"positionSizeHint": 0.005-0.05, "stopLossPct": number, "takeProfitPct": number, ` +
	`"reasoning": "<short>"}.`

// Analyst is the coordinator's view of one agent. *agent.Agent satisfies it.
type Analyst interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	LatestReport() *agent.Report
}

// Coordinator owns an ordered set of agents for one symbol and periodically
// fuses their reports into an advisory.
type Coordinator struct {
	symbol   string
	interval time.Duration
	warmup   time.Duration

	llm   llm.LLMClient
	audit exchange.Client
	clock func() time.Time

	agents []Analyst

	mu       sync.RWMutex
	latest   *Advisory
	tradeCfg signal.TradingConfig
	subs     map[int]func(Advisory)
	nextSub  int

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option tailors a Coordinator.
type Option func(*Coordinator)

// WithInterval overrides the decision cycle interval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithWarmup overrides the delay before the first cycle.
func WithWarmup(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.warmup = d
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithAuditClient enables fire-and-forget model-interaction audit uploads
// after each cycle.
func WithAuditClient(client exchange.Client) Option {
	return func(c *Coordinator) { c.audit = client }
}

// WithTradingConfig overrides the baseline trading configuration the
// coordinator republishes each cycle.
func WithTradingConfig(cfg signal.TradingConfig) Option {
	return func(c *Coordinator) { c.tradeCfg = cfg }
}

// New constructs a coordinator for one symbol.
func New(symbol string, llmClient llm.LLMClient, opts ...Option) (*Coordinator, error) {
	if symbol == "" {
		return nil, fmt.Errorf("coordinator: symbol is required")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("coordinator: llm client is required")
	}
	c := &Coordinator{
		symbol:   symbol,
		interval: defaultInterval,
		warmup:   defaultWarmup,
		llm:      llmClient,
		clock:    time.Now,
		tradeCfg: signal.DefaultTradingConfig(),
		subs:     make(map[int]func(Advisory)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.tradeCfg.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// AddAgent registers an agent. Must be called before Start.
func (c *Coordinator) AddAgent(a Analyst) error {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("coordinator: cannot add agent after start")
	}
	if a == nil {
		return fmt.Errorf("coordinator: agent is nil")
	}
	c.agents = append(c.agents, a)
	return nil
}

// Start launches every agent, waits the warmup delay, then begins the
// decision cycle. Does not block on first reports.
func (c *Coordinator) Start(ctx context.Context) error {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("coordinator: already started")
	}
	if len(c.agents) == 0 {
		return fmt.Errorf("coordinator: no agents registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, a := range c.agents {
		if err := a.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("coordinator: start agent %s: %w", a.Name(), err)
		}
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(runCtx)
	}()
	return nil
}

// Stop halts the cycle and every agent.
func (c *Coordinator) Stop() {
	c.cancelMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.cancelMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	for _, a := range c.agents {
		a.Stop()
	}
}

// LatestAdvisory returns the most recent advisory, or nil before the first
// completed cycle.
func (c *Coordinator) LatestAdvisory() *Advisory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return nil
	}
	out := *c.latest
	return &out
}

// TradingConfig returns the most recently published trading configuration.
func (c *Coordinator) TradingConfig() signal.TradingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tradeCfg
}

// OnAdvisory registers a callback invoked once per published advisory. The
// returned function cancels the subscription.
func (c *Coordinator) OnAdvisory(fn func(Advisory)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) run(ctx context.Context) {
	if !sleepWithContext(ctx, c.warmup) {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// cycle runs one fusion round. Fewer than two reports skips the cycle
// entirely; a model failure publishes a hold advisory.
func (c *Coordinator) cycle(ctx context.Context) {
	reports := c.collectReports()
	if len(reports) < minReports {
		logx.Infof("coordinator: %s skipping cycle, %d/%d reports available",
			c.symbol, len(reports), minReports)
		return
	}

	summary := buildSummary(reports)
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	advisory, rawOut, err := c.fuse(callCtx, summary, reports)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logx.Slowf("coordinator: %s fusion failed, publishing hold: %v", c.symbol, err)
		advisory = &Advisory{
			Action:           ActionHold,
			Confidence:       0.5,
			PositionSizeHint: sizeHintFloor,
			Reasoning:        "error",
			GeneratedAt:      c.clock(),
			AgentVotes:       votesOf(reports),
		}
		rawOut = ""
	}

	c.publish(*advisory)
	c.uploadAudit(summary, rawOut, advisory)
}

func (c *Coordinator) callTimeout() time.Duration {
	if c.interval > 4*time.Second {
		return c.interval - 2*time.Second
	}
	return c.interval / 2
}

func (c *Coordinator) collectReports() []agent.Report {
	out := make([]agent.Report, 0, len(c.agents))
	for _, a := range c.agents {
		if r := a.LatestReport(); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func buildSummary(reports []agent.Report) string {
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "%s: %s (%.0f%%) — %s\n",
			r.AgentName, r.Signal, r.Confidence*100, r.Reasoning)
	}
	return b.String()
}

func (c *Coordinator) fuse(ctx context.Context, summary string, reports []agent.Report) (*Advisory, string, error) {
	req := &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Symbol: %s\nAnalyst reports:\n%s", c.symbol, summary)},
		},
	}
	var out advisoryContract
	if err := c.llm.ChatStructured(ctx, req, &out); err != nil {
		return nil, "", fmt.Errorf("coordinator: model call: %w", err)
	}

	advisory := &Advisory{
		Action:           normalizeAction(out.Action),
		Confidence:       clampUnit(out.Confidence),
		PositionSizeHint: clamp(out.PositionSizeHint, sizeHintFloor, sizeHintCeil),
		StopLossPct:      out.StopLossPct,
		TakeProfitPct:    out.TakeProfitPct,
		Reasoning:        out.Reasoning,
		GeneratedAt:      c.clock(),
		AgentVotes:       votesOf(reports),
	}
	enforceFusionRules(advisory, reports)

	raw, _ := json.Marshal(out)
	return advisory, string(raw), nil
}

// enforceFusionRules applies the agreement rule as post-processing, so a
// directive survives even when the model ignores its instructions: a
// directional action requires two agents on that side or one above 0.7.
func enforceFusionRules(a *Advisory, reports []agent.Report) {
	if a.Action != ActionLong && a.Action != ActionShort {
		return
	}
	want := agent.SignalBullish
	if a.Action == ActionShort {
		want = agent.SignalBearish
	}
	agreeing := 0
	strong := false
	for _, r := range reports {
		if r.Signal == want {
			agreeing++
			if r.Confidence > 0.7 {
				strong = true
			}
		}
	}
	if agreeing >= 2 || strong {
		return
	}
	a.Action = ActionHold
	if a.Confidence > 0.5 {
		a.Confidence = 0.5
	}
}

// publish atomically swaps the advisory and the trading config the hot loop
// reads. The advisory's size hint becomes the per-trade risk fraction.
func (c *Coordinator) publish(advisory Advisory) {
	c.mu.Lock()
	c.latest = &advisory
	cfg := c.tradeCfg
	cfg.RiskPerTrade = advisory.PositionSizeHint
	c.tradeCfg = cfg
	subs := make([]func(Advisory), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(advisory)
	}
}

// uploadAudit ships the cycle's model interaction to the venue's audit sink.
// Failures are logged and never block the cycle.
func (c *Coordinator) uploadAudit(input, output string, advisory *Advisory) {
	if c.audit == nil {
		return
	}
	entry := &exchange.AILogEntry{
		Stage:       "coordinator",
		Input:       input,
		Output:      output,
		Explanation: advisory.Reasoning,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.audit.UploadAILog(ctx, entry); err != nil {
			logx.Slowf("coordinator: %s audit upload failed: %v", c.symbol, err)
		}
	}()
}

func votesOf(reports []agent.Report) map[string]agent.Signal {
	votes := make(map[string]agent.Signal, len(reports))
	for _, r := range reports {
		votes[r.AgentName] = r.Signal
	}
	return votes
}

func normalizeAction(s string) Action {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionLong:
		return ActionLong
	case ActionShort:
		return ActionShort
	case ActionClose:
		return ActionClose
	default:
		return ActionHold
	}
}

func clampUnit(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
