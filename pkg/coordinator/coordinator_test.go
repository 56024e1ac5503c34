package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/pkg/agent"
	"helmsman/pkg/exchange"
	"helmsman/pkg/exchange/sim"
	"helmsman/pkg/llm"
)

type stubAnalyst struct {
	name   string
	report *agent.Report
}

func (s *stubAnalyst) Name() string                  { return s.name }
func (s *stubAnalyst) Start(_ context.Context) error { return nil }
func (s *stubAnalyst) Stop()                         {}
func (s *stubAnalyst) LatestReport() *agent.Report   { return s.report }

func analyst(name string, sig agent.Signal, conf float64, reasoning string) *stubAnalyst {
	return &stubAnalyst{name: name, report: &agent.Report{
		AgentName: name, Signal: sig, Confidence: conf, Reasoning: reasoning,
	}}
}

type fakeLLM struct {
	mu       sync.Mutex
	requests []*llm.ChatRequest
	response advisoryContract
	err      error
}

func (f *fakeLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeLLM) ChatStructured(ctx context.Context, req *llm.ChatRequest, target interface{}) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	raw, _ := json.Marshal(f.response)
	return json.Unmarshal(raw, target)
}

func (f *fakeLLM) GetConfig() *llm.Config { return nil }
func (f *fakeLLM) Close() error           { return nil }

func (f *fakeLLM) lastRequest() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func startCoordinator(t *testing.T, client llm.LLMClient, analysts []Analyst, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithWarmup(0), WithInterval(50 * time.Millisecond)}, opts...)
	c, err := New("BTCUSDT", client, opts...)
	require.NoError(t, err)
	for _, a := range analysts {
		require.NoError(t, c.AddAgent(a))
	}
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New("", &fakeLLM{})
	assert.Error(t, err)
	_, err = New("BTCUSDT", nil)
	assert.Error(t, err)
}

func TestStartRequiresAgents(t *testing.T) {
	c, err := New("BTCUSDT", &fakeLLM{})
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
}

func TestSkipsCycleBelowTwoReports(t *testing.T) {
	client := &fakeLLM{}
	c := startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalBullish, 0.9, "up"),
		&stubAnalyst{name: "b"}, // no report yet
	})

	time.Sleep(200 * time.Millisecond)
	assert.Nil(t, c.LatestAdvisory())
	assert.Nil(t, client.lastRequest())
}

func TestCyclePublishesAdvisory(t *testing.T) {
	client := &fakeLLM{response: advisoryContract{
		Action: "LONG", Confidence: 0.82, PositionSizeHint: 0.03,
		StopLossPct: 2, TakeProfitPct: 5, Reasoning: "strong agreement",
	}}
	c := startCoordinator(t, client, []Analyst{
		analyst("tech", agent.SignalBullish, 0.8, "rsi healthy"),
		analyst("momo", agent.SignalBullish, 0.65, "trend intact"),
	})

	var mu sync.Mutex
	var emitted []Advisory
	cancel := c.OnAdvisory(func(a Advisory) {
		mu.Lock()
		emitted = append(emitted, a)
		mu.Unlock()
	})
	defer cancel()

	require.Eventually(t, func() bool { return c.LatestAdvisory() != nil },
		2*time.Second, 10*time.Millisecond)

	got := c.LatestAdvisory()
	assert.Equal(t, ActionLong, got.Action)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
	assert.InDelta(t, 0.03, got.PositionSizeHint, 1e-9)
	assert.Equal(t, agent.SignalBullish, got.AgentVotes["tech"])
	assert.False(t, got.GeneratedAt.IsZero())

	// The published trading config picks up the size hint.
	assert.InDelta(t, 0.03, c.TradingConfig().RiskPerTrade, 1e-9)

	req := client.lastRequest()
	require.NotNil(t, req)
	assert.Contains(t, req.Messages[1].Content, "tech: bullish (80%)")
	assert.Contains(t, req.Messages[1].Content, "rsi healthy")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, emitted)
	assert.Equal(t, ActionLong, emitted[0].Action)
}

func TestInsufficientAgreementForcesHold(t *testing.T) {
	// The model claims long despite a split desk; post-processing overrides.
	client := &fakeLLM{response: advisoryContract{
		Action: "long", Confidence: 0.8, PositionSizeHint: 0.02, Reasoning: "model says long",
	}}
	c := startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalBullish, 0.6, "mildly up"),
		analyst("b", agent.SignalBearish, 0.55, "mildly down"),
		analyst("c", agent.SignalNeutral, 0.5, "flat"),
	})

	require.Eventually(t, func() bool { return c.LatestAdvisory() != nil },
		2*time.Second, 10*time.Millisecond)

	got := c.LatestAdvisory()
	assert.Equal(t, ActionHold, got.Action)
	assert.LessOrEqual(t, got.Confidence, 0.5)
}

func TestSingleStrongAgentAllowsDirection(t *testing.T) {
	client := &fakeLLM{response: advisoryContract{
		Action: "short", Confidence: 0.75, PositionSizeHint: 0.02, Reasoning: "conviction short",
	}}
	c := startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalBearish, 0.8, "breakdown"),
		analyst("b", agent.SignalNeutral, 0.5, "flat"),
	})

	require.Eventually(t, func() bool { return c.LatestAdvisory() != nil },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ActionShort, c.LatestAdvisory().Action)
}

func TestModelFailurePublishesHold(t *testing.T) {
	client := &fakeLLM{err: errors.New("timeout")}
	c := startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalBullish, 0.9, "up"),
		analyst("b", agent.SignalBullish, 0.9, "up"),
	})

	require.Eventually(t, func() bool { return c.LatestAdvisory() != nil },
		2*time.Second, 10*time.Millisecond)

	got := c.LatestAdvisory()
	assert.Equal(t, ActionHold, got.Action)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, "error", got.Reasoning)
}

func TestSizeHintClamped(t *testing.T) {
	client := &fakeLLM{response: advisoryContract{
		Action: "long", Confidence: 0.9, PositionSizeHint: 0.5, Reasoning: "greedy",
	}}
	c := startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalBullish, 0.9, "up"),
		analyst("b", agent.SignalBullish, 0.8, "up"),
	})

	require.Eventually(t, func() bool { return c.LatestAdvisory() != nil },
		2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0.05, c.LatestAdvisory().PositionSizeHint, 1e-9)
}

func TestAuditUpload(t *testing.T) {
	audit := sim.New()
	client := &fakeLLM{response: advisoryContract{
		Action: "hold", Confidence: 0.5, PositionSizeHint: 0.01, Reasoning: "quiet",
	}}
	startCoordinator(t, client, []Analyst{
		analyst("a", agent.SignalNeutral, 0.5, "flat"),
		analyst("b", agent.SignalNeutral, 0.5, "flat"),
	}, WithAuditClient(audit))

	require.Eventually(t, func() bool { return len(audit.AILogs()) > 0 },
		2*time.Second, 10*time.Millisecond)
	entry := audit.AILogs()[0]
	assert.Equal(t, "coordinator", entry.Stage)
	assert.Contains(t, entry.Input, "a: neutral")
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, ActionLong, normalizeAction(" LONG "))
	assert.Equal(t, ActionClose, normalizeAction("close"))
	assert.Equal(t, ActionHold, normalizeAction("sideways"))
}

var _ exchange.Client = (*sim.Provider)(nil)
