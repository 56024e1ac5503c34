package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"helmsman/internal/cli"
	"helmsman/internal/config"
	"helmsman/internal/repo"
	"helmsman/pkg/agent"
	"helmsman/pkg/coordinator"
	enginepkg "helmsman/pkg/engine"
	"helmsman/pkg/exchange"
	"helmsman/pkg/exchange/bitget"
	"helmsman/pkg/exchange/sim"
	"helmsman/pkg/feed"
	"helmsman/pkg/journal"
	"helmsman/pkg/llm"
	"helmsman/pkg/market"
	"helmsman/pkg/risk"
	signalpkg "helmsman/pkg/signal"
)

const (
	// Seed equity before the first reconciliation replaces it.
	defaultInitialEquity = 10000.0

	persistTimeout = 10 * time.Second
)

var configFile = flag.String("f", "etc/helmsman.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	defer logx.Close()

	cli.LogConfigSummary(cfg)

	if err := run(cfg); err != nil {
		logx.Errorf("helmsman: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	engineCfg := cfg.Engine.Value
	if engineCfg == nil {
		return fmt.Errorf("engine config section is required")
	}
	if cfg.LLM.Value == nil {
		return fmt.Errorf("llm config section is required")
	}

	llmClient, err := llm.NewClient(cfg.LLM.Value)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	exClient, wsURL, err := buildExchange(cfg, engineCfg)
	if err != nil {
		return err
	}
	cached, err := market.NewCache(exClient, market.WithTTL(cfg.MarketTTL()))
	if err != nil {
		return fmt.Errorf("build market cache: %w", err)
	}

	tradingCfg, err := engineCfg.TradingConfig()
	if err != nil {
		return err
	}

	writer := journal.NewWriter(engineCfg.JournalDir)

	ctx := context.Background()
	var store *repo.Store
	if dsn := strings.TrimSpace(cfg.Postgres.DSN); dsn != "" {
		store, err = repo.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
	}

	stacks := make([]enginepkg.Runner, 0, len(engineCfg.Symbols))
	for _, symbol := range engineCfg.Symbols {
		stack, err := buildStack(cfg, engineCfg, symbol, wsURL, llmClient, exClient, cached, tradingCfg, writer, store)
		if err != nil {
			return fmt.Errorf("build %s: %w", symbol, err)
		}
		stacks = append(stacks, stack)
	}

	supervisor, err := enginepkg.NewSupervisor(stacks,
		enginepkg.WithStagger(engineCfg.Stagger),
		enginepkg.WithHeartbeat(engineCfg.Heartbeat))
	if err != nil {
		return err
	}
	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	logx.Infof("helmsman: received %s, shutting down", got)

	supervisor.Stop()
	return nil
}

// buildExchange returns the trading client and the stream URL. Test and dry
// run modes trade against the simulator; when venue access is configured its
// public market data still backs the paper session.
func buildExchange(cfg *config.Config, engineCfg *enginepkg.Config) (exchange.Client, string, error) {
	exCfg := cfg.Exchange.Value
	if exCfg == nil {
		loaded, err := exchange.LoadConfigFromReader(strings.NewReader("{}"))
		if err != nil {
			return nil, "", fmt.Errorf("default exchange config: %w", err)
		}
		exCfg = loaded
	}

	paper := cfg.IsTestEnv() || engineCfg.DryRun
	if !paper {
		if err := exCfg.RequireCredentials(); err != nil {
			return nil, "", err
		}
		client, err := bitget.NewClient(exCfg)
		if err != nil {
			return nil, "", fmt.Errorf("build exchange client: %w", err)
		}
		return client, exCfg.WsURL, nil
	}

	provider := sim.New()
	if cfg.Exchange.Value == nil {
		logx.Infof("helmsman: paper trading against the simulator, no live market data")
		return provider, exCfg.WsURL, nil
	}

	data, err := bitget.NewClient(exCfg)
	if err != nil {
		return nil, "", fmt.Errorf("build market data client: %w", err)
	}
	logx.Infof("helmsman: paper trading with live market data")
	return &paperClient{Provider: provider, data: data}, exCfg.WsURL, nil
}

// paperClient simulates account state and order flow while serving real
// market data.
type paperClient struct {
	*sim.Provider
	data exchange.Client
}

func (p *paperClient) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return p.data.GetTicker(ctx, symbol)
}

func (p *paperClient) GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	return p.data.GetDepth(ctx, symbol)
}

func (p *paperClient) GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]exchange.Candle, error) {
	return p.data.GetCandles(ctx, symbol, granularity, limit)
}

func (p *paperClient) GetFundingRate(ctx context.Context, symbol string) (*exchange.FundingRate, error) {
	return p.data.GetFundingRate(ctx, symbol)
}

func buildStack(
	cfg *config.Config,
	engineCfg *enginepkg.Config,
	symbol, wsURL string,
	llmClient llm.LLMClient,
	exClient exchange.Client,
	cached exchange.Client,
	tradingCfg signalpkg.TradingConfig,
	writer *journal.Writer,
	store *repo.Store,
) (*enginepkg.Stack, error) {
	agents, err := buildAgents(engineCfg, symbol, llmClient, cached)
	if err != nil {
		return nil, err
	}

	coord, err := coordinator.New(symbol, llmClient,
		coordinator.WithInterval(engineCfg.CycleInterval),
		coordinator.WithWarmup(engineCfg.Warmup),
		coordinator.WithTradingConfig(tradingCfg),
		coordinator.WithAuditClient(exClient))
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if err := coord.AddAgent(a); err != nil {
			return nil, err
		}
	}
	var cycle atomic.Int64
	coord.OnAdvisory(func(adv coordinator.Advisory) {
		persistAdvisory(symbol, int(cycle.Add(1)), adv, writer, store)
	})

	initialEquity := engineCfg.Risk.InitialEquity
	if initialEquity <= 0 {
		initialEquity = defaultInitialEquity
	}
	riskEngine, err := risk.NewEngine(initialEquity, engineCfg.RiskLimits())
	if err != nil {
		return nil, err
	}

	stream, err := feed.New(feed.Config{URL: wsURL, Symbol: symbol})
	if err != nil {
		return nil, err
	}

	loopOpts := []enginepkg.LoopOption{enginepkg.WithJournal(writer)}
	if store != nil {
		loopOpts = append(loopOpts, enginepkg.WithOrderHook(func(rec journal.OrderRecord) {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := store.SaveOrder(ctx, &rec); err != nil {
				logx.Slowf("helmsman: persist order for %s: %v", symbol, err)
			}
		}))
	}
	loop, err := enginepkg.NewHotLoop(symbol, riskEngine, coord, cached, stream, loopOpts...)
	if err != nil {
		return nil, err
	}

	return enginepkg.NewStack(symbol,
		enginepkg.NamedRunner{RunnerName: "feed/" + symbol, StartFn: stream.Start, StopFn: stream.Stop},
		enginepkg.NamedRunner{RunnerName: "coordinator/" + symbol, StartFn: coord.Start, StopFn: coord.Stop},
		enginepkg.NamedRunner{RunnerName: "loop/" + symbol, StartFn: loop.Start, StopFn: loop.Stop, StatusFn: loop.Status},
	)
}

// buildAgents instantiates one agent per configured role. The bull and bear
// advocates receive each other's latest report as the counter-thesis; the
// lookup is lazy so construction order does not matter.
func buildAgents(engineCfg *enginepkg.Config, symbol string, llmClient llm.LLMClient, cached exchange.Client) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(engineCfg.Roles))
	byRole := make(map[agent.Role]*agent.Agent, len(engineCfg.Roles))
	for _, raw := range engineCfg.Roles {
		role, err := agent.ParseRole(raw)
		if err != nil {
			return nil, err
		}
		if byRole[role] != nil {
			return nil, fmt.Errorf("role %s configured twice", role)
		}
		opts := []agent.Option{agent.WithInterval(engineCfg.AgentInterval)}
		switch role {
		case agent.RoleBull:
			opts = append(opts, agent.WithCounterpart(counterpartOf(byRole, agent.RoleBear)))
		case agent.RoleBear:
			opts = append(opts, agent.WithCounterpart(counterpartOf(byRole, agent.RoleBull)))
		}
		name := fmt.Sprintf("%s-%s", strings.ToLower(symbol), role)
		a, err := agent.New(name, role, symbol, llmClient, cached, opts...)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
		byRole[role] = a
	}
	return agents, nil
}

func counterpartOf(byRole map[agent.Role]*agent.Agent, role agent.Role) func() *agent.Report {
	return func() *agent.Report {
		a, ok := byRole[role]
		if !ok {
			return nil
		}
		return a.LatestReport()
	}
}

func persistAdvisory(symbol string, cycle int, adv coordinator.Advisory, writer *journal.Writer, store *repo.Store) {
	votes := make(map[string]string, len(adv.AgentVotes))
	for name, sig := range adv.AgentVotes {
		votes[name] = string(sig)
	}
	rec := &journal.AdvisoryRecord{
		Timestamp:   adv.GeneratedAt,
		Symbol:      symbol,
		CycleNumber: cycle,
		Action:      string(adv.Action),
		Confidence:  adv.Confidence,
		SizeHint:    adv.PositionSizeHint,
		Reasoning:   adv.Reasoning,
		AgentVotes:  votes,
	}
	if _, err := writer.WriteAdvisory(rec); err != nil {
		logx.Slowf("helmsman: journal advisory for %s: %v", symbol, err)
	}
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := store.SaveAdvisory(ctx, rec); err != nil {
			logx.Slowf("helmsman: persist advisory for %s: %v", symbol, err)
		}
	}
}
