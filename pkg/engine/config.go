package engine

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"helmsman/pkg/risk"
	"helmsman/pkg/signal"
)

const (
	defaultAgentIntervalRaw = "12s"
	defaultCycleIntervalRaw = "30s"
	defaultWarmupRaw        = "10s"
	defaultStaggerRaw       = "5s"
	defaultHeartbeatRaw     = "5s"

	envMaxPositionSize = "MAX_POSITION_SIZE"
	envMinBalance      = "MIN_BALANCE"
)

// Config drives the trading engine: which symbols run, which agent roles
// advise them, the cadence of both layers and the risk guard rails.
type Config struct {
	Symbols []string `yaml:"symbols"`
	Roles   []string `yaml:"roles"`

	DryRun     bool   `yaml:"dry_run"`
	JournalDir string `yaml:"journal_dir"`

	AgentIntervalRaw string `yaml:"agent_interval"`
	CycleIntervalRaw string `yaml:"cycle_interval"`
	WarmupRaw        string `yaml:"warmup"`
	StaggerRaw       string `yaml:"stagger"`
	HeartbeatRaw     string `yaml:"heartbeat"`

	AgentInterval time.Duration `yaml:"-"`
	CycleInterval time.Duration `yaml:"-"`
	Warmup        time.Duration `yaml:"-"`
	Stagger       time.Duration `yaml:"-"`
	Heartbeat     time.Duration `yaml:"-"`

	Trading TradingYAML `yaml:"trading"`
	Risk    RiskYAML    `yaml:"risk"`
}

// TradingYAML is the on-disk shape of the signal configuration. Zero fields
// fall back to the baseline defaults.
type TradingYAML struct {
	Weights struct {
		OBI      *float64 `yaml:"obi"`
		RSI      *float64 `yaml:"rsi"`
		EMA      *float64 `yaml:"ema"`
		Momentum *float64 `yaml:"momentum"`
	} `yaml:"weights"`

	SignalThreshold *float64 `yaml:"signal_threshold"`
	MinConfidence   *float64 `yaml:"min_confidence"`
	CooldownRaw     string   `yaml:"cooldown"`
	DecayWindowRaw  string   `yaml:"decay_window"`
	RiskPerTrade    *float64 `yaml:"risk_per_trade"`
	MaxPositionSize *float64 `yaml:"max_position_size"`
}

// RiskYAML is the on-disk shape of the circuit breaker limits.
type RiskYAML struct {
	InitialEquity   float64 `yaml:"initial_equity"`
	MaxDailyLoss    float64 `yaml:"max_daily_loss"`
	MinEquity       float64 `yaml:"min_equity"`
	MaxDrawdown     float64 `yaml:"max_drawdown"`
	MaxPositionSize float64 `yaml:"max_position_size"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Roles) == 0 {
		c.Roles = []string{"technical", "market", "risk"}
	}
	if strings.TrimSpace(c.AgentIntervalRaw) == "" {
		c.AgentIntervalRaw = defaultAgentIntervalRaw
	}
	if strings.TrimSpace(c.CycleIntervalRaw) == "" {
		c.CycleIntervalRaw = defaultCycleIntervalRaw
	}
	if strings.TrimSpace(c.WarmupRaw) == "" {
		c.WarmupRaw = defaultWarmupRaw
	}
	if strings.TrimSpace(c.StaggerRaw) == "" {
		c.StaggerRaw = defaultStaggerRaw
	}
	if strings.TrimSpace(c.HeartbeatRaw) == "" {
		c.HeartbeatRaw = defaultHeartbeatRaw
	}
}

// applyEnvOverrides lets the operational guard rails be tightened without
// touching the file. MAX_POSITION_SIZE caps both the breaker and the sizing
// clamp; MIN_BALANCE raises the minimum-equity floor.
func (c *Config) applyEnvOverrides() {
	if raw := os.Getenv(envMaxPositionSize); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			c.Risk.MaxPositionSize = v
			c.Trading.MaxPositionSize = &v
		}
	}
	if raw := os.Getenv(envMinBalance); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			c.Risk.MinEquity = v
		}
	}
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		out  *time.Duration
	}{
		{"agent_interval", c.AgentIntervalRaw, &c.AgentInterval},
		{"cycle_interval", c.CycleIntervalRaw, &c.CycleInterval},
		{"warmup", c.WarmupRaw, &c.Warmup},
		{"stagger", c.StaggerRaw, &c.Stagger},
		{"heartbeat", c.HeartbeatRaw, &c.Heartbeat},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("engine config: invalid %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("engine config: %s must not be negative, got %s", f.name, d)
		}
		*f.out = d
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("engine config: symbols cannot be empty")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("engine config: symbol cannot be blank")
		}
		if seen[s] {
			return fmt.Errorf("engine config: duplicate symbol %s", s)
		}
		seen[s] = true
	}
	if c.AgentInterval <= 0 || c.CycleInterval <= 0 {
		return fmt.Errorf("engine config: agent_interval and cycle_interval must be positive")
	}
	if c.Risk.InitialEquity < 0 {
		return fmt.Errorf("engine config: risk.initial_equity must not be negative")
	}
	if _, err := c.TradingConfig(); err != nil {
		return err
	}
	return nil
}

// TradingConfig merges the on-disk overrides onto the baseline defaults.
func (c *Config) TradingConfig() (signal.TradingConfig, error) {
	out := signal.DefaultTradingConfig()
	w := c.Trading.Weights
	if w.OBI != nil {
		out.Weights.OBI = *w.OBI
	}
	if w.RSI != nil {
		out.Weights.RSI = *w.RSI
	}
	if w.EMA != nil {
		out.Weights.EMA = *w.EMA
	}
	if w.Momentum != nil {
		out.Weights.Momentum = *w.Momentum
	}
	if c.Trading.SignalThreshold != nil {
		out.SignalThreshold = *c.Trading.SignalThreshold
	}
	if c.Trading.MinConfidence != nil {
		out.MinConfidence = *c.Trading.MinConfidence
	}
	if c.Trading.RiskPerTrade != nil {
		out.RiskPerTrade = *c.Trading.RiskPerTrade
	}
	if c.Trading.MaxPositionSize != nil {
		out.MaxPositionSize = *c.Trading.MaxPositionSize
	}
	if raw := strings.TrimSpace(c.Trading.CooldownRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return out, fmt.Errorf("engine config: invalid cooldown %q: %w", raw, err)
		}
		out.Cooldown = d
	}
	if raw := strings.TrimSpace(c.Trading.DecayWindowRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return out, fmt.Errorf("engine config: invalid decay_window %q: %w", raw, err)
		}
		out.DecayWindow = d
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// RiskLimits converts the on-disk limits into the engine's type.
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxDailyLoss:    c.Risk.MaxDailyLoss,
		MinEquity:       c.Risk.MinEquity,
		MaxDrawdown:     c.Risk.MaxDrawdown,
		MaxPositionSize: c.Risk.MaxPositionSize,
	}
}
