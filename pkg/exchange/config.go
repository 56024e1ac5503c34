package exchange

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL     = "https://api.bitget.com"
	defaultWsURL       = "wss://ws.bitget.com/spot/v1/stream"
	defaultProductType = "umcbl"
	defaultTimeout     = 30 * time.Second

	envAPIKey     = "BITGET_API_KEY"
	envAPISecret  = "BITGET_API_SECRET"
	envPassphrase = "BITGET_PASSPHRASE"
	envBaseURL    = "BITGET_BASE_URL"
	envWsURL      = "BITGET_WS_URL"
)

// Config describes how to reach the venue.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	WsURL       string        `yaml:"ws_url"`
	APIKey      string        `yaml:"api_key"`
	APISecret   string        `yaml:"api_secret"`
	Passphrase  string        `yaml:"passphrase"`
	ProductType string        `yaml:"product_type"`
	Timeout     time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exchange config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read exchange config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.parseTimeout(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.WsURL) == "" {
		c.WsURL = defaultWsURL
	}
	if strings.TrimSpace(c.ProductType) == "" {
		c.ProductType = defaultProductType
	}
}

func (c *Config) applyEnvOverrides() {
	c.APIKey = expandAndOverride(c.APIKey, envAPIKey)
	c.APISecret = expandAndOverride(c.APISecret, envAPISecret)
	c.Passphrase = expandAndOverride(c.Passphrase, envPassphrase)
	c.BaseURL = expandAndOverride(c.BaseURL, envBaseURL)
	c.WsURL = expandAndOverride(c.WsURL, envWsURL)
}

func (c *Config) parseTimeout() error {
	if strings.TrimSpace(c.TimeoutRaw) == "" {
		c.Timeout = defaultTimeout
		return nil
	}
	d, err := time.ParseDuration(c.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("exchange config: invalid timeout %q: %w", c.TimeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("exchange config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}

// RequireCredentials errors unless the signing triple is fully configured.
// Live trading refuses to start without it.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.APIKey) == "" ||
		strings.TrimSpace(c.APISecret) == "" ||
		strings.TrimSpace(c.Passphrase) == "" {
		return errors.New("exchange config: api_key, api_secret and passphrase are required")
	}
	return nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if envVal := os.Getenv(envKey); envVal != "" {
		return envVal
	}
	return current
}
