package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv(envAPIKey, "override-key")
	t.Setenv(envTimeout, "45s")
	t.Setenv(envMaxRetries, "5")

	data := `
base_url: "https://example.com/v1"
api_key: "${LLM_API_KEY}"
default_model: "analyst"
timeout: "30s"
max_retries: 2
log_level: "debug"

models:
  analyst:
    model_name: "gpt-4o-mini"
    temperature: 0.3
    max_completion_tokens: 1024
`

	cfg, err := LoadConfigFromReader(strings.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, "https://example.com/v1", cfg.BaseURL)
	require.Equal(t, "override-key", cfg.APIKey)
	require.Equal(t, "analyst", cfg.DefaultModel)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, 45*time.Second, cfg.Timeout)

	model, ok := cfg.Model("analyst")
	require.True(t, ok)
	require.Equal(t, "gpt-4o-mini", model.ModelName)
	require.NotNil(t, model.Temperature)
	require.InDelta(t, 0.3, *model.Temperature, 0.0001)
}

func TestLoadConfigFromReader_Defaults(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv(envAPIKey, "")
	t.Setenv(envTimeout, "")
	t.Setenv(envMaxRetries, "")

	cfg, err := LoadConfigFromReader(strings.NewReader("api_key: k\ndefault_model: m\n"))
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, cfg.BaseURL)
	require.Equal(t, defaultTimeout, cfg.Timeout)
	require.Equal(t, defaultMaxRetries, cfg.MaxRetries)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{BaseURL: "https://example.com", APIKey: "k", DefaultModel: "m", Timeout: time.Second}
	require.NoError(t, cfg.Validate())

	missingKey := cfg.Clone()
	missingKey.APIKey = " "
	require.Error(t, missingKey.Validate())

	badTimeout := cfg.Clone()
	badTimeout.Timeout = 0
	require.Error(t, badTimeout.Validate())

	badRetries := cfg.Clone()
	badRetries.MaxRetries = -1
	require.Error(t, badRetries.Validate())
}

func TestConfigClone_IsIndependent(t *testing.T) {
	cfg := &Config{
		BaseURL: "https://example.com", APIKey: "k", DefaultModel: "m", Timeout: time.Second,
		Models: map[string]ModelConfig{"m": {ModelName: "gpt-4o"}},
	}
	cp := cfg.Clone()
	cp.Models["m"] = ModelConfig{ModelName: "other"}
	require.Equal(t, "gpt-4o", cfg.Models["m"].ModelName)
}
