package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		DefaultModel: "gpt-4o-mini",
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		LogLevel:     "error",
	}
}

func completionJSON(content string) string {
	return `{
		"id":"chatcmpl-1",
		"object":"chat.completion",
		"created":1756200000,
		"model":"gpt-4o-mini",
		"choices":[
			{"index":0,"finish_reason":"stop","logprobs":null,
			 "message":{"role":"assistant","content":` + encodeJSONString(content) + `,"tool_calls":[]}}
		],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
	}`
}

func encodeJSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestClientChat(t *testing.T) {
	var (
		mu       sync.Mutex
		lastBody []byte
		lastPath string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		lastPath = r.URL.Path
		lastBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("Hello from test")))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "Hello from test", resp.Choices[0].Message.Content)
	require.Equal(t, 15, resp.Usage.TotalTokens)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, lastPath, "/chat/completions")

	var sent map[string]any
	require.NoError(t, json.Unmarshal(lastBody, &sent))
	require.Equal(t, "gpt-4o-mini", sent["model"])
}

func TestClientChat_ModelAliasResolution(t *testing.T) {
	var lastBody []byte
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("ok")))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.DefaultModel = "analyst"
	cfg.Models = map[string]ModelConfig{
		"analyst": {ModelName: "gpt-4o", Temperature: floatPtr(0.2)},
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "system", Content: "be terse"}},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var sent map[string]any
	require.NoError(t, json.Unmarshal(lastBody, &sent))
	require.Equal(t, "gpt-4o", sent["model"])
	require.InDelta(t, 0.2, sent["temperature"].(float64), 1e-9)
}

func TestClientChat_EmptyMessages(t *testing.T) {
	client, err := NewClient(testConfig("https://example.com"))
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)
}

func TestClientChatStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var sent map[string]any
		_ = json.Unmarshal(body, &sent)
		// The request must carry a json_schema response format.
		if _, ok := sent["response_format"]; !ok {
			http.Error(w, "missing response_format", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON(`{"signal":"bullish","confidence":0.75,"reasoning":"breakout"}`)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	var out struct {
		Signal     string  `json:"signal"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	err = client.ChatStructured(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "analyse"}},
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "bullish", out.Signal)
	require.InDelta(t, 0.75, out.Confidence, 1e-9)
}

func TestClientChatStructured_BadTarget(t *testing.T) {
	client, err := NewClient(testConfig("https://example.com"))
	require.NoError(t, err)
	require.Error(t, client.ChatStructured(context.Background(), &ChatRequest{}, nil))
	var notPtr struct{}
	require.Error(t, client.ChatStructured(context.Background(), &ChatRequest{}, notPtr))
}

func floatPtr(f float64) *float64 { return &f }
