package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func pushFrameJSON(channel string, last string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"action": "push",
		"arg":    map[string]string{"channel": channel, "instId": "BTCUSDT"},
		"data": []map[string]any{{
			"last": last, "bidPx": "87999", "askPx": "88001",
			"vol24h": "1234.5", "ts": "1756200000000",
		}},
	})
	return raw
}

// startFeed connects a feed to the handler and returns it plus a stop func.
func startFeed(t *testing.T, handler http.HandlerFunc, tweak func(*Config)) *Feed {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		URL:           wsURL(server),
		Symbol:        "BTCUSDT",
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	f, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(f.Stop)
	return f
}

func TestSubscribeFrameAndTicks(t *testing.T) {
	var gotSub subscribeFrame
	subReceived := make(chan struct{})

	f := startFeed(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(payload, &gotSub))
		close(subReceived)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "88000.5")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "88000.5")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, pushFrameJSON("candle1m", "88001")))
		time.Sleep(200 * time.Millisecond)
	}, nil)

	var mu sync.Mutex
	var seen []float64
	cancel := f.OnTick(func(tk Tick) {
		mu.Lock()
		seen = append(seen, tk.LastPrice)
		mu.Unlock()
	})
	defer cancel()

	select {
	case <-subReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe frame not received")
	}
	assert.Equal(t, "subscribe", gotSub.Op)
	require.Len(t, gotSub.Args, 2)
	assert.Equal(t, "ticker", gotSub.Args[0].Channel)
	assert.Equal(t, "candle1m", gotSub.Args[1].Channel)
	assert.Equal(t, "BTCUSDT", gotSub.Args[0].InstID)

	require.Eventually(t, func() bool {
		tk, ok := f.Latest()
		return ok && tk.LastPrice == 88001
	}, 2*time.Second, 10*time.Millisecond)

	// The duplicate-price frame must not reach subscribers.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{88000.5, 88001}, seen)

	tk, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.InDelta(t, 87999.0, tk.Bid, 1e-9)
	assert.Equal(t, time.UnixMilli(1756200000000), tk.Timestamp)
}

func TestPingPong(t *testing.T) {
	pong := make(chan string, 1)

	startFeed(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, err = conn.ReadMessage() // subscribe
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			pong <- string(payload)
		}
		time.Sleep(200 * time.Millisecond)
	}, nil)

	select {
	case got := <-pong:
		assert.Equal(t, "pong", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	f := startFeed(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, pushFrameJSON("trades", "100"))
		_ = conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "-5"))
		_ = conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "88000"))
		time.Sleep(200 * time.Millisecond)
	}, nil)

	require.Eventually(t, func() bool {
		tk, ok := f.Latest()
		return ok && tk.LastPrice == 88000
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDegradedAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	f, err := New(Config{
		URL:           wsURL(server),
		Symbol:        "BTCUSDT",
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  10 * time.Millisecond,
		MaxFailures:   3,
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(f.Stop)

	require.Eventually(t, f.Degraded, 2*time.Second, 10*time.Millisecond)
	_, ok := f.Latest()
	assert.False(t, ok)
}

func TestOnTickCancel(t *testing.T) {
	release := make(chan struct{})
	f := startFeed(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "100"))
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, pushFrameJSON("ticker", "101"))
		time.Sleep(200 * time.Millisecond)
	}, nil)

	var mu sync.Mutex
	count := 0
	cancel := f.OnTick(func(Tick) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	close(release)

	require.Eventually(t, func() bool {
		tk, ok := f.Latest()
		return ok && tk.LastPrice == 101
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Symbol: "BTCUSDT"})
	assert.Error(t, err)
	_, err = New(Config{URL: "ws://localhost"})
	assert.Error(t, err)
}
