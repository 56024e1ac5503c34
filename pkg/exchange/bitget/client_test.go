package bitget

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/pkg/exchange"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &exchange.Config{
		BaseURL:     server.URL,
		APIKey:      "key",
		APISecret:   "secret",
		Passphrase:  "phrase",
		ProductType: "umcbl",
		Timeout:     5 * time.Second,
	}
	client, err := NewClient(cfg, WithClock(func() time.Time {
		return time.UnixMilli(1756200000000)
	}))
	require.NoError(t, err)
	return client, server
}

func TestGetTicker(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathTicker, r.URL.Path)
		assert.Equal(t, "BTCUSDT_UMCBL", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":{
			"symbol":"BTCUSDT_UMCBL","last":"88000.5","bestBid":"88000","bestAsk":"88001",
			"baseVolume":"1234.5","chgUTC":"0.012","timestamp":"1756200000000"}}`))
	}))

	ticker, err := client.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 88000.5, ticker.Last, 1e-9)
	assert.InDelta(t, 88000.0, ticker.Bid, 1e-9)
	assert.InDelta(t, 88001.0, ticker.Ask, 1e-9)
	assert.Equal(t, int64(1756200000000), ticker.Ts)
}

func TestGetDepth(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":{
			"bids":[["88000","1.5"],["87999","2"]],
			"asks":[["88001","0.7"]]}}`))
	}))

	depth, err := client.GetDepth(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, depth.Bids, 2)
	require.Len(t, depth.Asks, 1)
	assert.InDelta(t, 88000.0, depth.Bids[0].Price, 1e-9)
	assert.InDelta(t, 1.5, depth.Bids[0].Qty, 1e-9)
}

func TestGetCandles(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60", r.URL.Query().Get("granularity"))
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[
			["1756199940000","87990","88010","87980","88000","10.5"],
			["1756200000000","88000","88020","87995","88015","8.2"]]}`))
	}))

	candles, err := client.GetCandles(context.Background(), "BTCUSDT", "60", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.InDelta(t, 88015.0, candles[1].Close, 1e-9)
}

func TestGetAssets_Signed(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("ACCESS-KEY"))
		assert.Equal(t, "phrase", r.Header.Get("ACCESS-PASSPHRASE"))
		assert.Equal(t, "1756200000000", r.Header.Get("ACCESS-TIMESTAMP"))
		wantSign := sign("secret", "1756200000000", "GET", r.URL.Path+"?"+r.URL.RawQuery, "")
		assert.Equal(t, wantSign, r.Header.Get("ACCESS-SIGN"))
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[
			{"marginCoin":"USDT","equity":"1000.5","available":"900","locked":"100.5"}]}`))
	}))

	assets, err := client.GetAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "USDT", assets[0].Coin)
	assert.InDelta(t, 1000.5, assets[0].Equity, 1e-9)
}

func TestGetPositions_SkipsEmpty(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[
			{"symbol":"BTCUSDT_UMCBL","holdSide":"long","total":"0.002","averageOpenPrice":"87000","unrealizedPL":"2.1"},
			{"symbol":"ETHUSDT_UMCBL","holdSide":"short","total":"0","averageOpenPrice":"0","unrealizedPL":"0"}]}`))
	}))

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "long", positions[0].HoldSide)
	assert.InDelta(t, 0.002, positions[0].Total, 1e-9)
}

func TestPlaceOrder(t *testing.T) {
	var sentBody map[string]string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &sentBody))
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":{"orderId":"123","clientOid":"abc"}}`))
	}))

	ack, err := client.PlaceOrder(context.Background(), "BTCUSDT", exchange.SideOpenLong, 0.0002)
	require.NoError(t, err)
	assert.Equal(t, "123", ack.OrderID)
	assert.Equal(t, "open_long", sentBody["side"])
	assert.Equal(t, "market", sentBody["orderType"])
	assert.Equal(t, "0.0002", sentBody["size"])
}

func TestPlaceOrder_Rejects(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.PlaceOrder(context.Background(), "BTCUSDT", exchange.SideCode(7), 1)
	assert.Error(t, err)
	_, err = client.PlaceOrder(context.Background(), "BTCUSDT", exchange.SideOpenLong, 0)
	assert.Error(t, err)
}

func TestAPIError_Envelope(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"40757","msg":"symbol not found","data":null}`))
	}))

	_, err := client.GetTicker(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "40757")
}

func TestUploadAILog(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathAILog, r.URL.Path)
		var entry exchange.AILogEntry
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &entry))
		assert.Equal(t, "coordinator", entry.Stage)
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":{"accepted":true}}`))
	}))

	ack, err := client.UploadAILog(context.Background(), &exchange.AILogEntry{
		Stage: "coordinator", Model: "gpt-4o", Input: "in", Output: "out",
	})
	require.NoError(t, err)
	assert.Equal(t, "00000", ack.Code)
}
