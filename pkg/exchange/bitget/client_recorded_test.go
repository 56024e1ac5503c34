package bitget

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/pkg/exchange"
)

// This test uses go-vcr to record/replay a real public ticker call.
// It skips by default if the cassette is absent and RECORD_CASSETTES != 1.
func TestGetTicker_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "bitget_ticker.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(cassette), 0o755))
	}

	r, err := recorder.New(cassette)
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	cfg := &exchange.Config{
		BaseURL:     "https://api.bitget.com",
		ProductType: "umcbl",
		Timeout:     10 * time.Second,
	}
	client, err := NewClient(cfg, WithHTTPClient(&http.Client{Transport: r}))
	require.NoError(t, err)

	ticker, err := client.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Greater(t, ticker.Last, 0.0)
}
