package bitget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{
			name:   "signed GET with query",
			method: "GET",
			path:   "/api/mix/v1/account/accounts?productType=umcbl",
			body:   "",
			want:   "MGjZ3uy4Z0GSJU2Ea5LoQdHXOSyC/luLshC+SNAXd8M=",
		},
		{
			name:   "signed POST with body",
			method: "POST",
			path:   "/api/mix/v1/order/placeOrder",
			body:   `{"a":1}`,
			want:   "ZpuKyKdU//IZiKo+cmi32FbiKZUVWXiv5Yo45bVLZnc=",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sign("test-secret", "1756200000000", tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMixSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT_UMCBL", MixSymbol("btcusdt", "umcbl"))
	assert.Equal(t, "BTCUSDT_UMCBL", MixSymbol("BTCUSDT_UMCBL", "umcbl"))
	assert.Equal(t, "ETHUSDT_DMCBL", MixSymbol("ethusdt", "dmcbl"))
}

func TestSpotSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", SpotSymbol("BTCUSDT_UMCBL"))
	assert.Equal(t, "BTCUSDT", SpotSymbol("btcusdt"))
}
