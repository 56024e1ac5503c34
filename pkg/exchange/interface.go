package exchange

import "context"

// Client exposes the venue operations the engine consumes. Implementations
// must be safe for concurrent use: the hot loop, every agent and the
// coordinator share one instance.
type Client interface {
	// Market data.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetDepth(ctx context.Context, symbol string) (*Depth, error)
	GetCandles(ctx context.Context, symbol, granularity string, limit int) ([]Candle, error)
	GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error)

	// Account.
	GetAssets(ctx context.Context) ([]Asset, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrderHistory(ctx context.Context, symbol string) ([]OrderRecord, error)

	// Trading. Orders are market orders keyed by the venue side code.
	PlaceOrder(ctx context.Context, symbol string, side SideCode, size float64) (*OrderAck, error)

	// UploadAILog ships a model-interaction audit record. Fire-and-forget:
	// failures must never block trading.
	UploadAILog(ctx context.Context, entry *AILogEntry) (*AILogAck, error)
}
