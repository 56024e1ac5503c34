package exchange

// Core trading domain types shared across exchange implementations. The
// structures normalise the venue's JSON payloads so nothing upstream touches
// raw maps.

// SideCode is the venue's combined open/close, long/short order intent.
type SideCode int

const (
	// SideOpenLong opens or adds to a long position.
	SideOpenLong SideCode = 1
	// SideCloseShort buys to reduce or close a short position.
	SideCloseShort SideCode = 2
	// SideOpenShort opens or adds to a short position.
	SideOpenShort SideCode = 3
	// SideCloseLong sells to reduce or close a long position.
	SideCloseLong SideCode = 4
)

// Valid reports whether the code is one of the four venue intents.
func (s SideCode) Valid() bool { return s >= SideOpenLong && s <= SideCloseLong }

func (s SideCode) String() string {
	switch s {
	case SideOpenLong:
		return "open_long"
	case SideCloseShort:
		return "close_short"
	case SideOpenShort:
		return "open_short"
	case SideCloseLong:
		return "close_long"
	default:
		return "unknown"
	}
}

// Ticker is a point-in-time market quote.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
	Volume24h float64 `json:"vol24h,omitempty"`
	Change24h float64 `json:"change24h,omitempty"`
	Ts        int64   `json:"ts"`
}

// Level is one price level of the order book.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Depth carries top-of-book levels, best bid first / best ask first.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FundingRate is the venue's current funding snapshot.
type FundingRate struct {
	Symbol          string  `json:"symbol"`
	Rate            float64 `json:"fundingRate"`
	NextFundingTime int64   `json:"nextFundingTime,omitempty"`
}

// Asset summarises one account balance entry.
type Asset struct {
	Coin      string  `json:"coinName"`
	Equity    float64 `json:"equity"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen,omitempty"`
}

// Position captures one live contract position.
type Position struct {
	Symbol       string  `json:"symbol"`
	HoldSide     string  `json:"holdSide"` // "long" or "short"
	Total        float64 `json:"total"`
	AvgOpenPrice float64 `json:"averageOpenPrice"`
	UnrealizedPL float64 `json:"unrealizedPL"`
}

// OrderAck acknowledges an accepted order.
type OrderAck struct {
	OrderID   string `json:"orderId"`
	ClientOID string `json:"clientOid,omitempty"`
}

// OrderRecord is one entry of the account order history.
type OrderRecord struct {
	OrderID    string  `json:"orderId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	FillPrice  float64 `json:"priceAvg"`
	Status     string  `json:"status"`
	CreateTime int64   `json:"cTime"`
}

// AILogEntry is an audit record describing one model interaction.
type AILogEntry struct {
	Stage       string `json:"stage"`
	Model       string `json:"model"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// AILogAck is the audit sink's response envelope.
type AILogAck struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}
