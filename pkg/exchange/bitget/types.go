package bitget

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// apiEnvelope is the venue's standard response wrapper.
type apiEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const codeOK = "00000"

func (e *apiEnvelope) err() error {
	if e.Code == codeOK || e.Code == "" {
		return nil
	}
	return fmt.Errorf("bitget: api error %s: %s", e.Code, e.Msg)
}

// tickerPayload mirrors /market/ticker. Numeric fields arrive as strings.
type tickerPayload struct {
	Symbol    string `json:"symbol"`
	Last      string `json:"last"`
	BestBid   string `json:"bestBid"`
	BestAsk   string `json:"bestAsk"`
	BaseVol   string `json:"baseVolume"`
	Chg24h    string `json:"chgUTC"`
	Timestamp string `json:"timestamp"`
}

// depthPayload mirrors /market/depth.
type depthPayload struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// fundingPayload mirrors /market/current-fundRate.
type fundingPayload struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	NextUpdate  string `json:"nextUpdate,omitempty"`
}

// assetPayload mirrors one entry of /account/accounts.
type assetPayload struct {
	MarginCoin string `json:"marginCoin"`
	Equity     string `json:"equity"`
	Available  string `json:"available"`
	Locked     string `json:"locked"`
}

// positionPayload mirrors one entry of /position/allPosition.
type positionPayload struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"`
	Total        string `json:"total"`
	AvgOpenPrice string `json:"averageOpenPrice"`
	UnrealizedPL string `json:"unrealizedPL"`
}

// orderPayload mirrors one entry of /order/history.
type orderPayload struct {
	OrderID  string `json:"orderId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	PriceAvg string `json:"priceAvg"`
	State    string `json:"state"`
	CTime    string `json:"cTime"`
}

// orderAckPayload mirrors the placeOrder response data.
type orderAckPayload struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

// parseFloat converts the venue's string-encoded numbers, treating blanks as zero.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
