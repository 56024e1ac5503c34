package bitget

import "strings"

// MixSymbol returns the contract form of a symbol, e.g. BTCUSDT_UMCBL.
// Already-suffixed symbols pass through unchanged.
func MixSymbol(symbol, productType string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	suffix := "_" + strings.ToUpper(strings.TrimSpace(productType))
	if strings.Contains(s, "_") {
		return s
	}
	return s + suffix
}

// SpotSymbol returns the bare instrument id used by the public stream,
// e.g. BTCUSDT, stripping any contract suffix.
func SpotSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, "_"); i >= 0 {
		return s[:i]
	}
	return s
}
