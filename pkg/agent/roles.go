package agent

import "fmt"

// Role selects an analyst perspective, its input set and its system prompt.
type Role string

const (
	RoleTechnical    Role = "technical"
	RoleStructure    Role = "structure"
	RoleMarket       Role = "market"
	RoleSentiment    Role = "sentiment"
	RoleRisk         Role = "risk"
	RoleMomentum     Role = "momentum"
	RoleBull         Role = "bull"
	RoleBear         Role = "bear"
	RoleFundamentals Role = "fundamentals"
)

var allRoles = map[Role]struct{}{
	RoleTechnical:    {},
	RoleStructure:    {},
	RoleMarket:       {},
	RoleSentiment:    {},
	RoleRisk:         {},
	RoleMomentum:     {},
	RoleBull:         {},
	RoleBear:         {},
	RoleFundamentals: {},
}

// ParseRole validates a role name from configuration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := allRoles[r]; !ok {
		return "", fmt.Errorf("agent: unknown role %q", s)
	}
	return r, nil
}

const promptPreamble = `You are one analyst on a perpetual futures trading desk. ` +
	`Analyze only the data provided. Respond with a JSON object: ` +
	`{"signal": "bullish"|"bearish"|"neutral", "confidence": 0.0-1.0, ` +
	`"reasoning": "<one or two sentences>", "data": {<key numeric observations>}}.`

var rolePrompts = map[Role]string{
	RoleTechnical: promptPreamble + ` Your role: technical analyst. ` +
		`Judge the trend from RSI, EMA crossovers, MACD, Bollinger band position and ATR.`,
	RoleStructure: promptPreamble + ` Your role: market structure analyst. ` +
		`Judge order flow from the order book imbalance, spread, funding rate and current account exposure.`,
	RoleMarket: promptPreamble + ` Your role: tape reader. ` +
		`Judge immediate direction from the top of book and the latest ticker.`,
	RoleSentiment: promptPreamble + ` Your role: sentiment analyst. ` +
		`Judge crowd positioning from the funding rate and the 24h price change.`,
	RoleRisk: promptPreamble + ` Your role: risk officer. ` +
		`Judge whether current exposure and equity justify adding risk. Prefer neutral unless exposure is clearly unbalanced.`,
	RoleMomentum: promptPreamble + ` Your role: momentum trader. ` +
		`Judge trend continuation from RSI, the EMA20/EMA50 relationship and recent price change.`,
	RoleBull: promptPreamble + ` Your role: the bull advocate. ` +
		`Make the strongest honest case for a long. If the data cannot support one, say so with low confidence.`,
	RoleBear: promptPreamble + ` Your role: the bear advocate. ` +
		`Make the strongest honest case for a short. If the data cannot support one, say so with low confidence.`,
	RoleFundamentals: promptPreamble + ` Your role: funding arbitrage analyst. ` +
		`Classify the funding regime (longs paying, shorts paying, neutral) and what it implies for carry.`,
}

// SystemPrompt returns the role's system message.
func (r Role) SystemPrompt() string {
	return rolePrompts[r]
}
