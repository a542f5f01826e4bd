package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionType is the directional recommendation.
type DecisionType string

const (
	DecisionBuy   DecisionType = "BUY"
	DecisionSell  DecisionType = "SELL"
	DecisionHold  DecisionType = "HOLD"
	DecisionWatch DecisionType = "WATCH"
)

// ParseDecisionType maps a backend token onto a DecisionType. Anything unrecognised is HOLD.
func ParseDecisionType(s string) (DecisionType, bool) {
	switch DecisionType(strings.ToUpper(strings.TrimSpace(s))) {
	case DecisionBuy:
		return DecisionBuy, true
	case DecisionSell:
		return DecisionSell, true
	case DecisionHold:
		return DecisionHold, true
	case DecisionWatch:
		return DecisionWatch, true
	}
	return DecisionHold, false
}

// Actionable reports whether the decision maps onto an order.
func (t DecisionType) Actionable() bool {
	return t == DecisionBuy || t == DecisionSell
}

// Verdict is the canonical feedback vocabulary.
type Verdict string

const (
	VerdictGood    Verdict = "GOOD"
	VerdictBad     Verdict = "BAD"
	VerdictNeutral Verdict = "NEUTRAL"
)

// ParseVerdict accepts the canonical tokens and the POSITIVE/NEGATIVE aliases.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GOOD", "POSITIVE":
		return VerdictGood, nil
	case "BAD", "NEGATIVE":
		return VerdictBad, nil
	case "NEUTRAL":
		return VerdictNeutral, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
}

// Feedback is a user judgment on a decision.
type Feedback struct {
	Verdict   Verdict   `json:"verdict"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is a timestamped trading recommendation.
type Decision struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Type           DecisionType     `json:"type"`
	Confidence     float64          `json:"confidence"`
	Rationale      string           `json:"rationale"`
	PriceTarget    *decimal.Decimal `json:"price_target,omitempty"`
	RiskAssessment string           `json:"risk_assessment,omitempty"`
	SentimentScore float64          `json:"sentiment_score"`
	Source         string           `json:"source"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty"`
	OutcomeValue   *decimal.Decimal `json:"outcome_value,omitempty"`
	Feedback       *Feedback        `json:"feedback,omitempty"`
}

// Executed reports whether executed_at has been set.
func (d Decision) Executed() bool {
	return d.ExecutedAt != nil
}

// RiskTolerance is the user's declared appetite.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "CONSERVATIVE"
	RiskModerate     RiskTolerance = "MODERATE"
	RiskAggressive   RiskTolerance = "AGGRESSIVE"
)

// UserProfile holds the preferences the decision engine takes into account.
type UserProfile struct {
	RiskTolerance      RiskTolerance `json:"risk_tolerance"`
	MaxTradeAmount     float64       `json:"max_trade_amount"`
	AutoTradingEnabled bool          `json:"auto_trading_enabled"`
}
