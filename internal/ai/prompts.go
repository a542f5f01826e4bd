package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SentimentPrompt asks for the {sentiment_score, summary} contract.
func SentimentPrompt(symbol string, market interface{}, headlines []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the market sentiment for %s based on the following data.\n\n", symbol)
	sb.WriteString("Market Data:\n")
	sb.WriteString(indentJSON(market))
	sb.WriteString("\n\nRecent News:\n")
	for _, h := range headlines {
		sb.WriteString("- ")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString(`
Provide a sentiment score between -1.0 (very negative) and 1.0 (very positive) and a brief summary explaining it.
Respond with JSON only:
{"sentiment_score": 0.0, "summary": "Analysis summary here"}
`)
	return sb.String()
}

// DecisionInput is everything the decision prompt renders.
type DecisionInput struct {
	Symbol         string
	Portfolio      interface{}
	Market         interface{}
	Sentiment      interface{}
	RiskTolerance  string
	MaxTradeAmount float64
	AutoTrading    bool
	Threshold      float64
}

// DecisionPrompt asks for the {decision, confidence, rationale, price_target, risk_assessment} contract.
func DecisionPrompt(in DecisionInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert AI trading advisor. Analyze the following data for %s and provide a trading recommendation.\n\n", in.Symbol)
	sb.WriteString("Portfolio Data:\n")
	sb.WriteString(indentJSON(in.Portfolio))
	sb.WriteString("\n\nMarket Data:\n")
	sb.WriteString(indentJSON(in.Market))
	sb.WriteString("\n\nSentiment Analysis:\n")
	sb.WriteString(indentJSON(in.Sentiment))
	fmt.Fprintf(&sb, "\n\nUser Preferences:\n- Risk Tolerance: %s\n- Max Trade Amount: $%.2f\n- Auto Trading: %t\n",
		in.RiskTolerance, in.MaxTradeAmount, in.AutoTrading)
	fmt.Fprintf(&sb, `
Consider technical indicators, sentiment and news impact, portfolio diversification and risk management for the user's tolerance.
Respond with JSON only:
{"decision": "BUY|SELL|HOLD", "confidence": 0.85, "rationale": "Detailed explanation", "price_target": 150.00, "risk_assessment": "LOW|MEDIUM|HIGH"}

Only recommend BUY or SELL when confidence exceeds %.2f and the decision aligns with the user's risk tolerance.
`, in.Threshold)
	return sb.String()
}

func indentJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
