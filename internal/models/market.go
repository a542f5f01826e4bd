package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the quote view handed to the analyzers.
type MarketSnapshot struct {
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"change_percent"`
	Volume        int64       `json:"volume"`
	Open          float64     `json:"open"`
	High          float64     `json:"high"`
	Low           float64     `json:"low"`
	PreviousClose float64     `json:"previous_close"`
	Timestamp     time.Time   `json:"timestamp"`
	Indicators    *Indicators `json:"indicators,omitempty"`
}

// FillChange derives the change fields from the previous close when the provider left them empty.
func (s *MarketSnapshot) FillChange() {
	if s.PreviousClose <= 0 || s.ChangePercent != 0 {
		return
	}
	s.Change = s.Price - s.PreviousClose
	s.ChangePercent = s.Change / s.PreviousClose * 100
}

// Indicators are derived from daily history. A zero field means there was not enough history for it.
type Indicators struct {
	SMA20          float64 `json:"sma_20,omitempty"`
	SMA50          float64 `json:"sma_50,omitempty"`
	RSI14          float64 `json:"rsi,omitempty"`
	BollingerUpper float64 `json:"bb_upper,omitempty"`
	BollingerLower float64 `json:"bb_lower,omitempty"`
	BollingerWidth float64 `json:"bb_width,omitempty"`
	PricePosition  float64 `json:"price_position,omitempty"`
}

// Bar represents a candlestick for a timeframe.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Headline is a single news item.
type Headline struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Titles returns the headline titles in order.
func Titles(hs []Headline) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Title)
	}
	return out
}

// SentimentRecord is a persisted sentiment score.
type SentimentRecord struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
