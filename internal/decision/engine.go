package decision

import (
	"context"
	"fmt"
	"time"

	"trading_assistant/internal/ai"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fallback thresholds and confidences.
const (
	BuySentiment       = 0.3
	SellSentiment      = -0.3
	FallbackConfidence = 0.6
	NeutralConfidence  = 0.5
)

// Generator is the reasoning backend as seen by the engine.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Sentiment is the scored input the engine consumes.
type Sentiment struct {
	Score   float64 `json:"sentiment_score"`
	Summary string  `json:"summary"`
}

// Input is everything a decision depends on.
type Input struct {
	Symbol    string
	Portfolio models.PortfolioSnapshot
	Market    models.MarketSnapshot
	Sentiment Sentiment
	Profile   models.UserProfile
	// Learning is the active context. Nil means none has been derived yet.
	Learning *models.LearningContext
}

// Engine turns market context into a gated Decision. It does not persist anything.
type Engine struct {
	gen              Generator
	defaultThreshold float64
	now              func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(gen Generator, defaultThreshold float64, opts ...Option) *Engine {
	e := &Engine{gen: gen, defaultThreshold: defaultThreshold, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold is the confidence gate for the given context.
func (e *Engine) Threshold(lc *models.LearningContext) float64 {
	if lc != nil && lc.IsActive {
		return lc.Parameters.ConfidenceThreshold
	}
	return e.defaultThreshold
}

// Decide produces a Decision and reports which path produced it. The confidence gate applies to both paths.
func (e *Engine) Decide(ctx context.Context, in Input) (models.Decision, ai.Outcome) {
	threshold := e.Threshold(in.Learning)

	d := models.Decision{
		ID:             uuid.NewString(),
		Symbol:         in.Symbol,
		SentimentScore: in.Sentiment.Score,
		CreatedAt:      e.now().UTC(),
	}

	var outcome ai.Outcome
	reply, err := e.ask(ctx, in, threshold)
	if err != nil {
		outcome = ai.Fallback(ai.Classify(err))
		logger.WithFields(map[string]interface{}{"symbol": in.Symbol, "reason": outcome.Reason}).
			WithError(err).Warn("decision backend failed, using fallback")
		d.Type, d.Confidence, d.Rationale = Fallback(in.Sentiment.Score)
	} else {
		outcome = ai.Primary()
		d.Type, _ = models.ParseDecisionType(reply.Decision)
		if d.Type == models.DecisionWatch {
			// The backend contract only offers BUY, SELL and HOLD.
			d.Type = models.DecisionHold
		}
		d.Confidence = reply.Confidence
		d.Rationale = reply.Rationale
		d.RiskAssessment = reply.RiskAssessment
		if reply.PriceTarget != nil {
			pt := decimal.NewFromFloat(*reply.PriceTarget).Round(2)
			d.PriceTarget = &pt
		}
	}
	d.Source = outcome.Source()
	d.FallbackReason = string(outcome.Reason)

	Gate(&d, threshold)

	logger.WithFields(map[string]interface{}{
		"symbol":     d.Symbol,
		"decision":   d.Type,
		"confidence": d.Confidence,
		"threshold":  threshold,
		"source":     d.Source,
	}).Info("trading decision generated")
	return d, outcome
}

func (e *Engine) ask(ctx context.Context, in Input, threshold float64) (ai.DecisionReply, error) {
	if e.gen == nil {
		return ai.DecisionReply{}, ai.ErrBackendAbsent
	}
	prompt := ai.DecisionPrompt(ai.DecisionInput{
		Symbol:         in.Symbol,
		Portfolio:      in.Portfolio,
		Market:         in.Market,
		Sentiment:      in.Sentiment,
		RiskTolerance:  string(in.Profile.RiskTolerance),
		MaxTradeAmount: in.Profile.MaxTradeAmount,
		AutoTrading:    in.Profile.AutoTradingEnabled,
		Threshold:      threshold,
	})
	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return ai.DecisionReply{}, err
	}
	return ai.ParseDecision(raw)
}

// Fallback is the deterministic sentiment rule.
func Fallback(sentiment float64) (models.DecisionType, float64, string) {
	switch {
	case sentiment > BuySentiment:
		return models.DecisionBuy, FallbackConfidence, fmt.Sprintf("Fallback analysis: Positive sentiment (%.2f)", sentiment)
	case sentiment < SellSentiment:
		return models.DecisionSell, FallbackConfidence, fmt.Sprintf("Fallback analysis: Negative sentiment (%.2f)", sentiment)
	default:
		return models.DecisionHold, NeutralConfidence, fmt.Sprintf("Fallback analysis: Neutral sentiment (%.2f), holding position", sentiment)
	}
}

// Gate forces any decision below the threshold to HOLD and notes why.
func Gate(d *models.Decision, threshold float64) {
	if d.Confidence >= threshold {
		return
	}
	d.Type = models.DecisionHold
	d.Rationale += fmt.Sprintf(" (confidence %.2f below threshold %.2f)", d.Confidence, threshold)
}
