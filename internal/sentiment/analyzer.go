package sentiment

import (
	"context"
	"fmt"
	"strings"

	"trading_assistant/internal/ai"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
)

// MaxHeadlines is how many headlines either path looks at.
const MaxHeadlines = 5

var (
	positiveWords = []string{"up", "gain", "rise", "bull", "positive", "strong", "growth"}
	negativeWords = []string{"down", "fall", "drop", "bear", "negative", "weak", "decline"}
)

// Generator is the reasoning backend as seen by the analyzer.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Result is a sentiment score with the path that produced it.
type Result struct {
	Score   float64
	Summary string
	Outcome ai.Outcome
}

// Analyzer scores sentiment for a symbol. It never fails.
type Analyzer struct {
	gen Generator
}

// New returns an analyzer. gen may be nil, in which case every score is a fallback.
func New(gen Generator) *Analyzer {
	return &Analyzer{gen: gen}
}

// Score returns a score in [-1, 1] for the symbol.
func (a *Analyzer) Score(ctx context.Context, symbol string, snapshot models.MarketSnapshot, headlines []string) Result {
	if len(headlines) > MaxHeadlines {
		headlines = headlines[:MaxHeadlines]
	}

	reply, err := a.ask(ctx, symbol, snapshot, headlines)
	if err != nil {
		reason := ai.Classify(err)
		logger.WithFields(map[string]interface{}{"symbol": symbol, "reason": reason}).
			WithError(err).Warn("sentiment backend failed, using fallback")
		score, summary := Fallback(snapshot.ChangePercent, headlines)
		return Result{Score: score, Summary: summary, Outcome: ai.Fallback(reason)}
	}

	logger.WithFields(map[string]interface{}{"symbol": symbol, "score": reply.Score}).Info("sentiment analysis complete")
	return Result{Score: reply.Score, Summary: reply.Summary, Outcome: ai.Primary()}
}

func (a *Analyzer) ask(ctx context.Context, symbol string, snapshot models.MarketSnapshot, headlines []string) (ai.SentimentReply, error) {
	if a.gen == nil {
		return ai.SentimentReply{}, ai.ErrBackendAbsent
	}
	raw, err := a.gen.Generate(ctx, ai.SentimentPrompt(symbol, snapshot, headlines))
	if err != nil {
		return ai.SentimentReply{}, err
	}
	return ai.ParseSentiment(raw)
}

// Fallback is the deterministic score: price change plus weighted keyword polarity.
// Each keyword counts once if it appears anywhere in the lowercased headlines.
func Fallback(changePct float64, headlines []string) (float64, string) {
	if len(headlines) > MaxHeadlines {
		headlines = headlines[:MaxHeadlines]
	}
	text := strings.ToLower(strings.Join(headlines, " "))

	pos := countHits(text, positiveWords)
	neg := countHits(text, negativeWords)

	score := changePct / 100
	if pos+neg > 0 {
		polarity := float64(pos-neg) / float64(pos+neg)
		score += 0.3 * polarity
	}

	return ai.Clamp(score, -1, 1), fmt.Sprintf("Fallback analysis: %d positive, %d negative signals", pos, neg)
}

func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
