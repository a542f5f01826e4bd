package sentiment

import (
	"context"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/market"
	"trading_assistant/internal/models"
)

// Recorder persists sentiment records.
type Recorder interface {
	SaveSentiment(ctx context.Context, rec *models.SentimentRecord) error
}

// Scored is one stored sentiment record with the market snapshot it was scored on.
type Scored struct {
	models.SentimentRecord
	Snapshot models.MarketSnapshot
}

// ScoreWatchlist scores every symbol in turn. A failure on one symbol is logged and skipped.
func (a *Analyzer) ScoreWatchlist(ctx context.Context, symbols []string, data market.DataProvider, rec Recorder) []Scored {
	var out []Scored
	for _, symbol := range symbols {
		log := logger.WithField("symbol", symbol)

		snap, err := market.Snapshot(ctx, data, symbol)
		if err != nil {
			log.WithError(err).Error("sentiment batch: quote failed")
			continue
		}
		headlines, err := data.Headlines(ctx, symbol, MaxHeadlines)
		if err != nil {
			log.WithError(err).Warn("sentiment batch: headlines unavailable")
		}

		res := a.Score(ctx, symbol, *snap, models.Titles(headlines))
		record := models.SentimentRecord{
			Symbol:    symbol,
			Score:     res.Score,
			Summary:   res.Summary,
			Source:    res.Outcome.Source(),
			CreatedAt: time.Now().UTC(),
		}
		if rec != nil {
			if err := rec.SaveSentiment(ctx, &record); err != nil {
				log.WithError(err).Error("sentiment batch: save failed")
				continue
			}
		}
		out = append(out, Scored{SentimentRecord: record, Snapshot: *snap})
	}
	return out
}
