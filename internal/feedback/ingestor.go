package feedback

import (
	"context"
	"strings"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
	"trading_assistant/internal/storage"
)

// Store is the persistence the ingestor writes through.
type Store interface {
	GetDecision(ctx context.Context, id string) (*models.Decision, error)
	SetFeedback(ctx context.Context, id string, fb models.Feedback) error
	FeedbackCounts(ctx context.Context, since time.Time) (storage.FeedbackCounts, error)
}

// Ingestor records user judgments on past decisions.
type Ingestor struct {
	store Store
}

func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Submit validates the verdict and attaches it to the decision. Resubmitting replaces earlier feedback.
func (i *Ingestor) Submit(ctx context.Context, decisionID, verdict, notes string, now time.Time) (*models.Decision, error) {
	v, err := models.ParseVerdict(verdict)
	if err != nil {
		return nil, err
	}
	if _, err := i.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	fb := models.Feedback{Verdict: v, Notes: strings.TrimSpace(notes), Timestamp: now.UTC()}
	if err := i.store.SetFeedback(ctx, decisionID, fb); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"decision_id": decisionID,
		"verdict":     v,
	}).Info("feedback recorded")
	return i.store.GetDecision(ctx, decisionID)
}

// Stats counts feedback given at or after since.
func (i *Ingestor) Stats(ctx context.Context, since time.Time) (storage.FeedbackCounts, error) {
	return i.store.FeedbackCounts(ctx, since)
}
