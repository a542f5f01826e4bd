package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading_assistant/internal/ai"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
)

// Parameter bounds and the default threshold used before any feedback exists.
const (
	DefaultThreshold = 0.7
	MinThreshold     = 0.5
	MaxThreshold     = 0.9
	DefaultWindow    = 30 * 24 * time.Hour
)

// Store is the persistence the manager needs.
type Store interface {
	DecisionsWithFeedbackSince(ctx context.Context, since time.Time) ([]models.Decision, error)
	ActiveLearningContext(ctx context.Context) (*models.LearningContext, bool, error)
	CommitLearningContext(ctx context.Context, expectedVersion int, next models.LearningContext) (models.LearningContext, error)
}

// Manager derives new learning contexts from recent feedback.
type Manager struct {
	store            Store
	window           time.Duration
	maxTradeAmount   float64
	defaultThreshold float64
}

func NewManager(store Store, window time.Duration, maxTradeAmount float64) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{store: store, window: window, maxTradeAmount: maxTradeAmount, defaultThreshold: DefaultThreshold}
}

// WithDefaultThreshold sets the gate used before any context exists.
func (m *Manager) WithDefaultThreshold(th float64) *Manager {
	if th > 0 {
		m.defaultThreshold = th
	}
	return m
}

// Active returns the active context, or ok=false if none has been derived yet.
func (m *Manager) Active(ctx context.Context) (*models.LearningContext, bool, error) {
	return m.store.ActiveLearningContext(ctx)
}

// Threshold is the confidence gate currently in force.
func (m *Manager) Threshold(ctx context.Context) (float64, error) {
	lc, ok, err := m.store.ActiveLearningContext(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return m.defaultThreshold, nil
	}
	return lc.Parameters.ConfidenceThreshold, nil
}

// Optimize runs one cycle. With no feedback inside the window nothing changes and
// changed is false. Otherwise the new context is committed against the active version
// read at the start; a concurrent writer makes it fail with models.ErrConcurrentUpdate.
func (m *Manager) Optimize(ctx context.Context, now time.Time) (models.LearningContext, bool, error) {
	log := logger.WithField("component", "learning")

	prev, ok, err := m.store.ActiveLearningContext(ctx)
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			log.WithError(err).Error("learning context invariant violated")
		}
		return models.LearningContext{}, false, err
	}
	expected := 0
	if ok {
		expected = prev.Version
	}

	decisions, err := m.store.DecisionsWithFeedbackSince(ctx, now.Add(-m.window))
	if err != nil {
		return models.LearningContext{}, false, fmt.Errorf("load feedback: %w", err)
	}
	if len(decisions) == 0 {
		log.Info("no feedback in window, learning context unchanged")
		if ok {
			return *prev, false, nil
		}
		return models.LearningContext{}, false, nil
	}

	next := Derive(decisions, m.maxTradeAmount, now)
	committed, err := m.store.CommitLearningContext(ctx, expected, next)
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			log.WithError(err).Error("learning context invariant violated")
		}
		return models.LearningContext{}, false, err
	}

	log.WithFields(map[string]interface{}{
		"version":   committed.Version,
		"threshold": committed.Parameters.ConfidenceThreshold,
		"accuracy":  committed.FeedbackSummary.AccuracyRate,
		"feedback":  committed.FeedbackSummary.Total,
	}).Info("learning context optimized")
	return committed, true, nil
}

// Derive computes the parameters implied by a non-empty feedback set.
func Derive(decisions []models.Decision, maxTradeAmount float64, now time.Time) models.LearningContext {
	var total, good, bad int
	for _, d := range decisions {
		if d.Feedback == nil {
			continue
		}
		total++
		switch d.Feedback.Verdict {
		case models.VerdictGood:
			good++
		case models.VerdictBad:
			bad++
		}
	}
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(good) / float64(total)
	}

	return models.LearningContext{
		Parameters: models.LearningParameters{
			ConfidenceThreshold: ai.Clamp(DefaultThreshold+(accuracy-0.5), MinThreshold, MaxThreshold),
			RiskAdjustment:      1 + (accuracy-0.5)*0.2,
			MaxTradeAmount:      maxTradeAmount,
		},
		FeedbackSummary: models.FeedbackSummary{
			Total:        total,
			Positive:     good,
			Negative:     bad,
			AccuracyRate: accuracy,
		},
		PerformanceMetrics: models.PerformanceMetrics{
			TotalDecisions:   total,
			SuccessfulTrades: good,
			AccuracyRate:     accuracy,
			LastOptimization: now.UTC(),
		},
		CreatedAt: now.UTC(),
	}
}
