package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trading_assistant/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func decisionAt(id, symbol string, typ models.DecisionType, conf float64, at time.Time) *models.Decision {
	return &models.Decision{
		ID: id, Symbol: symbol, Type: typ, Confidence: conf,
		Rationale: "r", Source: "fallback", CreatedAt: at,
	}
}

var t0 = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	s, err := Open(path)
	require.NoError(t, err)
	v, err := s.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	require.NoError(t, s.Close())

	// Re-opening an up to date database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.schemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestDecision_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	pt := decimal.RequireFromString("191.46")
	d := decisionAt("d1", "AAPL", models.DecisionBuy, 0.82, t0)
	d.PriceTarget = &pt
	d.RiskAssessment = "MEDIUM"
	require.NoError(t, s.CreateDecision(ctx, d))

	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionBuy, got.Type)
	assert.True(t, got.CreatedAt.Equal(t0))
	require.NotNil(t, got.PriceTarget)
	assert.True(t, got.PriceTarget.Equal(pt))
	assert.Nil(t, got.ExecutedAt)
	assert.Nil(t, got.Feedback)

	_, err = s.GetDecision(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrDecisionNotFound)
}

func TestMarkExecuted_SetOnce(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("d1", "AAPL", models.DecisionBuy, 0.8, t0)))

	require.NoError(t, s.MarkExecuted(ctx, "d1", t0.Add(time.Minute)))
	err := s.MarkExecuted(ctx, "d1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrAlreadyExecuted)

	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got.ExecutedAt)
	assert.True(t, got.ExecutedAt.Equal(t0.Add(time.Minute)))

	assert.ErrorIs(t, s.MarkExecuted(ctx, "nope", t0), models.ErrDecisionNotFound)
}

func TestMarkExecuted_NotBeforeCreation(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("d1", "AAPL", models.DecisionBuy, 0.8, t0)))

	err := s.MarkExecuted(ctx, "d1", t0.Add(-time.Second))
	assert.ErrorIs(t, err, models.ErrExecutedBeforeCreated)
	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got.ExecutedAt)

	require.NoError(t, s.MarkExecuted(ctx, "d1", t0))
}

func TestClaimExecution(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("d1", "AAPL", models.DecisionBuy, 0.8, t0)))

	require.NoError(t, s.ClaimExecution(ctx, "d1", t0))
	assert.ErrorIs(t, s.ClaimExecution(ctx, "d1", t0), models.ErrExecutionClaimed)
	pending, err := s.PendingExecution(ctx, 0.7, 5)
	require.NoError(t, err)
	assert.Empty(t, pending, "claimed decisions are not pending")

	require.NoError(t, s.ReleaseExecution(ctx, "d1"))
	pending, err = s.PendingExecution(ctx, 0.7, 5)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.ClaimExecution(ctx, "d1", t0))
	require.NoError(t, s.MarkExecuted(ctx, "d1", t0.Add(time.Minute)))
	require.NoError(t, s.ReleaseExecution(ctx, "d1"))
	assert.ErrorIs(t, s.ClaimExecution(ctx, "d1", t0), models.ErrAlreadyExecuted)
	assert.ErrorIs(t, s.ClaimExecution(ctx, "nope", t0), models.ErrDecisionNotFound)
}

func TestClaimExecution_OneWinner(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("d1", "AAPL", models.DecisionBuy, 0.8, t0)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ClaimExecution(ctx, "d1", t0) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPendingExecution(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("old-buy", "AAPL", models.DecisionBuy, 0.8, t0)))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("new-sell", "TSLA", models.DecisionSell, 0.9, t0.Add(time.Hour))))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("hold", "MSFT", models.DecisionHold, 0.9, t0)))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("weak", "GOOGL", models.DecisionBuy, 0.6, t0)))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("done", "AMZN", models.DecisionBuy, 0.95, t0)))
	require.NoError(t, s.MarkExecuted(ctx, "done", t0))

	got, err := s.PendingExecution(ctx, 0.7, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new-sell", got[0].ID)
	assert.Equal(t, "old-buy", got[1].ID)
}

func TestFeedback(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, v := range []models.Verdict{models.VerdictGood, models.VerdictGood, models.VerdictBad, models.VerdictNeutral} {
		id := string(rune('a' + i))
		require.NoError(t, s.CreateDecision(ctx, decisionAt(id, "AAPL", models.DecisionBuy, 0.8, t0)))
		require.NoError(t, s.SetFeedback(ctx, id, models.Feedback{Verdict: v, Notes: "n", Timestamp: t0.AddDate(0, 0, i*20)}))
	}
	assert.ErrorIs(t, s.SetFeedback(ctx, "zzz", models.Feedback{Verdict: models.VerdictGood, Timestamp: t0}), models.ErrDecisionNotFound)

	counts, err := s.FeedbackCounts(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, FeedbackCounts{Total: 4, Positive: 2, Negative: 1, Neutral: 1}, counts)

	recent, err := s.DecisionsWithFeedbackSince(ctx, t0.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.VerdictBad, recent[0].Feedback.Verdict)
	assert.Equal(t, "n", recent[0].Feedback.Notes)
}

func lc(threshold float64, at time.Time) models.LearningContext {
	return models.LearningContext{
		Parameters: models.LearningParameters{ConfidenceThreshold: threshold, RiskAdjustment: 1, MaxTradeAmount: 1000},
		CreatedAt:  at,
	}
}

func TestCommitLearningContext_Lineage(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, ok, err := s.ActiveLearningContext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.CommitLearningContext(ctx, 0, lc(0.7, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.IsActive)

	second, err := s.CommitLearningContext(ctx, 1, lc(0.8, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	// A writer that read version 1 has lost the race.
	_, err = s.CommitLearningContext(ctx, 1, lc(0.6, t0))
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

	active, ok, err := s.ActiveLearningContext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 0.8, active.Parameters.ConfidenceThreshold)

	all, err := s.ListLearningContexts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[1].IsActive)
}

func TestCommitLearningContext_ConcurrentWriters(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every writer observed "no active context".
			if _, err := s.CommitLearningContext(ctx, 0, lc(0.7, t0)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM learning_contexts WHERE is_active=1`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestActiveLearningContext_InvariantViolation(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	// Simulate a database written before the single-active index existed.
	_, err := s.db.Exec(`DROP INDEX idx_learning_single_active`)
	require.NoError(t, err)
	for v := 1; v <= 2; v++ {
		_, err := s.db.Exec(`INSERT INTO learning_contexts (version, parameters, feedback_summary, performance_metrics, is_active, created_at)
VALUES (?, '{}', '{}', '{}', 1, ?)`, v, formatTime(t0))
		require.NoError(t, err)
	}

	_, _, err = s.ActiveLearningContext(ctx)
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	_, err = s.CommitLearningContext(ctx, 2, lc(0.7, t0))
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestCleanup(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	cutoff := t0.AddDate(0, 0, 10)

	require.NoError(t, s.CreateDecision(ctx, decisionAt("old", "AAPL", models.DecisionBuy, 0.8, t0)))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("old-fb", "AAPL", models.DecisionBuy, 0.8, t0)))
	require.NoError(t, s.SetFeedback(ctx, "old-fb", models.Feedback{Verdict: models.VerdictGood, Timestamp: t0}))
	require.NoError(t, s.CreateDecision(ctx, decisionAt("new", "AAPL", models.DecisionBuy, 0.8, cutoff.Add(time.Hour))))
	require.NoError(t, s.SaveSentiment(ctx, &models.SentimentRecord{Symbol: "AAPL", Score: 0.2, Summary: "s", Source: "ai", CreatedAt: t0}))
	require.NoError(t, s.SaveSnapshot(ctx, models.PortfolioSnapshot{AccountKey: "k", TakenAt: t0}))

	res, err := s.Cleanup(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Decisions: 1, Sentiments: 1, Snapshots: 1}, res)

	_, err = s.GetDecision(ctx, "old-fb")
	assert.NoError(t, err)
	_, err = s.GetDecision(ctx, "old")
	assert.ErrorIs(t, err, models.ErrDecisionNotFound)
}

func TestSnapshotsAndSentiment(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	snap := models.PortfolioSnapshot{
		AccountKey: "acct",
		Cash:       decimal.NewFromInt(500),
		TotalValue: decimal.RequireFromString("1520.25"),
		Positions:  []models.Position{{Symbol: "AAPL", Quantity: decimal.NewFromInt(3)}},
		TakenAt:    t0,
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	got, err := s.LatestSnapshot(ctx, "acct")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.TotalValue.Equal(snap.TotalValue))
	pos, ok := got.Holding("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(3)))

	none, err := s.LatestSnapshot(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	rec := &models.SentimentRecord{Symbol: "AAPL", Score: -0.4, Summary: "weak", Source: "fallback", CreatedAt: t0}
	require.NoError(t, s.SaveSentiment(ctx, rec))
	assert.NotZero(t, rec.ID)
	latest, err := s.LatestSentiment(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, -0.4, latest.Score)
}

func TestAutoTradingSetting(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	on, err := s.AutoTrading(ctx, true)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.SetAutoTrading(ctx, false))
	on, err = s.AutoTrading(ctx, true)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestWriteBackup_PrunesOldFiles(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, s.CreateDecision(ctx, decisionAt("d1", "AAPL", models.DecisionBuy, 0.8, t0)))

	var last string
	for i := 0; i < 4; i++ {
		p, err := s.WriteBackup(ctx, dir, 2, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		last = p
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	doc, err := ReadBackup(last)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	require.Len(t, doc.Decisions, 1)
	assert.Equal(t, "d1", doc.Decisions[0].ID)
}
