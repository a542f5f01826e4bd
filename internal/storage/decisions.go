package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"trading_assistant/internal/models"

	"github.com/shopspring/decimal"
)

const decisionColumns = `id, symbol, decision_type, confidence, rationale, price_target, risk_assessment,
  sentiment_score, source, fallback_reason, created_at, executed_at, outcome_value, feedback, feedback_notes, feedback_at`

// CreateDecision inserts a new decision. Decisions are never rewritten after creation
// except through ClaimExecution, MarkExecuted, SetOutcome and SetFeedback.
func (s *Store) CreateDecision(ctx context.Context, d *models.Decision) error {
	var feedback, feedbackAt interface{}
	notes := ""
	if d.Feedback != nil {
		feedback = string(d.Feedback.Verdict)
		notes = d.Feedback.Notes
		feedbackAt = formatTime(d.Feedback.Timestamp)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO decisions (`+decisionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Symbol, string(d.Type), d.Confidence, d.Rationale, nullDecimal(d.PriceTarget), d.RiskAssessment,
		d.SentimentScore, d.Source, d.FallbackReason, formatTime(d.CreatedAt), nullTime(d.ExecutedAt),
		nullDecimal(d.OutcomeValue), feedback, notes, feedbackAt)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision returns models.ErrDecisionNotFound for unknown ids.
func (s *Store) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrDecisionNotFound, id)
	}
	return d, err
}

// DecisionFilter narrows ListDecisions. Zero values do not filter.
type DecisionFilter struct {
	Symbol string
	Limit  int
}

// ListDecisions returns decisions newest first.
func (s *Store) ListDecisions(ctx context.Context, f DecisionFilter) ([]models.Decision, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Symbol != "" {
		where = append(where, "symbol=?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	q := `SELECT ` + decisionColumns + ` FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryDecisions(ctx, q, args...)
}

// PendingExecution returns unexecuted, unclaimed BUY/SELL decisions at or above minConfidence, newest first.
func (s *Store) PendingExecution(ctx context.Context, minConfidence float64, limit int) ([]models.Decision, error) {
	return s.queryDecisions(ctx, `
SELECT `+decisionColumns+` FROM decisions
WHERE executed_at IS NULL AND claimed_at IS NULL AND decision_type IN ('BUY','SELL') AND confidence >= ?
ORDER BY created_at DESC LIMIT ?`, minConfidence, limit)
}

// DecisionsWithFeedbackSince returns decisions whose feedback was given at or after since.
func (s *Store) DecisionsWithFeedbackSince(ctx context.Context, since time.Time) ([]models.Decision, error) {
	return s.queryDecisions(ctx, `
SELECT `+decisionColumns+` FROM decisions
WHERE feedback IS NOT NULL AND feedback_at >= ?
ORDER BY feedback_at ASC`, formatTime(since))
}

// ClaimExecution reserves an unexecuted decision for one execution pass.
// It fails with models.ErrAlreadyExecuted or models.ErrExecutionClaimed when someone got there first.
func (s *Store) ClaimExecution(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET claimed_at=? WHERE id=? AND executed_at IS NULL AND claimed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("claim decision %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	executed, err := s.executed(ctx, id)
	if err != nil {
		return err
	}
	if executed {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExecuted, id)
	}
	return fmt.Errorf("%w: %s", models.ErrExecutionClaimed, id)
}

// ReleaseExecution drops the claim on a decision that was never sent to the broker.
func (s *Store) ReleaseExecution(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE decisions SET claimed_at=NULL WHERE id=? AND executed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("release decision %s: %w", id, err)
	}
	return nil
}

// MarkExecuted sets executed_at once, never earlier than created_at.
// A second call returns models.ErrAlreadyExecuted.
func (s *Store) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET executed_at=? WHERE id=? AND executed_at IS NULL AND created_at <= ?`, ts, id, ts)
	if err != nil {
		return fmt.Errorf("mark decision %s executed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	executed, err := s.executed(ctx, id)
	if err != nil {
		return err
	}
	if executed {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExecuted, id)
	}
	return fmt.Errorf("%w: %s at %s", models.ErrExecutedBeforeCreated, id, ts)
}

// executed reports whether a decision has executed_at set.
func (s *Store) executed(ctx context.Context, id string) (bool, error) {
	var at sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT executed_at FROM decisions WHERE id=?`, id).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", models.ErrDecisionNotFound, id)
	}
	if err != nil {
		return false, err
	}
	return at.Valid, nil
}

// SetOutcome records the realised value of an executed decision.
func (s *Store) SetOutcome(ctx context.Context, id string, value decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE decisions SET outcome_value=? WHERE id=?`, value.String(), id)
	if err != nil {
		return fmt.Errorf("set outcome on %s: %w", id, err)
	}
	return s.expectOne(ctx, res, id)
}

// SetFeedback replaces the feedback on a decision.
func (s *Store) SetFeedback(ctx context.Context, id string, fb models.Feedback) error {
	res, err := s.db.ExecContext(ctx, `UPDATE decisions SET feedback=?, feedback_notes=?, feedback_at=? WHERE id=?`,
		string(fb.Verdict), fb.Notes, formatTime(fb.Timestamp), id)
	if err != nil {
		return fmt.Errorf("set feedback on %s: %w", id, err)
	}
	return s.expectOne(ctx, res, id)
}

// FeedbackCounts tallies feedback given at or after since.
type FeedbackCounts struct {
	Total    int `json:"total"`
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

func (s *Store) FeedbackCounts(ctx context.Context, since time.Time) (FeedbackCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT feedback, COUNT(*) FROM decisions
WHERE feedback IS NOT NULL AND feedback_at >= ?
GROUP BY feedback`, formatTime(since))
	if err != nil {
		return FeedbackCounts{}, fmt.Errorf("count feedback: %w", err)
	}
	defer rows.Close()

	var c FeedbackCounts
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return FeedbackCounts{}, err
		}
		c.Total += n
		switch models.Verdict(verdict) {
		case models.VerdictGood:
			c.Positive += n
		case models.VerdictBad:
			c.Negative += n
		default:
			c.Neutral += n
		}
	}
	return c, rows.Err()
}

// expectOne maps a zero-row update onto not-found.
func (s *Store) expectOne(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.executed(ctx, id)
	return err
}

func (s *Store) queryDecisions(ctx context.Context, q string, args ...interface{}) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(sc scanner) (*models.Decision, error) {
	var (
		d                      models.Decision
		typ                    string
		priceTarget, outcome   decimal.NullDecimal
		createdAt              string
		executedAt, feedbackAt sql.NullString
		feedback               sql.NullString
		notes                  string
	)
	if err := sc.Scan(&d.ID, &d.Symbol, &typ, &d.Confidence, &d.Rationale, &priceTarget, &d.RiskAssessment,
		&d.SentimentScore, &d.Source, &d.FallbackReason, &createdAt, &executedAt, &outcome, &feedback, &notes, &feedbackAt); err != nil {
		return nil, err
	}
	d.Type = models.DecisionType(typ)

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decision %s created_at: %w", d.ID, err)
	}
	if d.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return nil, fmt.Errorf("decision %s executed_at: %w", d.ID, err)
	}
	if priceTarget.Valid {
		pt := priceTarget.Decimal
		d.PriceTarget = &pt
	}
	if outcome.Valid {
		ov := outcome.Decimal
		d.OutcomeValue = &ov
	}
	if feedback.Valid {
		at, err := parseNullTime(feedbackAt)
		if err != nil {
			return nil, fmt.Errorf("decision %s feedback_at: %w", d.ID, err)
		}
		fb := &models.Feedback{Verdict: models.Verdict(feedback.String), Notes: notes}
		if at != nil {
			fb.Timestamp = *at
		}
		d.Feedback = fb
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
