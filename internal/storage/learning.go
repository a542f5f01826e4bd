package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trading_assistant/internal/models"
)

const learningColumns = `id, version, parameters, feedback_summary, performance_metrics, is_active, created_at`

// ActiveLearningContext returns the active context, or ok=false when none exists.
// More than one active row is models.ErrInvariantViolation.
func (s *Store) ActiveLearningContext(ctx context.Context) (*models.LearningContext, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+learningColumns+` FROM learning_contexts WHERE is_active=1`)
	if err != nil {
		return nil, false, fmt.Errorf("query active learning context: %w", err)
	}
	defer rows.Close()

	var active []*models.LearningContext
	for rows.Next() {
		lc, err := scanLearning(rows)
		if err != nil {
			return nil, false, err
		}
		active = append(active, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	switch len(active) {
	case 0:
		return nil, false, nil
	case 1:
		return active[0], true, nil
	default:
		return nil, false, fmt.Errorf("%w: %d active contexts", models.ErrInvariantViolation, len(active))
	}
}

// ListLearningContexts returns the lineage, newest version first.
func (s *Store) ListLearningContexts(ctx context.Context, limit int) ([]models.LearningContext, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+learningColumns+` FROM learning_contexts ORDER BY version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query learning contexts: %w", err)
	}
	defer rows.Close()

	var out []models.LearningContext
	for rows.Next() {
		lc, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lc)
	}
	return out, rows.Err()
}

// CommitLearningContext supersedes the active context with next in one transaction.
// expectedVersion is the active version the caller read (0 for none); if the active
// version differs at commit time the call fails with models.ErrConcurrentUpdate.
// The stored version, id and active flag are assigned here and returned.
func (s *Store) CommitLearningContext(ctx context.Context, expectedVersion int, next models.LearningContext) (models.LearningContext, error) {
	s.learnMu.Lock()
	defer s.learnMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LearningContext{}, fmt.Errorf("begin learning commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	activeVersions, err := activeVersionsTx(ctx, tx)
	if err != nil {
		return models.LearningContext{}, err
	}
	if len(activeVersions) > 1 {
		return models.LearningContext{}, fmt.Errorf("%w: %d active contexts", models.ErrInvariantViolation, len(activeVersions))
	}
	current := 0
	if len(activeVersions) == 1 {
		current = activeVersions[0]
	}
	if current != expectedVersion {
		return models.LearningContext{}, fmt.Errorf("%w: expected version %d, found %d", models.ErrConcurrentUpdate, expectedVersion, current)
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM learning_contexts`).Scan(&maxVersion); err != nil {
		return models.LearningContext{}, fmt.Errorf("read max learning version: %w", err)
	}

	if current > 0 {
		res, err := tx.ExecContext(ctx, `UPDATE learning_contexts SET is_active=0 WHERE is_active=1 AND version=?`, current)
		if err != nil {
			return models.LearningContext{}, fmt.Errorf("supersede learning version %d: %w", current, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return models.LearningContext{}, fmt.Errorf("%w: version %d no longer active", models.ErrConcurrentUpdate, current)
		}
	}

	next.Version = int(maxVersion.Int64) + 1
	next.IsActive = true
	params, summary, metrics, err := marshalLearning(next)
	if err != nil {
		return models.LearningContext{}, err
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO learning_contexts (version, parameters, feedback_summary, performance_metrics, is_active, created_at)
VALUES (?, ?, ?, ?, 1, ?)`, next.Version, params, summary, metrics, formatTime(next.CreatedAt))
	if err != nil {
		return models.LearningContext{}, fmt.Errorf("insert learning version %d: %w", next.Version, err)
	}
	if next.ID, err = res.LastInsertId(); err != nil {
		return models.LearningContext{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.LearningContext{}, fmt.Errorf("commit learning version %d: %w", next.Version, err)
	}
	return next, nil
}

func activeVersionsTx(ctx context.Context, tx *sql.Tx) ([]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM learning_contexts WHERE is_active=1`)
	if err != nil {
		return nil, fmt.Errorf("query active learning versions: %w", err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func marshalLearning(lc models.LearningContext) (params, summary, metrics string, err error) {
	p, err := json.Marshal(lc.Parameters)
	if err != nil {
		return "", "", "", err
	}
	sm, err := json.Marshal(lc.FeedbackSummary)
	if err != nil {
		return "", "", "", err
	}
	m, err := json.Marshal(lc.PerformanceMetrics)
	if err != nil {
		return "", "", "", err
	}
	return string(p), string(sm), string(m), nil
}

func scanLearning(sc scanner) (*models.LearningContext, error) {
	var (
		lc                       models.LearningContext
		params, summary, metrics string
		active                   int
		createdAt                string
	)
	if err := sc.Scan(&lc.ID, &lc.Version, &params, &summary, &metrics, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan learning context: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &lc.Parameters); err != nil {
		return nil, fmt.Errorf("learning version %d parameters: %w", lc.Version, err)
	}
	if err := json.Unmarshal([]byte(summary), &lc.FeedbackSummary); err != nil {
		return nil, fmt.Errorf("learning version %d feedback summary: %w", lc.Version, err)
	}
	if err := json.Unmarshal([]byte(metrics), &lc.PerformanceMetrics); err != nil {
		return nil, fmt.Errorf("learning version %d metrics: %w", lc.Version, err)
	}
	lc.IsActive = active == 1
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("learning version %d created_at: %w", lc.Version, err)
	}
	lc.CreatedAt = t
	return &lc, nil
}
