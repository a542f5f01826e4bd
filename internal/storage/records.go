package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"trading_assistant/internal/models"

	"github.com/shopspring/decimal"
)

// SaveSentiment stores a sentiment score and fills in its id.
func (s *Store) SaveSentiment(ctx context.Context, rec *models.SentimentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sentiment_records (symbol, score, summary, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Symbol, rec.Score, rec.Summary, rec.Source, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert sentiment for %s: %w", rec.Symbol, err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// LatestSentiment returns the newest record for symbol, or nil.
func (s *Store) LatestSentiment(ctx context.Context, symbol string) (*models.SentimentRecord, error) {
	var (
		rec       models.SentimentRecord
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, symbol, score, summary, source, created_at FROM sentiment_records
WHERE symbol=? ORDER BY created_at DESC LIMIT 1`, symbol).
		Scan(&rec.ID, &rec.Symbol, &rec.Score, &rec.Summary, &rec.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sentiment for %s: %w", symbol, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSnapshot stores a portfolio snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return err
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO portfolio_snapshots (account_key, cash, total_value, positions, taken_at) VALUES (?, ?, ?, ?, ?)`,
		snap.AccountKey, snap.Cash.String(), snap.TotalValue.String(), string(positions), formatTime(snap.TakenAt))
	if err != nil {
		return fmt.Errorf("insert portfolio snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for the account, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, accountKey string) (*models.PortfolioSnapshot, error) {
	var (
		snap                   models.PortfolioSnapshot
		cash, total, positions string
		takenAt                string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT account_key, cash, total_value, positions, taken_at FROM portfolio_snapshots
WHERE account_key=? ORDER BY taken_at DESC LIMIT 1`, accountKey).
		Scan(&snap.AccountKey, &cash, &total, &positions, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for %s: %w", accountKey, err)
	}
	if snap.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, err
	}
	if snap.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, err
	}
	if snap.TakenAt, err = parseTime(takenAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CleanupResult counts the rows a cleanup removed.
type CleanupResult struct {
	Decisions  int64 `json:"decisions"`
	Sentiments int64 `json:"sentiments"`
	Snapshots  int64 `json:"snapshots"`
}

// Cleanup deletes decisions older than cutoff that never received feedback,
// and sentiment records and snapshots older than cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	var res CleanupResult
	c := formatTime(cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		q   string
		dst *int64
	}{
		{`DELETE FROM decisions WHERE created_at < ? AND feedback IS NULL`, &res.Decisions},
		{`DELETE FROM sentiment_records WHERE created_at < ?`, &res.Sentiments},
		{`DELETE FROM portfolio_snapshots WHERE taken_at < ?`, &res.Snapshots},
	}
	for _, st := range steps {
		r, err := tx.ExecContext(ctx, st.q, c)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("cleanup: %w", err)
		}
		*st.dst, _ = r.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup commit: %w", err)
	}
	return res, nil
}

const settingAutoTrading = "auto_trading_enabled"

// GetSetting returns the stored value, or ok=false.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// AutoTrading returns the persisted kill switch, or def when it was never set.
func (s *Store) AutoTrading(ctx context.Context, def bool) (bool, error) {
	v, ok, err := s.GetSetting(ctx, settingAutoTrading)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, nil
	}
	return b, nil
}

func (s *Store) SetAutoTrading(ctx context.Context, enabled bool) error {
	return s.SetSetting(ctx, settingAutoTrading, strconv.FormatBool(enabled))
}
