package watcher

import (
	"context"
	"errors"
	"time"

	"trading_assistant/internal/execution"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
	"trading_assistant/internal/storage"

	"github.com/shopspring/decimal"
)

// account returns the first open account, cached after the first lookup.
func (w *Watcher) account(ctx context.Context) (string, error) {
	w.mu.Lock()
	key := w.accountKey
	w.mu.Unlock()
	if key != "" {
		return key, nil
	}

	accounts, err := w.Broker.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if !a.Closed() {
			w.mu.Lock()
			w.accountKey = a.Key
			w.mu.Unlock()
			return a.Key, nil
		}
	}
	return "", execution.ErrNoAccount
}

// SyncPortfolio reads balance and positions from the broker and stores a snapshot.
func (w *Watcher) SyncPortfolio(ctx context.Context) (*models.PortfolioSnapshot, error) {
	key, err := w.account(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := w.Broker.Balance(ctx, key)
	if err != nil {
		return nil, err
	}
	positions, err := w.Broker.Portfolio(ctx, key)
	if err != nil {
		return nil, err
	}

	snap := models.PortfolioSnapshot{
		AccountKey: key,
		Cash:       bal.Cash,
		TotalValue: bal.TotalValue,
		Positions:  positions,
		TakenAt:    w.now().UTC(),
	}
	if snap.TotalValue.IsZero() {
		total := snap.Cash
		for _, p := range positions {
			total = total.Add(p.MarketValue)
		}
		snap.TotalValue = total
	}
	if err := w.Store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	logger.WithField("positions", len(positions)).Infof("Portfolio synced: value $%s", snap.TotalValue.StringFixed(2))
	return &snap, nil
}

// portfolio is the view handed to the decision engine. It prefers the last stored
// snapshot and falls back to an empty portfolio without a broker session.
func (w *Watcher) portfolio(ctx context.Context) models.PortfolioSnapshot {
	key, err := w.account(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrAuthenticationRequired) {
			logger.WithError(err).Warn("Account lookup failed, deciding without portfolio")
		}
		return models.PortfolioSnapshot{Cash: decimal.Zero, TotalValue: decimal.Zero}
	}
	snap, err := w.Store.LatestSnapshot(ctx, key)
	if err == nil && snap != nil {
		return *snap
	}
	if fresh, err := w.SyncPortfolio(ctx); err == nil {
		return *fresh
	}
	return models.PortfolioSnapshot{AccountKey: key}
}

// Cleanup removes data older than the retention window.
func (w *Watcher) Cleanup(ctx context.Context) (storage.CleanupResult, error) {
	cutoff := w.now().AddDate(0, 0, -w.Config.RetentionDays)
	res, err := w.Store.Cleanup(ctx, cutoff)
	if err != nil {
		return res, err
	}
	logger.WithField("cutoff", cutoff.Format(time.RFC3339)).
		Infof("Cleanup removed %d decisions, %d sentiment records, %d snapshots", res.Decisions, res.Sentiments, res.Snapshots)
	return res, nil
}

// Backup writes a JSON export and prunes old ones.
func (w *Watcher) Backup(ctx context.Context) (string, error) {
	path, err := w.Store.WriteBackup(ctx, w.Config.BackupDir, w.Config.BackupRetention, w.now())
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	w.lastBackup = w.now()
	w.mu.Unlock()
	return path, nil
}

// maintain runs cleanup every cycle and a backup at most once a day.
func (w *Watcher) maintain(ctx context.Context) {
	if _, err := w.Cleanup(ctx); err != nil {
		logger.WithError(err).Error("Cleanup failed")
	}

	w.mu.Lock()
	due := w.now().Sub(w.lastBackup) >= 24*time.Hour
	w.mu.Unlock()
	if !due {
		return
	}
	if path, err := w.Backup(ctx); err != nil {
		logger.WithError(err).Error("Backup failed")
	} else {
		logger.Infof("Backup written to %s", path)
	}
}
