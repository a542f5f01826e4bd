package market

import (
	"context"
	"time"

	"trading_assistant/internal/models"
)

// DataProvider supplies quotes, history and news.
// Implementations exist for Alpaca and Yahoo; tests use hand-written fakes.
type DataProvider interface {
	Quote(ctx context.Context, symbol string) (*models.MarketSnapshot, error)
	// History returns daily bars, oldest first, covering period (e.g. "3mo").
	History(ctx context.Context, symbol, period, interval string) ([]models.Bar, error)
	Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error)
}

// Broker is the account and order surface of a brokerage.
// Without an authenticated session every call fails with models.ErrAuthenticationRequired.
type Broker interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	Balance(ctx context.Context, accountKey string) (*models.Balance, error)
	Portfolio(ctx context.Context, accountKey string) ([]models.Position, error)
	PreviewOrder(ctx context.Context, accountKey string, req models.OrderRequest, clientOrderID string) (*models.OrderPreview, error)
	PlaceOrder(ctx context.Context, accountKey string, preview models.OrderPreview) (*models.OrderConfirmation, error)
	ListOrders(ctx context.Context, accountKey, status string) ([]models.Order, error)
	CancelOrder(ctx context.Context, accountKey, orderID string) error
}

// Clock is implemented by brokers that know the exchange calendar.
type Clock interface {
	IsOpen(ctx context.Context) (bool, error)
}

// ParsePeriod turns "5d", "1mo", "3mo", "1y" into a start time before now.
// Unknown periods default to three months.
func ParsePeriod(period string, now time.Time) time.Time {
	switch period {
	case "1d":
		return now.AddDate(0, 0, -1)
	case "5d":
		return now.AddDate(0, 0, -5)
	case "1mo":
		return now.AddDate(0, -1, 0)
	case "6mo":
		return now.AddDate(0, -6, 0)
	case "1y":
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, -3, 0)
	}
}

// Snapshot fetches a quote and attaches indicators computed from three months of daily bars.
// Missing history leaves Indicators nil rather than failing the quote.
func Snapshot(ctx context.Context, p DataProvider, symbol string) (*models.MarketSnapshot, error) {
	snap, err := p.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap.FillChange()
	bars, err := p.History(ctx, symbol, "3mo", "1d")
	if err == nil {
		snap.Indicators = ComputeIndicators(bars)
	}
	return snap, nil
}
