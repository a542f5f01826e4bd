package alpaca

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trading_assistant/internal/market"
	"trading_assistant/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Options carries the Alpaca credentials. BaseURL selects paper or live trading.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Provider implements market.DataProvider and market.Broker on top of Alpaca.
// Alpaca has a single account per key pair, so the account key is the account id.
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	authed      bool

	// Alpaca has no preview endpoint; previews are validated locally and remembered
	// until placement so the estimated cost can be reported.
	mu       sync.Mutex
	previews map[string]models.OrderPreview
}

var (
	_ market.DataProvider = (*Provider)(nil)
	_ market.Broker       = (*Provider)(nil)
	_ market.Clock        = (*Provider)(nil)
)

func NewProvider(opts Options) *Provider {
	return &Provider{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
		}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		authed:   opts.APIKey != "" && opts.APISecret != "",
		previews: make(map[string]models.OrderPreview),
	}
}

func (p *Provider) requireAuth() error {
	if !p.authed {
		return models.ErrAuthenticationRequired
	}
	return nil
}

func brokerErr(err error, op string) error {
	return errors.Wrapf(models.ErrBrokerRequest, "alpaca %s: %v", op, err)
}

// --- Market Data ---

func (p *Provider) Quote(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	s, err := p.mdClient.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, errors.Wrapf(err, "alpaca snapshot %s", symbol)
	}
	if s == nil || s.LatestTrade == nil {
		return nil, fmt.Errorf("no snapshot found for %s", symbol)
	}

	snap := &models.MarketSnapshot{
		Symbol:    symbol,
		Price:     s.LatestTrade.Price,
		Timestamp: s.LatestTrade.Timestamp,
	}
	if s.DailyBar != nil {
		snap.Open = s.DailyBar.Open
		snap.High = s.DailyBar.High
		snap.Low = s.DailyBar.Low
		snap.Volume = int64(s.DailyBar.Volume)
	}
	if s.PrevDailyBar != nil {
		snap.PreviousClose = s.PrevDailyBar.Close
	}
	snap.FillChange()
	return snap, nil
}

func (p *Provider) History(ctx context.Context, symbol, period, interval string) ([]models.Bar, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	tf := marketdata.OneDay
	if interval == "1h" {
		tf = marketdata.OneHour
	}
	bars, err := p.mdClient.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     market.ParsePeriod(period, time.Now()),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "alpaca bars %s", symbol)
	}

	result := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		result = append(result, models.Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: int64(b.Volume),
		})
	}
	return result, nil
}

func (p *Provider) Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	news, err := p.mdClient.GetNews(marketdata.GetNewsRequest{
		Symbols:    []string{symbol},
		TotalLimit: limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "alpaca news %s", symbol)
	}
	out := make([]models.Headline, 0, len(news))
	for _, n := range news {
		out = append(out, models.Headline{
			Title:       n.Headline,
			Summary:     n.Summary,
			Source:      n.Source,
			PublishedAt: n.CreatedAt,
		})
	}
	return out, nil
}

// IsOpen reports whether the exchange is open now.
func (p *Provider) IsOpen(ctx context.Context) (bool, error) {
	if err := p.requireAuth(); err != nil {
		return false, err
	}
	c, err := p.tradeClient.GetClock()
	if err != nil {
		return false, brokerErr(err, "clock")
	}
	return c.IsOpen, nil
}

// --- Accounts ---

func (p *Provider) ListAccounts(ctx context.Context) ([]models.Account, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	a, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, brokerErr(err, "account")
	}
	acct := models.Account{Key: a.ID, ID: a.AccountNumber, Name: "Alpaca " + a.AccountNumber, Status: strings.ToUpper(string(a.Status))}
	if acct.Closed() {
		return nil, nil
	}
	return []models.Account{acct}, nil
}

func (p *Provider) Balance(ctx context.Context, accountKey string) (*models.Balance, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	a, err := p.tradeClient.GetAccount()
	if err != nil {
		return nil, brokerErr(err, "balance")
	}
	return &models.Balance{
		AccountKey:  accountKey,
		Cash:        a.Cash,
		BuyingPower: a.BuyingPower,
		TotalValue:  a.Equity,
	}, nil
}

func (p *Provider) Portfolio(ctx context.Context, accountKey string) ([]models.Position, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	positions, err := p.tradeClient.GetPositions()
	if err != nil {
		return nil, brokerErr(err, "positions")
	}

	result := make([]models.Position, 0, len(positions))
	for _, x := range positions {
		result = append(result, models.Position{
			Symbol:        x.Symbol,
			Quantity:      x.Qty,
			AvgEntryPrice: x.AvgEntryPrice,
			CostBasis:     x.CostBasis,
			MarketValue:   deref(x.MarketValue),
			CurrentPrice:  deref(x.CurrentPrice),
			UnrealizedPL:  deref(x.UnrealizedPL),
		})
	}
	return result, nil
}

// --- Orders ---

// PreviewOrder validates the order and estimates its cost from the latest trade.
func (p *Provider) PreviewOrder(ctx context.Context, accountKey string, req models.OrderRequest, clientOrderID string) (*models.OrderPreview, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	est := decimal.Zero
	if req.LimitPrice != nil {
		est = req.LimitPrice.Mul(req.Quantity)
	} else if trade, err := p.mdClient.GetLatestTrade(req.Symbol, marketdata.GetLatestTradeRequest{}); err == nil && trade != nil {
		est = decimal.NewFromFloat(trade.Price).Mul(req.Quantity)
	}

	preview := models.OrderPreview{
		PreviewID:     uuid.NewString(),
		ClientOrderID: clientOrderID,
		AccountKey:    accountKey,
		Order:         req,
		EstimatedCost: est.Round(2),
		CreatedAt:     time.Now().UTC(),
	}
	p.mu.Lock()
	p.previews[preview.PreviewID] = preview
	p.mu.Unlock()
	return &preview, nil
}

func (p *Provider) PlaceOrder(ctx context.Context, accountKey string, preview models.OrderPreview) (*models.OrderConfirmation, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	_, ok := p.previews[preview.PreviewID]
	delete(p.previews, preview.PreviewID)
	p.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(models.ErrBrokerRequest, "alpaca place: unknown preview %s", preview.PreviewID)
	}

	req := preview.Order
	qty := req.Quantity
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(strings.ToLower(string(req.Action))),
		Type:          alpaca.Market,
		TimeInForce:   timeInForce(req.OrderTerm),
		ClientOrderID: preview.ClientOrderID,
	}
	if req.PriceType == models.PriceLimit {
		placeReq.Type = alpaca.Limit
		placeReq.LimitPrice = req.LimitPrice
	}

	o, err := p.tradeClient.PlaceOrder(placeReq)
	if err != nil {
		return nil, brokerErr(err, "place")
	}
	return &models.OrderConfirmation{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Status:        o.Status,
		PlacedAt:      o.CreatedAt,
	}, nil
}

func (p *Provider) ListOrders(ctx context.Context, accountKey, status string) ([]models.Order, error) {
	if err := p.requireAuth(); err != nil {
		return nil, err
	}
	if status == "" {
		status = "open"
	}
	orders, err := p.tradeClient.GetOrders(alpaca.GetOrdersRequest{
		Status: strings.ToLower(status),
		Limit:  100,
	})
	if err != nil {
		return nil, brokerErr(err, "orders")
	}

	result := make([]models.Order, 0, len(orders))
	for i := range orders {
		result = append(result, mapOrder(&orders[i]))
	}
	return result, nil
}

func (p *Provider) CancelOrder(ctx context.Context, accountKey, orderID string) error {
	if err := p.requireAuth(); err != nil {
		return err
	}
	if err := p.tradeClient.CancelOrder(orderID); err != nil {
		return brokerErr(err, "cancel")
	}
	return nil
}

// --- Helpers ---

func validate(req models.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return errors.Wrap(models.ErrBrokerRequest, "order has no symbol")
	case req.Action != models.ActionBuy && req.Action != models.ActionSell:
		return errors.Wrapf(models.ErrBrokerRequest, "unsupported action %q", req.Action)
	case !req.Quantity.IsPositive():
		return errors.Wrapf(models.ErrBrokerRequest, "quantity %s must be positive", req.Quantity)
	case req.PriceType == models.PriceLimit && req.LimitPrice == nil:
		return errors.Wrap(models.ErrBrokerRequest, "limit order without limit price")
	}
	return nil
}

func timeInForce(term string) alpaca.TimeInForce {
	switch term {
	case models.TermImmediateOrCancel:
		return alpaca.IOC
	case models.TermFillOrKill:
		return alpaca.FOK
	default:
		return alpaca.Day
	}
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func mapOrder(o *alpaca.Order) models.Order {
	res := models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		FilledQty:     o.FilledQty,
		Type:          string(o.Type),
		Side:          string(o.Side),
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
	if o.Qty != nil {
		res.Qty = *o.Qty
	}
	if o.FilledAvgPrice != nil {
		res.FilledAvgPrice = *o.FilledAvgPrice
	}
	return res
}
