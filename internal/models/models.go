package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderAction is the side of an equity order as understood by the brokers.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// PriceType and OrderTerm follow the broker vocabulary.
const (
	PriceMarket = "MARKET"
	PriceLimit  = "LIMIT"

	TermGoodForDay        = "GOOD_FOR_DAY"
	TermImmediateOrCancel = "IMMEDIATE_OR_CANCEL"
	TermFillOrKill        = "FILL_OR_KILL"
)

// OrderRequest carries the fields that must be identical between a preview and the placement that consumes it.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Action     OrderAction      `json:"action"`
	Quantity   decimal.Decimal  `json:"quantity"`
	PriceType  string           `json:"price_type"`
	OrderTerm  string           `json:"order_term"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// Same reports whether two requests describe the same logical order.
func (r OrderRequest) Same(o OrderRequest) bool {
	if r.Symbol != o.Symbol || r.Action != o.Action || r.PriceType != o.PriceType || r.OrderTerm != o.OrderTerm {
		return false
	}
	if !r.Quantity.Equal(o.Quantity) {
		return false
	}
	if (r.LimitPrice == nil) != (o.LimitPrice == nil) {
		return false
	}
	return r.LimitPrice == nil || r.LimitPrice.Equal(*o.LimitPrice)
}

// OrderPreview is the ephemeral result of the first phase of the order protocol.
type OrderPreview struct {
	PreviewID     string          `json:"preview_id"`
	ClientOrderID string          `json:"client_order_id"`
	AccountKey    string          `json:"account_key"`
	Order         OrderRequest    `json:"order"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OrderConfirmation is returned by a successful placement.
type OrderConfirmation struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	PlacedAt      time.Time `json:"placed_at"`
}

// Order represents a generic order found in any broker.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	Type           string          `json:"type"`
	Side           string          `json:"side"`
	Status         string          `json:"status"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
}

// Account is a brokerage account. Key is the identifier the broker expects on account scoped calls.
type Account struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Closed reports whether the broker marks the account as closed.
func (a Account) Closed() bool {
	return a.Status == "CLOSED"
}

// Balance is the cash side of an account.
type Balance struct {
	AccountKey  string          `json:"account_key"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// Position is a read-only view of a holding at the broker.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

// PortfolioSnapshot is what the decision engine sees of the account, and what the sync job persists.
type PortfolioSnapshot struct {
	AccountKey string          `json:"account_key"`
	Cash       decimal.Decimal `json:"cash"`
	TotalValue decimal.Decimal `json:"total_value"`
	Positions  []Position      `json:"positions"`
	TakenAt    time.Time       `json:"taken_at"`
}

// Holding returns the position for symbol, if any.
func (p PortfolioSnapshot) Holding(symbol string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return Position{}, false
}
