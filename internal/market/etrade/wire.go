package etrade

import "github.com/shopspring/decimal"

// JSON shapes of the E*TRADE v1 accounts and orders API.

type accountListResponse struct {
	AccountListResponse struct {
		Accounts struct {
			Account []struct {
				AccountID     string `json:"accountId"`
				AccountIDKey  string `json:"accountIdKey"`
				AccountName   string `json:"accountName"`
				AccountDesc   string `json:"accountDesc"`
				AccountStatus string `json:"accountStatus"`
			} `json:"Account"`
		} `json:"Accounts"`
	} `json:"AccountListResponse"`
}

type balanceResponse struct {
	BalanceResponse struct {
		AccountID string `json:"accountId"`
		Computed  struct {
			CashAvailableForInvestment decimal.Decimal `json:"cashAvailableForInvestment"`
			CashBuyingPower            decimal.Decimal `json:"cashBuyingPower"`
			RealTimeValues             struct {
				TotalAccountValue decimal.Decimal `json:"totalAccountValue"`
			} `json:"RealTimeValues"`
		} `json:"Computed"`
	} `json:"BalanceResponse"`
}

type portfolioResponse struct {
	PortfolioResponse struct {
		AccountPortfolio []struct {
			Position []struct {
				SymbolDescription string          `json:"symbolDescription"`
				Quantity          decimal.Decimal `json:"quantity"`
				MarketValue       decimal.Decimal `json:"marketValue"`
				TotalCost         decimal.Decimal `json:"totalCost"`
				PricePaid         decimal.Decimal `json:"pricePaid"`
				TotalGain         decimal.Decimal `json:"totalGain"`
				Quick             struct {
					LastTrade decimal.Decimal `json:"lastTrade"`
				} `json:"Quick"`
			} `json:"Position"`
		} `json:"AccountPortfolio"`
	} `json:"PortfolioResponse"`
}

type product struct {
	SecurityType string `json:"securityType"`
	Symbol       string `json:"symbol"`
}

type instrument struct {
	Product      product         `json:"Product"`
	OrderAction  string          `json:"orderAction"`
	QuantityType string          `json:"quantityType"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type orderDetail struct {
	AllOrNone     bool             `json:"allOrNone"`
	PriceType     string           `json:"priceType"`
	OrderTerm     string           `json:"orderTerm"`
	MarketSession string           `json:"marketSession"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	Instrument    []instrument     `json:"Instrument"`
}

type previewID struct {
	PreviewID int64 `json:"previewId"`
}

type previewOrderRequest struct {
	PreviewOrderRequest struct {
		OrderType     string        `json:"orderType"`
		ClientOrderID string        `json:"clientOrderId"`
		Order         []orderDetail `json:"Order"`
	} `json:"PreviewOrderRequest"`
}

type previewOrderResponse struct {
	PreviewOrderResponse struct {
		PreviewIDs []previewID `json:"PreviewIds"`
		Order      []struct {
			EstimatedTotalAmount decimal.Decimal `json:"estimatedTotalAmount"`
		} `json:"Order"`
	} `json:"PreviewOrderResponse"`
}

type placeOrderRequest struct {
	PlaceOrderRequest struct {
		OrderType     string        `json:"orderType"`
		ClientOrderID string        `json:"clientOrderId"`
		PreviewIDs    []previewID   `json:"PreviewIds"`
		Order         []orderDetail `json:"Order"`
	} `json:"PlaceOrderRequest"`
}

type placeOrderResponse struct {
	PlaceOrderResponse struct {
		OrderIDs []struct {
			OrderID int64 `json:"orderId"`
		} `json:"OrderIds"`
		PlacedTime int64 `json:"placedTime"`
	} `json:"PlaceOrderResponse"`
}

type ordersResponse struct {
	OrdersResponse struct {
		Order []struct {
			OrderID     int64 `json:"orderId"`
			OrderDetail []struct {
				Status     string `json:"status"`
				PlacedTime int64  `json:"placedTime"`
				PriceType  string `json:"priceType"`
				Instrument []struct {
					Product               product         `json:"Product"`
					OrderAction           string          `json:"orderAction"`
					OrderedQuantity       decimal.Decimal `json:"orderedQuantity"`
					FilledQuantity        decimal.Decimal `json:"filledQuantity"`
					AverageExecutionPrice decimal.Decimal `json:"averageExecutionPrice"`
				} `json:"Instrument"`
			} `json:"OrderDetail"`
		} `json:"Order"`
	} `json:"OrdersResponse"`
}

type cancelOrderRequest struct {
	CancelOrderRequest struct {
		OrderID int64 `json:"orderId"`
	} `json:"CancelOrderRequest"`
}
