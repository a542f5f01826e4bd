package etrade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/market"
	"trading_assistant/internal/models"

	"github.com/dghubble/oauth1"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	SandboxURL    = "https://apisb.etrade.com"
	ProductionURL = "https://api.etrade.com"

	defaultTimeout = 30 * time.Second
)

type Options struct {
	ConsumerKey    string
	ConsumerSecret string
	Sandbox        bool
	// BaseURL overrides the API host chosen by Sandbox.
	BaseURL string
	// AuthURL overrides the host of the OAuth token endpoints.
	AuthURL       string
	RatePerSecond float64
}

// Client talks to the E*TRADE v1 REST API with an OAuth 1.0a session held in a SessionStore.
type Client struct {
	opts     Options
	baseURL  string
	oauth    *oauth1.Config
	limiter  *rate.Limiter
	sessions *SessionStore

	mu      sync.Mutex
	http    *resty.Client
	httpFor string
}

var _ market.Broker = (*Client)(nil)

func NewClient(opts Options, sessions *SessionStore) *Client {
	base := opts.BaseURL
	if base == "" {
		base = ProductionURL
		if opts.Sandbox {
			base = SandboxURL
		}
	}
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = ProductionURL
	}
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		opts:    opts,
		baseURL: strings.TrimRight(base, "/"),
		oauth: &oauth1.Config{
			ConsumerKey:    opts.ConsumerKey,
			ConsumerSecret: opts.ConsumerSecret,
			CallbackURL:    "oob",
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: authURL + "/oauth/request_token",
				AuthorizeURL:    authorizeURL,
				AccessTokenURL:  authURL + "/oauth/access_token",
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		sessions: sessions,
	}
}

// request returns a signed request for the current session, waiting for the rate limiter.
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.sessions == nil {
		return nil, models.ErrAuthenticationRequired
	}
	sess, ok, err := c.sessions.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load etrade session")
	}
	if !ok {
		return nil, models.ErrAuthenticationRequired
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.http == nil || c.httpFor != sess.Token {
		hc := c.oauth.Client(context.Background(), oauth1.NewToken(sess.Token, sess.Secret))
		c.http = resty.NewWithClient(hc).
			SetBaseURL(c.baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json")
		c.httpFor = sess.Token
	}
	client := c.http
	c.mu.Unlock()

	return client.R().SetContext(ctx), nil
}

// do executes one call and decodes the JSON body into out. A 204 leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(models.ErrBrokerRequest, "etrade %s %s: %v", method, path, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNoContent:
		return nil
	case code == http.StatusUnauthorized:
		logger.WithField("path", path).Warn("E*TRADE rejected the session, clearing it")
		if err := c.sessions.Clear(); err != nil {
			logger.WithError(err).Warn("Failed to clear E*TRADE session")
		}
		return models.ErrAuthenticationRequired
	case code < 200 || code >= 300:
		return errors.Wrapf(models.ErrBrokerRequest, "etrade %s %s: status %d: %s", method, path, code, snippet(resp.Body()))
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(models.ErrBrokerRequest, "etrade %s %s: decode: %v", method, path, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// --- Accounts ---

func (c *Client) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var res accountListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/list.json", nil, &res); err != nil {
		return nil, err
	}
	var out []models.Account
	for _, a := range res.AccountListResponse.Accounts.Account {
		acct := models.Account{
			Key:    a.AccountIDKey,
			ID:     a.AccountID,
			Name:   firstNonEmpty(a.AccountName, a.AccountDesc),
			Status: strings.ToUpper(a.AccountStatus),
		}
		if acct.Closed() {
			continue
		}
		out = append(out, acct)
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context, accountKey string) (*models.Balance, error) {
	var res balanceResponse
	path := fmt.Sprintf("/v1/accounts/%s/balance.json?instType=BROKERAGE&realTimeNAV=true", accountKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	comp := res.BalanceResponse.Computed
	return &models.Balance{
		AccountKey:  accountKey,
		Cash:        comp.CashAvailableForInvestment,
		BuyingPower: comp.CashBuyingPower,
		TotalValue:  comp.RealTimeValues.TotalAccountValue,
	}, nil
}

func (c *Client) Portfolio(ctx context.Context, accountKey string) ([]models.Position, error) {
	var res portfolioResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/portfolio.json", accountKey), nil, &res); err != nil {
		return nil, err
	}
	var out []models.Position
	for _, ap := range res.PortfolioResponse.AccountPortfolio {
		for _, p := range ap.Position {
			out = append(out, models.Position{
				Symbol:        p.SymbolDescription,
				Quantity:      p.Quantity,
				MarketValue:   p.MarketValue,
				CostBasis:     p.TotalCost,
				AvgEntryPrice: p.PricePaid,
				CurrentPrice:  p.Quick.LastTrade,
				UnrealizedPL:  p.TotalGain,
			})
		}
	}
	return out, nil
}

// --- Orders ---

func orderFor(req models.OrderRequest) orderDetail {
	d := orderDetail{
		PriceType:     req.PriceType,
		OrderTerm:     req.OrderTerm,
		MarketSession: "REGULAR",
		Instrument: []instrument{{
			Product:      product{SecurityType: "EQ", Symbol: req.Symbol},
			OrderAction:  string(req.Action),
			QuantityType: "QUANTITY",
			Quantity:     req.Quantity,
		}},
	}
	if d.PriceType == "" {
		d.PriceType = models.PriceMarket
	}
	if d.OrderTerm == "" {
		d.OrderTerm = models.TermGoodForDay
	}
	if d.PriceType == models.PriceLimit {
		d.LimitPrice = req.LimitPrice
	}
	return d
}

func (c *Client) PreviewOrder(ctx context.Context, accountKey string, req models.OrderRequest, clientOrderID string) (*models.OrderPreview, error) {
	var body previewOrderRequest
	body.PreviewOrderRequest.OrderType = "EQ"
	body.PreviewOrderRequest.ClientOrderID = clientOrderID
	body.PreviewOrderRequest.Order = []orderDetail{orderFor(req)}

	var res previewOrderResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/orders/preview.json", accountKey), body, &res); err != nil {
		return nil, err
	}
	ids := res.PreviewOrderResponse.PreviewIDs
	if len(ids) == 0 {
		return nil, errors.Wrap(models.ErrBrokerRequest, "etrade preview: no preview id returned")
	}

	est := decimal.Zero
	if len(res.PreviewOrderResponse.Order) > 0 {
		est = res.PreviewOrderResponse.Order[0].EstimatedTotalAmount
	}
	return &models.OrderPreview{
		PreviewID:     strconv.FormatInt(ids[0].PreviewID, 10),
		ClientOrderID: clientOrderID,
		AccountKey:    accountKey,
		Order:         req,
		EstimatedCost: est,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, accountKey string, preview models.OrderPreview) (*models.OrderConfirmation, error) {
	pid, err := strconv.ParseInt(preview.PreviewID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(models.ErrBrokerRequest, "etrade place: preview id %q is not numeric", preview.PreviewID)
	}

	var body placeOrderRequest
	body.PlaceOrderRequest.OrderType = "EQ"
	body.PlaceOrderRequest.ClientOrderID = preview.ClientOrderID
	body.PlaceOrderRequest.PreviewIDs = []previewID{{PreviewID: pid}}
	body.PlaceOrderRequest.Order = []orderDetail{orderFor(preview.Order)}

	var res placeOrderResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/orders/place.json", accountKey), body, &res); err != nil {
		return nil, err
	}
	ids := res.PlaceOrderResponse.OrderIDs
	if len(ids) == 0 {
		return nil, errors.Wrap(models.ErrBrokerRequest, "etrade place: no order id returned")
	}
	placed := time.Now().UTC()
	if ms := res.PlaceOrderResponse.PlacedTime; ms > 0 {
		placed = time.UnixMilli(ms).UTC()
	}
	return &models.OrderConfirmation{
		OrderID:       strconv.FormatInt(ids[0].OrderID, 10),
		ClientOrderID: preview.ClientOrderID,
		Status:        "PLACED",
		PlacedAt:      placed,
	}, nil
}

func (c *Client) ListOrders(ctx context.Context, accountKey, status string) ([]models.Order, error) {
	if status == "" {
		status = "OPEN"
	}
	var res ordersResponse
	path := fmt.Sprintf("/v1/accounts/%s/orders.json?status=%s", accountKey, strings.ToUpper(status))
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}

	var out []models.Order
	for _, o := range res.OrdersResponse.Order {
		order := models.Order{ID: strconv.FormatInt(o.OrderID, 10)}
		if len(o.OrderDetail) > 0 {
			d := o.OrderDetail[0]
			order.Status = d.Status
			order.Type = d.PriceType
			if d.PlacedTime > 0 {
				order.CreatedAt = time.UnixMilli(d.PlacedTime).UTC()
			}
			if len(d.Instrument) > 0 {
				in := d.Instrument[0]
				order.Symbol = in.Product.Symbol
				order.Side = in.OrderAction
				order.Qty = in.OrderedQuantity
				order.FilledQty = in.FilledQuantity
				order.FilledAvgPrice = in.AverageExecutionPrice
			}
		}
		out = append(out, order)
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, accountKey, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Wrapf(models.ErrBrokerRequest, "etrade cancel: order id %q is not numeric", orderID)
	}
	var body cancelOrderRequest
	body.CancelOrderRequest.OrderID = id
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/accounts/%s/orders/cancel.json", accountKey), body, nil)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
