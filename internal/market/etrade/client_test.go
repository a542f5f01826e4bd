package etrade

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trading_assistant/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

type fakeETrade struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]func(w http.ResponseWriter)
}

func (f *fakeETrade) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recorded{method: r.Method, path: r.URL.Path, body: string(b)})
	h, ok := f.handlers[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if !r.URL.Query().Has("oauth_token") && !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w)
}

func jsonReply(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func newTestClient(t *testing.T, handlers map[string]func(w http.ResponseWriter), authed bool) (*Client, *fakeETrade, *SessionStore) {
	t.Helper()
	fake := &fakeETrade{handlers: handlers}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := OpenSessionStore(SessionOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	if authed {
		require.NoError(t, store.Save(Session{Token: "tok", Secret: "sec"}))
	}

	c := NewClient(Options{ConsumerKey: "ck", ConsumerSecret: "cs", BaseURL: srv.URL, RatePerSecond: 1000}, store)
	return c, fake, store
}

func TestClient_NoSession(t *testing.T) {
	c, fake, _ := newTestClient(t, nil, false)
	ctx := context.Background()

	_, err := c.ListAccounts(ctx)
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
	_, err = c.PreviewOrder(ctx, "k", models.OrderRequest{Symbol: "AAPL"}, "1")
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
	assert.Empty(t, fake.calls, "no request may leave without a session")
	assert.False(t, c.Authenticated())
}

func TestClient_ListAccounts_FiltersClosed(t *testing.T) {
	c, _, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"GET /v1/accounts/list.json": jsonReply(`{"AccountListResponse":{"Accounts":{"Account":[
			{"accountId":"1","accountIdKey":"k1","accountName":"Brokerage","accountStatus":"ACTIVE"},
			{"accountId":"2","accountIdKey":"k2","accountDesc":"Old IRA","accountStatus":"CLOSED"}]}}}`),
	}, true)

	accts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, "k1", accts[0].Key)
	assert.Equal(t, "Brokerage", accts[0].Name)
}

func TestClient_NoContentIsEmpty(t *testing.T) {
	c, _, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"GET /v1/accounts/list.json":         status(http.StatusNoContent),
		"GET /v1/accounts/k1/portfolio.json": status(http.StatusNoContent),
		"GET /v1/accounts/k1/orders.json":    status(http.StatusNoContent),
	}, true)
	ctx := context.Background()

	accts, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accts)
	pos, err := c.Portfolio(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, pos)
	orders, err := c.ListOrders(ctx, "k1", "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestClient_BalanceAndPortfolio(t *testing.T) {
	c, _, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"GET /v1/accounts/k1/balance.json": jsonReply(`{"BalanceResponse":{"accountId":"1","Computed":{
			"cashAvailableForInvestment":1500.25,"cashBuyingPower":3000,"RealTimeValues":{"totalAccountValue":10250.5}}}}`),
		"GET /v1/accounts/k1/portfolio.json": jsonReply(`{"PortfolioResponse":{"AccountPortfolio":[{"Position":[
			{"symbolDescription":"AAPL","quantity":3,"marketValue":570,"totalCost":450,"pricePaid":150,"totalGain":120,"Quick":{"lastTrade":190}}]}]}}`),
	}, true)
	ctx := context.Background()

	bal, err := c.Balance(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, bal.Cash.Equal(decimal.RequireFromString("1500.25")))
	assert.True(t, bal.TotalValue.Equal(decimal.RequireFromString("10250.5")))

	pos, err := c.Portfolio(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "AAPL", pos[0].Symbol)
	assert.True(t, pos[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, pos[0].CurrentPrice.Equal(decimal.NewFromInt(190)))
}

func TestClient_PreviewThenPlace(t *testing.T) {
	c, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"POST /v1/accounts/k1/orders/preview.json": jsonReply(`{"PreviewOrderResponse":{"PreviewIds":[{"previewId":987654}],"Order":[{"estimatedTotalAmount":190.12}]}}`),
		"POST /v1/accounts/k1/orders/place.json":   jsonReply(`{"PlaceOrderResponse":{"OrderIds":[{"orderId":42}],"placedTime":1700000000000}}`),
	}, true)
	ctx := context.Background()

	req := models.OrderRequest{Symbol: "AAPL", Action: models.ActionBuy, Quantity: decimal.NewFromInt(1), PriceType: models.PriceMarket, OrderTerm: models.TermGoodForDay}
	preview, err := c.PreviewOrder(ctx, "k1", req, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, "987654", preview.PreviewID)
	assert.True(t, preview.EstimatedCost.Equal(decimal.RequireFromString("190.12")))

	conf, err := c.PlaceOrder(ctx, "k1", *preview)
	require.NoError(t, err)
	assert.Equal(t, "42", conf.OrderID)
	assert.Equal(t, "1234567890", conf.ClientOrderID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), conf.PlacedAt)

	require.Len(t, fake.calls, 2)
	var placed placeOrderRequest
	require.NoError(t, json.Unmarshal([]byte(fake.calls[1].body), &placed))
	assert.Equal(t, int64(987654), placed.PlaceOrderRequest.PreviewIDs[0].PreviewID)
	assert.Equal(t, "1234567890", placed.PlaceOrderRequest.ClientOrderID)
	assert.Equal(t, "AAPL", placed.PlaceOrderRequest.Order[0].Instrument[0].Product.Symbol)
	assert.Equal(t, "BUY", placed.PlaceOrderRequest.Order[0].Instrument[0].OrderAction)
}

func TestClient_UnauthorizedClearsSession(t *testing.T) {
	c, _, store := newTestClient(t, map[string]func(http.ResponseWriter){
		"GET /v1/accounts/list.json": status(http.StatusUnauthorized),
	}, true)

	_, err := c.ListAccounts(context.Background())
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_BrokerError(t *testing.T) {
	c, _, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"PUT /v1/accounts/k1/orders/cancel.json": status(http.StatusBadRequest),
	}, true)

	err := c.CancelOrder(context.Background(), "k1", "42")
	assert.ErrorIs(t, err, models.ErrBrokerRequest)

	err = c.CancelOrder(context.Background(), "k1", "not-a-number")
	assert.ErrorIs(t, err, models.ErrBrokerRequest)
}

func TestClient_ListOrders(t *testing.T) {
	c, _, _ := newTestClient(t, map[string]func(http.ResponseWriter){
		"GET /v1/accounts/k1/orders.json": jsonReply(`{"OrdersResponse":{"Order":[{"orderId":7,"OrderDetail":[{"status":"OPEN","placedTime":1700000000000,"priceType":"LIMIT",
			"Instrument":[{"Product":{"symbol":"MSFT"},"orderAction":"SELL","orderedQuantity":2,"filledQuantity":0,"averageExecutionPrice":0}]}]}]}}`),
	}, true)

	orders, err := c.ListOrders(context.Background(), "k1", "open")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "7", orders[0].ID)
	assert.Equal(t, "MSFT", orders[0].Symbol)
	assert.Equal(t, "SELL", orders[0].Side)
	assert.True(t, orders[0].Qty.Equal(decimal.NewFromInt(2)))
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store, err := OpenSessionStore(SessionOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(Session{Token: "a", Secret: "b"}))
	sess, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", sess.Token)
	assert.False(t, sess.CreatedAt.IsZero())

	require.NoError(t, store.Clear())
	_, ok, err = store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntilExpiry(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	now := time.Date(2024, 3, 4, 22, 30, 0, 0, loc)
	assert.Equal(t, 90*time.Minute, untilExpiry(now))
}
