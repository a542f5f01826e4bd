package execution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading_assistant/internal/models"
	"trading_assistant/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu        sync.Mutex
	accounts  []models.Account
	positions []models.Position
	failPlace map[string]bool
	slow      time.Duration

	previews  int
	places    int
	portfolio int
	placed    []models.OrderRequest
	seq       int
}

func (f *fakeBroker) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return f.accounts, nil
}

func (f *fakeBroker) Balance(ctx context.Context, key string) (*models.Balance, error) {
	return &models.Balance{AccountKey: key}, nil
}

func (f *fakeBroker) Portfolio(ctx context.Context, key string) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolio++
	return f.positions, nil
}

func (f *fakeBroker) PreviewOrder(ctx context.Context, key string, req models.OrderRequest, clientOrderID string) (*models.OrderPreview, error) {
	time.Sleep(f.slow)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews++
	f.seq++
	return &models.OrderPreview{PreviewID: fmt.Sprintf("p%d", f.seq), ClientOrderID: clientOrderID, AccountKey: key, Order: req}, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, key string, p models.OrderPreview) (*models.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places++
	if f.failPlace[p.Order.Symbol] {
		return nil, fmt.Errorf("%w: rejected", models.ErrBrokerRequest)
	}
	f.placed = append(f.placed, p.Order)
	return &models.OrderConfirmation{OrderID: "o-" + p.PreviewID, ClientOrderID: p.ClientOrderID}, nil
}

func (f *fakeBroker) ListOrders(ctx context.Context, key, status string) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, key, id string) error { return nil }

type fakeStore struct {
	mu       sync.Mutex
	pending  []models.Decision
	claimed  map[string]bool
	executed map[string]time.Time
	paused   bool
	minConf  float64
	limit    int
}

func (s *fakeStore) PendingExecution(ctx context.Context, minConfidence float64, limit int) ([]models.Decision, error) {
	s.minConf, s.limit = minConfidence, limit
	return s.pending, nil
}

func (s *fakeStore) ClaimExecution(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executed[id]; ok {
		return models.ErrAlreadyExecuted
	}
	if s.claimed[id] {
		return models.ErrExecutionClaimed
	}
	if s.claimed == nil {
		s.claimed = make(map[string]bool)
	}
	s.claimed[id] = true
	return nil
}

func (s *fakeStore) ReleaseExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	return nil
}

func (s *fakeStore) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executed == nil {
		s.executed = make(map[string]time.Time)
	}
	if _, ok := s.executed[id]; ok {
		return models.ErrAlreadyExecuted
	}
	s.executed[id] = at
	return nil
}

func (s *fakeStore) AutoTrading(ctx context.Context, def bool) (bool, error) { return !s.paused, nil }

type fixedThreshold float64

func (f fixedThreshold) Threshold(ctx context.Context) (float64, error) { return float64(f), nil }

func newExecutor(b *fakeBroker, s *fakeStore) *Executor {
	return New(b, s, fixedThreshold(0.7), Options{AutoTrading: true})
}

func buy(symbol string) models.OrderRequest {
	return models.OrderRequest{Symbol: symbol, Action: models.ActionBuy, Quantity: decimal.NewFromInt(1), PriceType: models.PriceMarket, OrderTerm: models.TermGoodForDay}
}

func TestPreviewIDsAreSingleUse(t *testing.T) {
	b := &fakeBroker{}
	e := newExecutor(b, &fakeStore{})
	ctx := context.Background()

	p, err := e.Preview(ctx, "acct", buy("AAPL"))
	require.NoError(t, err)

	_, err = e.Place(ctx, "acct", p.PreviewID, buy("AAPL"))
	require.NoError(t, err)
	_, err = e.Place(ctx, "acct", p.PreviewID, buy("AAPL"))
	assert.ErrorIs(t, err, ErrPreviewNotFound)
	assert.Equal(t, 1, b.places)
}

func TestPlace_ConcurrentDoubleSpend(t *testing.T) {
	b := &fakeBroker{}
	e := newExecutor(b, &fakeStore{})
	ctx := context.Background()
	p, err := e.Preview(ctx, "acct", buy("AAPL"))
	require.NoError(t, err)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Place(ctx, "acct", p.PreviewID, buy("AAPL")); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, 1, b.places)
}

func TestPlace_Mismatch(t *testing.T) {
	b := &fakeBroker{}
	e := newExecutor(b, &fakeStore{})
	ctx := context.Background()
	p, err := e.Preview(ctx, "acct", buy("AAPL"))
	require.NoError(t, err)

	other := buy("AAPL")
	other.Quantity = decimal.NewFromInt(2)
	_, err = e.Place(ctx, "acct", p.PreviewID, other)
	assert.ErrorIs(t, err, ErrPreviewMismatch)
	_, err = e.Place(ctx, "other-acct", p.PreviewID, buy("AAPL"))
	assert.ErrorIs(t, err, ErrPreviewMismatch)
	assert.Equal(t, 0, b.places)

	_, err = e.Place(ctx, "acct", p.PreviewID, buy("AAPL"))
	assert.NoError(t, err)
}

func TestPreview_FreshClientOrderIDs(t *testing.T) {
	b := &fakeBroker{}
	e := newExecutor(b, &fakeStore{})
	ctx := context.Background()
	p1, err := e.Preview(ctx, "acct", buy("AAPL"))
	require.NoError(t, err)
	p2, err := e.Preview(ctx, "acct", buy("AAPL"))
	require.NoError(t, err)
	assert.NotEqual(t, p1.ClientOrderID, p2.ClientOrderID)
	assert.Len(t, p1.ClientOrderID, 20)
}

func TestSell_ClampsToHeld(t *testing.T) {
	b := &fakeBroker{positions: []models.Position{{Symbol: "AAPL", Quantity: decimal.NewFromInt(3)}}}
	e := newExecutor(b, &fakeStore{})

	d := models.Decision{ID: "d1", Symbol: "AAPL", Type: models.DecisionSell}
	res := e.ExecuteDecision(context.Background(), "acct", d, decimal.NewFromInt(10))
	require.Equal(t, StatusExecuted, res.Status, res.Err)
	assert.True(t, res.Quantity.Equal(decimal.NewFromInt(3)))
	require.Len(t, b.placed, 1)
	assert.True(t, b.placed[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, models.ActionSell, b.placed[0].Action)
}

func TestSell_NothingHeldSkips(t *testing.T) {
	b := &fakeBroker{positions: []models.Position{{Symbol: "AAPL", Quantity: decimal.Zero}}}
	s := &fakeStore{}
	e := newExecutor(b, s)

	d := models.Decision{ID: "d1", Symbol: "AAPL", Type: models.DecisionSell}
	res := e.ExecuteDecision(context.Background(), "acct", d, decimal.NewFromInt(1))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 0, b.previews)
	assert.Equal(t, 0, b.places)

	res = e.ExecuteDecision(context.Background(), "acct", models.Decision{ID: "d2", Symbol: "MSFT", Type: models.DecisionSell}, decimal.NewFromInt(1))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 0, b.previews)
	assert.Empty(t, s.claimed, "a sell that never reached the broker stays pending")
}

func TestHoldIsSkipped(t *testing.T) {
	b := &fakeBroker{}
	e := newExecutor(b, &fakeStore{})
	res := e.ExecuteDecision(context.Background(), "acct", models.Decision{ID: "d", Symbol: "AAPL", Type: models.DecisionHold}, decimal.NewFromInt(1))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 0, b.previews)
}

func TestExecuteBatch_IsolatesFailures(t *testing.T) {
	b := &fakeBroker{failPlace: map[string]bool{"S3": true}}
	s := &fakeStore{}
	e := newExecutor(b, s)

	var ds []models.Decision
	for i := 1; i <= 5; i++ {
		ds = append(ds, models.Decision{ID: fmt.Sprintf("d%d", i), Symbol: fmt.Sprintf("S%d", i), Type: models.DecisionBuy})
	}
	results := e.ExecuteBatch(context.Background(), "acct", ds)

	require.Len(t, results, 5)
	assert.Equal(t, 5, b.places, "every item is attempted")
	for i, r := range results {
		if i == 2 {
			assert.Equal(t, StatusFailed, r.Status)
			assert.True(t, errors.Is(r.Err, models.ErrBrokerRequest))
			continue
		}
		assert.Equal(t, StatusExecuted, r.Status, r.DecisionID)
	}
	assert.Len(t, s.executed, 4)
	assert.NotContains(t, s.executed, "d3")
	assert.True(t, s.claimed["d3"], "a rejected placement keeps its claim")
}

func TestExecuteDecision_SkipsClaimedAndExecuted(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{claimed: map[string]bool{"busy": true}, executed: map[string]time.Time{"done": time.Now()}}
	e := newExecutor(b, s)

	for _, id := range []string{"busy", "done"} {
		res := e.ExecuteDecision(context.Background(), "acct", models.Decision{ID: id, Symbol: "AAPL", Type: models.DecisionBuy}, decimal.NewFromInt(1))
		assert.Equal(t, StatusSkipped, res.Status, id)
	}
	assert.Equal(t, 0, b.previews)
	assert.Equal(t, 0, b.places)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExecutePending_ConcurrentPassesPlaceOnce(t *testing.T) {
	cases := map[string]bool{"shared executor": true, "separate executors": false}
	for name, shared := range cases {
		t.Run(name, func(t *testing.T) {
			store := openStore(t)
			ctx := context.Background()
			require.NoError(t, store.CreateDecision(ctx, &models.Decision{
				ID: "d1", Symbol: "AAPL", Type: models.DecisionBuy, Confidence: 0.9,
				Rationale: "r", Source: "ai", CreatedAt: time.Now().UTC().Add(-time.Minute),
			}))

			b := &fakeBroker{accounts: []models.Account{{Key: "live", Status: "ACTIVE"}}, slow: 50 * time.Millisecond}
			first := New(b, store, fixedThreshold(0.7), Options{AutoTrading: true})
			second := first
			if !shared {
				second = New(b, store, fixedThreshold(0.7), Options{AutoTrading: true})
			}

			var wg sync.WaitGroup
			for _, e := range []*Executor{first, second} {
				wg.Add(1)
				go func(e *Executor) {
					defer wg.Done()
					_, err := e.ExecutePending(ctx)
					assert.NoError(t, err)
				}(e)
			}
			wg.Wait()

			assert.Equal(t, 1, b.places)
			got, err := store.GetDecision(ctx, "d1")
			require.NoError(t, err)
			assert.NotNil(t, got.ExecutedAt)
			pending, err := store.PendingExecution(ctx, 0.7, 5)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestExecutePending_UnheldSellStaysPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDecision(ctx, &models.Decision{
		ID: "s1", Symbol: "AAPL", Type: models.DecisionSell, Confidence: 0.9,
		Rationale: "r", Source: "ai", CreatedAt: time.Now().UTC().Add(-time.Minute),
	}))
	b := &fakeBroker{accounts: []models.Account{{Key: "live", Status: "ACTIVE"}}}
	e := New(b, store, fixedThreshold(0.7), Options{AutoTrading: true})

	results, err := e.ExecutePending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusSkipped, results[0].Status)

	b.positions = []models.Position{{Symbol: "AAPL", Quantity: decimal.NewFromInt(2)}}
	results, err = e.ExecutePending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusExecuted, results[0].Status)
	assert.Equal(t, 1, b.places)
}

func TestExecutePending(t *testing.T) {
	b := &fakeBroker{accounts: []models.Account{
		{Key: "closed", Status: "CLOSED"},
		{Key: "live", Status: "ACTIVE"},
	}}
	s := &fakeStore{pending: []models.Decision{{ID: "d1", Symbol: "AAPL", Type: models.DecisionBuy, Confidence: 0.8}}}
	e := newExecutor(b, s)

	results, err := e.ExecutePending(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusExecuted, results[0].Status)
	assert.InDelta(t, 0.7, s.minConf, 1e-9)
	assert.Equal(t, 5, s.limit)
	assert.True(t, b.placed[0].Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, models.PriceMarket, b.placed[0].PriceType)
	assert.Equal(t, models.TermGoodForDay, b.placed[0].OrderTerm)
}

func TestExecutePending_Disabled(t *testing.T) {
	b := &fakeBroker{accounts: []models.Account{{Key: "live"}}}
	s := &fakeStore{pending: []models.Decision{{ID: "d1", Symbol: "AAPL", Type: models.DecisionBuy}}}

	e := New(b, s, fixedThreshold(0.7), Options{AutoTrading: false})
	results, err := e.ExecutePending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	s.paused = true
	e = newExecutor(b, s)
	results, err = e.ExecutePending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, b.previews)
}

func TestExecutePending_NoAccount(t *testing.T) {
	b := &fakeBroker{accounts: []models.Account{{Key: "closed", Status: "CLOSED"}}}
	e := newExecutor(b, &fakeStore{})
	_, err := e.ExecutePending(context.Background())
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	l := NewKeyedLock(4)
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "acct/AAPL")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
}

func TestKeyedLock_DifferentKeysAndCancel(t *testing.T) {
	l := NewKeyedLock(1)
	ctx := context.Background()

	a, err := l.Lock(ctx, "acct/AAPL")
	require.NoError(t, err)
	b, err := l.Lock(ctx, "acct/MSFT")
	require.NoError(t, err, "different symbols do not block each other")

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(cctx, "acct/AAPL")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a()
	b()
	assert.Empty(t, l.shards[0].m)
}

func TestKeyedLock_CancelledContextOnFreeKey(t *testing.T) {
	l := NewKeyedLock(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		unlock, err := l.Lock(ctx, "acct/AAPL")
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, unlock)
	}
	assert.Empty(t, l.shards[0].m)
}
