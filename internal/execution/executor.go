package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/market"
	"trading_assistant/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPreviewNotFound is returned when a preview id was never issued or was already consumed.
	ErrPreviewNotFound = errors.New("order preview not found")
	// ErrPreviewMismatch is returned when the placement does not match the previewed order.
	ErrPreviewMismatch = errors.New("order does not match preview")
	// ErrNoAccount is returned when the broker lists no usable account.
	ErrNoAccount = errors.New("no open brokerage account")
)

type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Result is the outcome of executing one decision.
type Result struct {
	DecisionID string
	Symbol     string
	Action     models.OrderAction
	Status     Status
	Quantity   decimal.Decimal
	OrderID    string
	Reason     string
	Err        error
}

// Store is the persistence the executor needs.
// ClaimExecution must be atomic: of any number of concurrent callers only one succeeds.
type Store interface {
	PendingExecution(ctx context.Context, minConfidence float64, limit int) ([]models.Decision, error)
	ClaimExecution(ctx context.Context, id string, at time.Time) error
	ReleaseExecution(ctx context.Context, id string) error
	MarkExecuted(ctx context.Context, id string, at time.Time) error
	AutoTrading(ctx context.Context, def bool) (bool, error)
}

// ThresholdSource yields the confidence gate in force.
type ThresholdSource interface {
	Threshold(ctx context.Context) (float64, error)
}

type Options struct {
	AutoTrading bool
	BatchSize   int
	Quantity    decimal.Decimal
}

// Executor runs the preview then place protocol against a broker.
type Executor struct {
	broker     market.Broker
	store      Store
	thresholds ThresholdSource
	locks      *KeyedLock
	opts       Options

	mu     sync.Mutex
	ledger map[string]models.OrderPreview

	newClientOrderID func() string
	now              func() time.Time
}

func New(broker market.Broker, store Store, thresholds ThresholdSource, opts Options) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if !opts.Quantity.IsPositive() {
		opts.Quantity = decimal.NewFromInt(1)
	}
	return &Executor{
		broker:           broker,
		store:            store,
		thresholds:       thresholds,
		locks:            NewKeyedLock(0),
		opts:             opts,
		ledger:           make(map[string]models.OrderPreview),
		newClientOrderID: clientOrderID,
		now:              time.Now,
	}
}

// clientOrderID is unique per preview. E*TRADE accepts at most 20 characters.
func clientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Preview runs the first phase and remembers the preview for a single placement.
func (e *Executor) Preview(ctx context.Context, accountKey string, req models.OrderRequest) (*models.OrderPreview, error) {
	p, err := e.broker.PreviewOrder(ctx, accountKey, req, e.newClientOrderID())
	if err != nil {
		return nil, err
	}
	p.AccountKey = accountKey
	p.Order = req

	e.mu.Lock()
	e.ledger[p.PreviewID] = *p
	e.mu.Unlock()
	return p, nil
}

// Place consumes a preview issued by Preview for the same account and order.
func (e *Executor) Place(ctx context.Context, accountKey, previewID string, req models.OrderRequest) (*models.OrderConfirmation, error) {
	e.mu.Lock()
	p, ok := e.ledger[previewID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPreviewNotFound, previewID)
	}
	if p.AccountKey != accountKey || !p.Order.Same(req) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPreviewMismatch, previewID)
	}
	delete(e.ledger, previewID)
	e.mu.Unlock()

	return e.broker.PlaceOrder(ctx, accountKey, p)
}

// ExecuteDecision claims the decision, looks up the position for sells, then previews and
// places a market order and records executed_at, all under the (account, symbol) lock.
// A decision another pass already claimed or executed is skipped.
func (e *Executor) ExecuteDecision(ctx context.Context, accountKey string, d models.Decision, quantity decimal.Decimal) Result {
	res := Result{DecisionID: d.ID, Symbol: d.Symbol, Action: models.OrderAction(d.Type), Quantity: quantity}
	if !d.Type.Actionable() {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("%s is not an order", d.Type)
		return res
	}

	unlock, err := e.locks.Lock(ctx, accountKey+"/"+d.Symbol)
	if err != nil {
		return failed(res, err)
	}
	defer unlock()

	if err := e.store.ClaimExecution(ctx, d.ID, e.now().UTC()); err != nil {
		if errors.Is(err, models.ErrAlreadyExecuted) || errors.Is(err, models.ErrExecutionClaimed) {
			res.Status = StatusSkipped
			res.Reason = err.Error()
			return res
		}
		return failed(res, err)
	}

	res, sent := e.submit(ctx, accountKey, d, res)
	switch {
	case res.Status == StatusExecuted:
		if err := e.store.MarkExecuted(ctx, d.ID, e.now().UTC()); err != nil {
			res.Err = err
		}
	case !sent:
		if err := e.store.ReleaseExecution(context.WithoutCancel(ctx), d.ID); err != nil {
			logger.WithField("decision_id", d.ID).WithError(err).Error("Execution claim could not be released")
		}
	}
	return res
}

// submit runs the order for a claimed decision. sent reports whether PlaceOrder reached the
// broker; a failed placement may still have been accepted, so its claim is kept.
func (e *Executor) submit(ctx context.Context, accountKey string, d models.Decision, res Result) (Result, bool) {
	if res.Action == models.ActionSell {
		held, err := e.held(ctx, accountKey, d.Symbol)
		if err != nil {
			return failed(res, err), false
		}
		if !held.IsPositive() {
			res.Status = StatusSkipped
			res.Reason = "no position to sell"
			res.Quantity = decimal.Zero
			return res, false
		}
		if held.LessThan(res.Quantity) {
			res.Quantity = held
		}
	}

	req := models.OrderRequest{
		Symbol:    d.Symbol,
		Action:    res.Action,
		Quantity:  res.Quantity,
		PriceType: models.PriceMarket,
		OrderTerm: models.TermGoodForDay,
	}
	preview, err := e.Preview(ctx, accountKey, req)
	if err != nil {
		return failed(res, err), false
	}
	conf, err := e.Place(ctx, accountKey, preview.PreviewID, req)
	if err != nil {
		sent := !errors.Is(err, ErrPreviewNotFound) && !errors.Is(err, ErrPreviewMismatch)
		return failed(res, err), sent
	}
	res.Status = StatusExecuted
	res.OrderID = conf.OrderID
	return res, true
}

func failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	return res
}

func (e *Executor) held(ctx context.Context, accountKey, symbol string) (decimal.Decimal, error) {
	positions, err := e.broker.Portfolio(ctx, accountKey)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.Quantity, nil
		}
	}
	return decimal.Zero, nil
}

// ExecuteBatch runs the decisions one after another. A failure never stops the batch,
// and executed_at is persisted for each success on its own.
func (e *Executor) ExecuteBatch(ctx context.Context, accountKey string, decisions []models.Decision) []Result {
	results := make([]Result, 0, len(decisions))
	for _, d := range decisions {
		if ctx.Err() != nil {
			break
		}
		res := e.ExecuteDecision(ctx, accountKey, d, e.opts.Quantity)
		entry := logger.WithFields(logrus.Fields{
			"decision_id": res.DecisionID,
			"symbol":      res.Symbol,
			"action":      res.Action,
			"quantity":    res.Quantity.String(),
		})

		switch res.Status {
		case StatusExecuted:
			if res.Err != nil {
				entry.WithError(res.Err).Error("Order placed but executed_at could not be recorded")
			} else {
				entry.WithField("order_id", res.OrderID).Info("Order executed")
			}
		case StatusSkipped:
			entry.WithField("reason", res.Reason).Info("Order skipped")
		case StatusFailed:
			entry.WithError(res.Err).Error("Order failed")
		}
		results = append(results, res)
	}
	return results
}

// ExecutePending places orders for the newest unexecuted BUY and SELL decisions that clear the threshold.
func (e *Executor) ExecutePending(ctx context.Context) ([]Result, error) {
	if !e.opts.AutoTrading {
		logger.Debugf("Auto-trading disabled by configuration")
		return nil, nil
	}
	enabled, err := e.store.AutoTrading(ctx, true)
	if err != nil {
		return nil, err
	}
	if !enabled {
		logger.Infof("Auto-trading paused, skipping execution")
		return nil, nil
	}

	accountKey, err := e.firstAccount(ctx)
	if err != nil {
		return nil, err
	}
	threshold, err := e.thresholds.Threshold(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := e.store.PendingExecution(ctx, threshold, e.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	logger.Infof("Executing %d pending decisions (threshold %.2f)", len(pending), threshold)
	return e.ExecuteBatch(ctx, accountKey, pending), nil
}

func (e *Executor) firstAccount(ctx context.Context) (string, error) {
	accounts, err := e.broker.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if !a.Closed() {
			return a.Key, nil
		}
	}
	return "", ErrNoAccount
}
