// Package yahoo serves quotes and daily history from Yahoo Finance and headlines from Google News.
// It needs no credentials.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading_assistant/internal/market"
	"trading_assistant/internal/models"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/pkg/errors"
)

type barIter interface {
	Next() bool
	Bar() *finance.ChartBar
	Err() error
}

type Provider struct {
	news *NewsClient

	getQuote func(symbol string) (*finance.Quote, error)
	getChart func(params *chart.Params) barIter
	now      func() time.Time
}

var _ market.DataProvider = (*Provider)(nil)

func NewProvider(news *NewsClient) *Provider {
	return &Provider{
		news:     news,
		getQuote: quote.Get,
		getChart: func(p *chart.Params) barIter { return chart.Get(p) },
		now:      time.Now,
	}
}

func (p *Provider) Quote(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q, err := p.getQuote(symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "yahoo quote %s", symbol)
	}
	if q == nil {
		return nil, fmt.Errorf("no quote found for %s", symbol)
	}

	ts := p.now().UTC()
	if q.RegularMarketTime > 0 {
		ts = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	snap := &models.MarketSnapshot{
		Symbol:        symbol,
		Price:         q.RegularMarketPrice,
		Change:        q.RegularMarketChange,
		ChangePercent: q.RegularMarketChangePercent,
		Volume:        int64(q.RegularMarketVolume),
		Open:          q.RegularMarketOpen,
		High:          q.RegularMarketDayHigh,
		Low:           q.RegularMarketDayLow,
		PreviousClose: q.RegularMarketPreviousClose,
		Timestamp:     ts,
	}
	snap.FillChange()
	return snap, nil
}

func (p *Provider) History(ctx context.Context, symbol, period, interval string) ([]models.Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	end := p.now()
	start := market.ParsePeriod(period, end)

	iv := datetime.OneDay
	if interval == "1h" {
		iv = datetime.OneHour
	}
	iter := p.getChart(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: iv,
	})

	var bars []models.Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, models.Bar{
			Time:   time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "yahoo chart %s", symbol)
	}
	return bars, nil
}

func (p *Provider) Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error) {
	if p.news == nil {
		return nil, nil
	}
	return p.news.Search(ctx, strings.ToUpper(symbol)+" stock", limit)
}
