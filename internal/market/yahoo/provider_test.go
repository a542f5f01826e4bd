package yahoo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIter struct {
	bars []*finance.ChartBar
	i    int
	err  error
}

func (f *fakeIter) Next() bool {
	if f.i >= len(f.bars) {
		return false
	}
	f.i++
	return true
}

func (f *fakeIter) Bar() *finance.ChartBar { return f.bars[f.i-1] }
func (f *fakeIter) Err() error             { return f.err }

func TestQuote_FillsChangeFromPreviousClose(t *testing.T) {
	p := NewProvider(nil)
	p.getQuote = func(symbol string) (*finance.Quote, error) {
		assert.Equal(t, "AAPL", symbol)
		return &finance.Quote{
			RegularMarketPrice:         110,
			RegularMarketPreviousClose: 100,
			RegularMarketVolume:        1234,
			RegularMarketTime:          1700000000,
		}, nil
	}

	snap, err := p.Quote(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.InDelta(t, 10.0, snap.Change, 1e-9)
	assert.InDelta(t, 10.0, snap.ChangePercent, 1e-9)
	assert.Equal(t, int64(1234), snap.Volume)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), snap.Timestamp)
}

func TestQuote_Error(t *testing.T) {
	p := NewProvider(nil)
	p.getQuote = func(string) (*finance.Quote, error) { return nil, errors.New("boom") }
	_, err := p.Quote(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	p := NewProvider(nil)
	var got *chart.Params
	p.getChart = func(params *chart.Params) barIter {
		got = params
		return &fakeIter{bars: []*finance.ChartBar{
			{Open: decimal.NewFromInt(1), High: decimal.NewFromInt(2), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(2), Volume: 10, Timestamp: 1700000000},
			{Open: decimal.NewFromInt(2), High: decimal.NewFromInt(3), Low: decimal.NewFromInt(2), Close: decimal.NewFromInt(3), Volume: 20, Timestamp: 1700086400},
		}}
	}

	bars, err := p.History(context.Background(), "msft", "5d", "1d")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "MSFT", got.Symbol)
	assert.True(t, bars[1].Close.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, int64(20), bars[1].Volume)

	p.getChart = func(*chart.Params) barIter { return &fakeIter{err: errors.New("rate limited")} }
	_, err = p.History(context.Background(), "msft", "5d", "1d")
	assert.Error(t, err)
}

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>AAPL stock</title>
<item><title>Apple shares rise on strong growth</title><link>https://example.com/1</link>
<description>&lt;a href="https://example.com/1"&gt;Apple shares rise&lt;/a&gt;&amp;nbsp;&lt;font&gt;Reuters&lt;/font&gt;</description>
<pubDate>Mon, 04 Mar 2024 14:00:00 GMT</pubDate><source url="https://reuters.com">Reuters</source></item>
<item><title>Apple faces decline in China</title><link>https://example.com/2</link>
<description>plain</description><pubDate>Mon, 04 Mar 2024 12:00:00 GMT</pubDate><source>Bloomberg</source></item>
<item><title>Third</title><link>https://example.com/3</link></item>
</channel></rss>`

func TestNewsClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rss/search", r.URL.Path)
		assert.Equal(t, "AAPL stock", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, feed)
	}))
	defer srv.Close()

	p := NewProvider(NewNewsClient(srv.URL))
	hs, err := p.Headlines(context.Background(), "aapl", 2)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "Apple shares rise on strong growth", hs[0].Title)
	assert.Equal(t, "Reuters", hs[0].Source)
	assert.NotContains(t, hs[0].Summary, "<a")
	assert.Contains(t, hs[0].Summary, "Apple shares rise")
	assert.Equal(t, time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC), hs[0].PublishedAt)
	assert.Equal(t, "plain", hs[1].Summary)
}

func TestNewsClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewNewsClient(srv.URL).Search(context.Background(), "AAPL stock", 5)
	assert.Error(t, err)
}
