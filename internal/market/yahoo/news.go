package yahoo

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"trading_assistant/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	GoogleNewsURL = "https://news.google.com"
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

type rss struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      string `xml:"source"`
}

// NewsClient reads the Google News RSS search feed.
type NewsClient struct {
	client *resty.Client
}

func NewNewsClient(baseURL string) *NewsClient {
	if baseURL == "" {
		baseURL = GoogleNewsURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetHeader("User-Agent", userAgent)
	return &NewsClient{client: c}
}

// Search returns at most limit headlines for query, newest first as the feed orders them.
func (n *NewsClient) Search(ctx context.Context, query string, limit int) ([]models.Headline, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("news query is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":    query,
			"hl":   "en-US",
			"gl":   "US",
			"ceid": "US:en",
		}).
		Get("/rss/search")
	if err != nil {
		return nil, errors.Wrap(err, "fetch google news")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("google news: HTTP %d", resp.StatusCode())
	}

	var feed rss
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, errors.Wrap(err, "parse google news feed")
	}

	out := make([]models.Headline, 0, limit)
	for _, it := range feed.Channel.Items {
		if len(out) == limit {
			break
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		h := models.Headline{
			Title:   title,
			Summary: plainText(it.Description),
			Source:  strings.TrimSpace(it.Source),
		}
		if t, err := time.Parse(time.RFC1123, it.PubDate); err == nil {
			h.PublishedAt = t.UTC()
		} else if t, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
			h.PublishedAt = t.UTC()
		}
		out = append(out, h)
	}
	return out, nil
}

// plainText strips the HTML the feed embeds in descriptions.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
