package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.telegram.org"

type Options struct {
	Token   string
	ChatID  string
	BaseURL string
}

// Bot is a Telegram bot bound to a single authorised chat.
type Bot struct {
	client *resty.Client
	chatID int64
}

// New returns nil when credentials are missing; a nil *Bot is a valid no-op.
func New(opts Options) (*Bot, error) {
	if opts.Token == "" || opts.ChatID == "" {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(opts.ChatID), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid TELEGRAM_CHAT_ID %q", opts.ChatID)
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", strings.TrimRight(base, "/"), opts.Token)).
		SetTimeout(75 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Bot{client: c, chatID: chatID}, nil
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call posts a Bot API method and decodes its result into out when non-nil.
func (b *Bot) call(ctx context.Context, method string, payload, out interface{}) error {
	var res apiResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&res).
		SetError(&res).
		Post("/" + method)
	if err != nil {
		return errors.Wrapf(err, "telegram %s", method)
	}
	if !res.Ok {
		return errors.Errorf("telegram %s: %s (code %d, HTTP %d)", method, res.Description, res.ErrorCode, resp.StatusCode())
	}
	if out != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, out); err != nil {
			return errors.Wrapf(err, "telegram %s: decode result", method)
		}
	}
	return nil
}
