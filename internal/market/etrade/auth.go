package etrade

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"trading_assistant/internal/logger"

	"github.com/pkg/errors"
)

const authorizeURL = "https://us.etrade.com/e/t/etws/authorize"

// PendingAuth is the first leg of the out-of-band OAuth handshake.
// The user opens AuthorizeURL, logs in and copies the verifier code back.
type PendingAuth struct {
	RequestToken  string
	RequestSecret string
	AuthorizeURL  string
}

func (c *Client) StartAuth() (*PendingAuth, error) {
	token, secret, err := c.oauth.RequestToken()
	if err != nil {
		return nil, errors.Wrap(err, "etrade request token")
	}
	// E*TRADE uses key/token instead of the standard oauth_token parameter.
	u := fmt.Sprintf("%s?key=%s&token=%s", authorizeURL, url.QueryEscape(c.opts.ConsumerKey), url.QueryEscape(token))
	return &PendingAuth{RequestToken: token, RequestSecret: secret, AuthorizeURL: u}, nil
}

// CompleteAuth exchanges the verifier for an access token and persists it.
func (c *Client) CompleteAuth(pending *PendingAuth, verifier string) error {
	verifier = strings.TrimSpace(verifier)
	if pending == nil || verifier == "" {
		return errors.New("etrade auth: verifier is required")
	}
	token, secret, err := c.oauth.AccessToken(pending.RequestToken, pending.RequestSecret, verifier)
	if err != nil {
		return errors.Wrap(err, "etrade access token")
	}
	if c.sessions == nil {
		return errors.New("etrade auth: no session store configured")
	}
	if err := c.sessions.Save(Session{Token: token, Secret: secret, CreatedAt: time.Now().UTC()}); err != nil {
		return errors.Wrap(err, "save etrade session")
	}
	logger.Infof("E*TRADE session established")
	return nil
}

// Authenticated reports whether a live session is stored.
func (c *Client) Authenticated() bool {
	if c.sessions == nil {
		return false
	}
	_, ok, err := c.sessions.Load()
	return err == nil && ok
}
