package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/veltaid/authkit/pkg/storage"
)

// Client is the entry point of the SDK. It drives the login flows, owns the
// token lifecycle through its TokenManager, and publishes auth-state
// transitions on its EventBus.
//
// A Client is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  *TokenManager
	bus     *EventBus
	limiter *rate.Limiter
}

// New builds a Client, applies configuration defaults, and settles any
// session left over from a previous run: a still-valid stored token is
// rescheduled for proactive refresh, an expired-but-refreshable one is
// refreshed, a dead one is cleared with a SESSION_EXPIRED event.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		bus:  NewEventBus(cfg.Logger),
		// The token endpoint is the only one the SDK can hammer on its
		// own (refresh timers); keep it polite.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	c.tokens = newTokenManager(cfg.Storage, c.bus, c, cfg.Logger, !cfg.DisableAutoRefresh, cfg.ClockSkew)
	c.tokens.Initialize(ctx)

	return c, nil
}

// Close cancels the proactive refresh timer and drops all event listeners.
// Stored tokens are untouched; the session survives.
func (c *Client) Close() {
	c.tokens.Destroy()
	c.bus.Clear()
}

// OnSessionChange subscribes fn to auth-state transitions and returns an
// idempotent unsubscribe function.
func (c *Client) OnSessionChange(fn Listener) func() {
	return c.bus.Subscribe(fn)
}

// IsAuthenticated reports whether a valid, unexpired session is stored.
func (c *Client) IsAuthenticated() bool {
	return c.tokens.IsAuthenticated()
}

// GetSession returns the current session, or nil when logged out.
func (c *Client) GetSession() *Session {
	return c.tokens.BuildSession()
}

// GetAccessToken returns a valid access token, transparently refreshing an
// expired one. Concurrent callers share a single refresh request.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	return c.tokens.AccessToken(ctx)
}

// RefreshTokens forces a refresh regardless of the current token's validity
// and returns the resulting session.
func (c *Client) RefreshTokens(ctx context.Context) (*Session, error) {
	if _, err := c.tokens.RefreshNow(ctx); err != nil {
		return nil, err
	}
	return c.tokens.BuildSession(), nil
}

func (c *Client) endpoint(path string) string {
	return c.cfg.Domain + path
}

// refreshTokens implements the refresher interface for the TokenManager.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	return c.requestToken(ctx, form)
}

// exchangeCode trades an authorization code plus its PKCE verifier for
// tokens.
func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.cfg.ClientID},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURI},
		"code_verifier": {verifier},
	}
	return c.requestToken(ctx, form)
}

// requestToken posts a form to the token endpoint and decodes the response.
func (c *Client) requestToken(ctx context.Context, form url.Values) (*TokenSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, networkError("token request", err)
	}

	resp, body, err := c.postForm(ctx, "/oauth2/token", form)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &Error{
			Kind:        KindToken,
			Code:        "invalid_token_response",
			Description: "token endpoint returned an unparseable body",
			StatusCode:  resp.StatusCode,
			cause:       err,
		}
	}
	if tr.AccessToken == "" {
		return nil, &Error{
			Kind:        KindToken,
			Code:        "invalid_token_response",
			Description: "token endpoint response is missing an access token",
			StatusCode:  resp.StatusCode,
		}
	}

	return tr.toTokenSet(), nil
}

// postForm sends an application/x-www-form-urlencoded POST and reads the
// full body. Transport failures come back as network errors; status codes do
// not fail the request here.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.send(req)
}

// postJSON sends an application/json POST and reads the full body.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.send(req)
}

func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, networkError(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, networkError("reading response from "+req.URL.Path, err)
	}
	return resp, body, nil
}

// storeAndAnnounce persists the set and publishes the given event with the
// freshly built session.
func (c *Client) storeAndAnnounce(set *TokenSet, kind EventKind) (*Session, error) {
	if err := c.tokens.Store(set); err != nil {
		return nil, err
	}
	session := c.tokens.BuildSession()
	c.bus.Publish(kind, session)
	return session, nil
}

// clearFlowState removes the transient artifacts of a redirect flow. Failures
// are ignored: a leftover verifier is harmless and overwritten by the next
// flow.
func (c *Client) clearFlowState() {
	for _, key := range []string{storageKeyVerifier, storageKeyState, storageKeyNonce, storageKeySocial} {
		if err := c.cfg.FlowStorage.Remove(key); err != nil {
			c.cfg.Logger.Debug("failed to clear flow key", "key", key, "err", err)
		}
	}
}

// flowValue reads a transient flow key, mapping absence to "".
func (c *Client) flowValue(key string) string {
	v, err := c.cfg.FlowStorage.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.cfg.Logger.Debug("failed to read flow key", "key", key, "err", err)
		}
		return ""
	}
	return v
}
