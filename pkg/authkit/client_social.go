package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// StartSocialLogin begins a login through a social identity provider
// (e.g. "google", "github"). The SDK probes the provider's start endpoint to
// surface configuration problems early, marks the flow as social so the
// callback knows which exchange to run, and navigates the user agent to the
// start URL.
func (c *Client) StartSocialLogin(ctx context.Context, provider string) error {
	if c.cfg.Navigator == nil {
		return fmt.Errorf("social login requires a Navigator in the config")
	}
	if provider == "" {
		return fmt.Errorf("social login requires a provider name")
	}

	q := url.Values{
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURI},
	}
	if c.cfg.TenantID != "" {
		q.Set("tenant_id", c.cfg.TenantID)
	}
	startURL := c.endpoint("/v2/auth/social/"+url.PathEscape(provider)+"/start") + "?" + q.Encode()

	if err := c.probeSocialStart(ctx, startURL); err != nil {
		return err
	}

	if err := c.cfg.FlowStorage.Set(storageKeySocial, provider); err != nil {
		return fmt.Errorf("failed to mark social flow: %w", err)
	}
	if err := c.cfg.Navigator.Navigate(startURL); err != nil {
		return fmt.Errorf("failed to navigate to social start URL: %w", err)
	}
	return nil
}

// probeSocialStart hits the start endpoint without following redirects. A
// redirect or success means the flow is viable; an error response is parsed
// so a misconfigured redirect URI fails here instead of in the provider's
// browser tab. Network failures are tolerated: the navigation may still
// succeed from the user agent.
func (c *Client) probeSocialStart(ctx context.Context, startURL string) error {
	probe := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, startURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build social start request: %w", err)
	}

	resp, err := probe.Do(req)
	if err != nil {
		c.cfg.Logger.Debug("social start probe failed, navigating anyway", "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	parsed := parseErrorResponse(resp, body)
	var e *Error
	if errors.As(parsed, &e) && isRedirectURIError(e) {
		return ErrRedirectURINotAllowed
	}
	return parsed
}

// finishSocialLogin completes a social flow from the callback: the provider
// hands back a one-time code which is traded for tokens at the social
// exchange endpoint rather than the OAuth token endpoint.
func (c *Client) finishSocialLogin(ctx context.Context, code, state string) (*Session, error) {
	defer c.clearFlowState()

	if stored := c.flowValue(storageKeyState); stored != "" && state != stored {
		return nil, ErrStateMismatch
	}

	payload := map[string]string{
		"client_id":    c.cfg.ClientID,
		"code":         code,
		"redirect_uri": c.cfg.RedirectURI,
	}

	resp, body, err := c.postJSON(ctx, "/v2/auth/social/exchange", payload)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &Error{
			Kind:        KindToken,
			Code:        "invalid_token_response",
			Description: "social exchange did not return usable tokens",
			StatusCode:  resp.StatusCode,
			cause:       err,
		}
	}

	return c.storeAndAnnounce(tr.toTokenSet(), EventSignedIn)
}
