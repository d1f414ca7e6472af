package authkit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/veltaid/authkit/pkg/pkce"
)

// StartRedirectLogin begins an authorization-code + PKCE login: it generates
// and stores the flow artifacts, builds the authorization URL, and hands it
// to the configured Navigator. The returned URL is also handed back for
// callers that present it themselves.
//
// Starting a new flow overwrites any artifacts from an abandoned one.
func (c *Client) StartRedirectLogin(ctx context.Context) (string, error) {
	if c.cfg.Navigator == nil {
		return "", fmt.Errorf("redirect login requires a Navigator in the config")
	}

	authURL, err := c.prepareAuthorizationURL()
	if err != nil {
		return "", err
	}

	if err := c.cfg.Navigator.Navigate(authURL); err != nil {
		return "", fmt.Errorf("failed to navigate to authorization URL: %w", err)
	}
	return authURL, nil
}

// prepareAuthorizationURL generates fresh PKCE artifacts, persists them in
// the flow store, and returns the fully assembled authorize URL.
func (c *Client) prepareAuthorizationURL() (string, error) {
	gen := pkce.New()

	verifier, err := gen.GenerateVerifier()
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := gen.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := gen.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Persist before navigating: a stored artifact with no redirect is
	// harmless, a redirect with no stored artifact is a dead flow.
	for key, value := range map[string]string{
		storageKeyVerifier: verifier,
		storageKeyState:    state,
		storageKeyNonce:    nonce,
	} {
		if err := c.cfg.FlowStorage.Set(key, value); err != nil {
			return "", fmt.Errorf("failed to store flow artifact %q: %w", key, err)
		}
	}

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.cfg.ClientID},
		"redirect_uri":          {c.cfg.RedirectURI},
		"scope":                 {c.cfg.Scope},
		"state":                 {state},
		"nonce":                 {nonce},
		"code_challenge":        {pkce.Challenge(verifier)},
		"code_challenge_method": {pkce.MethodS256},
	}
	if c.cfg.TenantID != "" {
		q.Set("tenant_id", c.cfg.TenantID)
	}

	return c.endpoint("/oauth2/authorize") + "?" + q.Encode(), nil
}

// HandleCallback completes a redirect login from the full callback URL the
// provider sent the user back to. It validates state, exchanges the code
// (PKCE or social, depending on how the flow started), stores the tokens and
// publishes SIGNED_IN.
//
// Re-invoking the callback after a completed flow is a no-op that returns the
// existing session, so double-delivered callbacks do not kill a login.
func (c *Client) HandleCallback(ctx context.Context, callbackURL string) (*Session, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback URL: %w", err)
	}
	q := u.Query()

	// A provider-reported error always wins, even over a present code.
	if errCode := q.Get("error"); errCode != "" {
		c.clearFlowState()
		return nil, &Error{
			Kind:        KindAuthentication,
			Code:        errCode,
			Description: q.Get("error_description"),
		}
	}

	code := q.Get("code")
	if code == "" {
		return nil, ErrMissingAuthorizationCode
	}

	if c.flowValue(storageKeySocial) != "" {
		return c.finishSocialLogin(ctx, code, q.Get("state"))
	}

	verifier := c.flowValue(storageKeyVerifier)
	if verifier == "" {
		// No verifier but a live session means the callback already ran.
		if c.tokens.IsAuthenticated() {
			return c.tokens.BuildSession(), nil
		}
		return nil, ErrMissingVerifier
	}

	defer c.clearFlowState()

	if q.Get("state") != c.flowValue(storageKeyState) {
		return nil, ErrStateMismatch
	}

	set, err := c.exchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	return c.storeAndAnnounce(set, EventSignedIn)
}
