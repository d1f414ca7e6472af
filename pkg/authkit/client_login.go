package authkit

import (
	"context"
	"encoding/json"
	"errors"
)

// Credentials is a direct email/password login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialLoginRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaVerifyRequest struct {
	ClientID       string `json:"client_id"`
	ChallengeToken string `json:"mfa_token"`
	Method         string `json:"method"`
	Code           string `json:"otp_code"`
}

// LoginWithCredentials authenticates with an email and password, bypassing
// the browser redirect. On success the tokens are stored, the user profile
// is fetched, and SIGNED_IN is published.
//
// When the account has a second factor enrolled the provider answers with a
// challenge instead of tokens: the call fails with *MFARequiredError (after
// publishing MFA_REQUIRED) and the login completes through VerifyMFA.
func (c *Client) LoginWithCredentials(ctx context.Context, creds Credentials) (UserInfo, error) {
	payload := credentialLoginRequest{
		TenantID: c.cfg.TenantID,
		ClientID: c.cfg.ClientID,
		Email:    creds.Email,
		Password: creds.Password,
	}

	resp, body, err := c.postJSON(ctx, "/v2/auth/login", payload)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		var mfa *MFARequiredError
		if errors.As(err, &mfa) {
			c.bus.Publish(EventMFARequired, nil)
		}
		return nil, err
	}

	return c.completeTokenLogin(ctx, body)
}

// VerifyMFA completes a credential login that was answered with an MFA
// challenge. The challenge token comes from the MFARequiredError; method is
// the chosen factor (e.g. "totp") and code is the user's answer.
func (c *Client) VerifyMFA(ctx context.Context, challengeToken, method, code string) (UserInfo, error) {
	payload := mfaVerifyRequest{
		ClientID:       c.cfg.ClientID,
		ChallengeToken: challengeToken,
		Method:         method,
		Code:           code,
	}

	resp, body, err := c.postJSON(ctx, "/v2/auth/mfa/verify", payload)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	return c.completeTokenLogin(ctx, body)
}

// completeTokenLogin decodes a token response body, persists the set,
// fetches the profile and publishes SIGNED_IN. The profile fetch happens
// before the announcement so subscribers never observe a half-formed login.
func (c *Client) completeTokenLogin(ctx context.Context, body []byte) (UserInfo, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &Error{
			Kind:        KindToken,
			Code:        "invalid_token_response",
			Description: "login response did not contain usable tokens",
			cause:       err,
		}
	}

	if err := c.tokens.Store(tr.toTokenSet()); err != nil {
		return nil, err
	}

	profile, err := c.fetchUserInfo(ctx)
	if err != nil {
		return nil, err
	}

	c.bus.Publish(EventSignedIn, c.tokens.BuildSession())
	return profile, nil
}
