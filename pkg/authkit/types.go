package authkit

import (
	"time"
)

// Storage keys. The token set lives in the long-lived store; everything else
// is a transient flow artifact in the flow store and must not survive one
// redirect round-trip.
const (
	storageKeyToken    = "token"
	storageKeyVerifier = "verifier"
	storageKeyState    = "state"
	storageKeyNonce    = "nonce"
	storageKeySocial   = "social_login"
)

// TokenSet is the persisted credential bundle. It is only ever replaced as a
// whole; no code mutates individual fields of a stored set.
type TokenSet struct {
	// AccessToken is the bearer credential presented to APIs.
	AccessToken string `json:"accessToken"`

	// RefreshToken, when present, can be traded for a new set without
	// re-authenticating the user.
	RefreshToken string `json:"refreshToken,omitempty"`

	// IDToken is the OIDC identity token, when the provider issues one.
	IDToken string `json:"idToken,omitempty"`

	// Scope is the space-delimited list of granted scopes.
	Scope string `json:"scope,omitempty"`

	// ExpiresIn is the provider-reported lifetime in seconds. Informational
	// only: actual expiry comes from the access token's exp claim.
	ExpiresIn int `json:"expiresIn,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"tokenType,omitempty"`
}

// Session is the view handed to event subscribers: the current tokens plus
// the claims decoded from the access token. It is rebuilt on every emission
// and carries no identity of its own.
type Session struct {
	AccessToken  string
	IDToken      string
	RefreshToken string

	// User holds the claims decoded from the access token.
	User map[string]any

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time
}

// UserInfo is the claims map returned by the provider's userinfo endpoint.
type UserInfo map[string]any

// tokenResponse mirrors the provider's token endpoint response (RFC 6749).
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

func (r *tokenResponse) toTokenSet() *TokenSet {
	return &TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		Scope:        r.Scope,
		ExpiresIn:    r.ExpiresIn,
		TokenType:    r.TokenType,
	}
}
