package authkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies SDK errors so UI code can branch without string matching.
type Kind int

const (
	// KindAuthentication covers provider rejections of the user or request:
	// bad credentials, disabled users, CSRF failures. Never retried.
	KindAuthentication Kind = iota + 1

	// KindToken covers local token lifecycle failures: nothing stored,
	// session expired, refresh rejected. Triggers local cleanup.
	KindToken

	// KindMFARequired marks a login that needs a second factor. The typed
	// challenge travels in MFARequiredError.
	KindMFARequired

	// KindNetwork covers requests that could not be sent or received, as
	// opposed to a server-returned error body. Callers may offer a retry.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindToken:
		return "token"
	case KindMFARequired:
		return "mfa_required"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is the SDK's error type for provider and lifecycle failures.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Code is the provider error code (e.g. "invalid_grant") or an
	// SDK-assigned code for local failures.
	Code string

	// Description is a human-readable message.
	Description string

	// StatusCode is the HTTP status of the provider response, 0 for local
	// and network failures.
	StatusCode int

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// Predefined lifecycle and flow errors.
var (
	// ErrNoToken is returned when an operation needs a stored token and
	// none exists.
	ErrNoToken = &Error{Kind: KindToken, Code: "no_token", Description: "no token stored"}

	// ErrNoRefreshToken is returned when a refresh is requested but the
	// stored set has no refresh token.
	ErrNoRefreshToken = &Error{Kind: KindToken, Code: "no_refresh_token", Description: "no refresh token available"}

	// ErrSessionExpired is returned when the access token is expired and
	// cannot be refreshed. Local state has been cleared.
	ErrSessionExpired = &Error{Kind: KindToken, Code: "session_expired", Description: "session expired, re-authentication required"}

	// ErrStateMismatch is returned when the callback state does not match
	// the one stored before the redirect.
	ErrStateMismatch = &Error{Kind: KindAuthentication, Code: "state_mismatch", Description: "callback state does not match the stored state"}

	// ErrMissingAuthorizationCode is returned when the callback URL carries
	// no code parameter.
	ErrMissingAuthorizationCode = &Error{Kind: KindAuthentication, Code: "missing_code", Description: "callback is missing the authorization code"}

	// ErrMissingVerifier is returned when the callback finds no stored code
	// verifier and no existing valid session.
	ErrMissingVerifier = &Error{Kind: KindAuthentication, Code: "missing_verifier", Description: "no code verifier stored for this flow"}

	// ErrRedirectURINotAllowed is returned when the provider rejects the
	// configured redirect URI, whatever code it used to say so.
	ErrRedirectURINotAllowed = &Error{Kind: KindAuthentication, Code: "redirect_uri_not_allowed", Description: "the redirect URI is not allowed for this client"}
)

// MFARequiredError carries the challenge the provider issued in place of
// tokens. Complete it with Client.VerifyMFA.
type MFARequiredError struct {
	// ChallengeToken identifies the pending challenge to the provider.
	ChallengeToken string `json:"mfa_token"`

	// Methods lists the factors the user may answer with (e.g. "totp").
	Methods []string `json:"mfa_methods,omitempty"`
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("multi-factor authentication required (methods: %s)", strings.Join(e.Methods, ", "))
}

// networkError wraps a transport-level failure.
func networkError(op string, err error) *Error {
	return &Error{
		Kind:        KindNetwork,
		Code:        "network_error",
		Description: fmt.Sprintf("%s: %v", op, err),
		cause:       err,
	}
}

// errorBody is the provider's error response shape, parsed defensively.
type errorBody struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description"`
	Message          string   `json:"message"`
	MFAToken         string   `json:"mfa_token"`
	MFAMethods       []string `json:"mfa_methods"`
}

// parseErrorResponse maps a non-2xx provider response into the taxonomy.
// Missing or non-JSON bodies fall back to a generic message. Returns nil for
// 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)

	// An MFA challenge is not a failure of the request, it is a detour.
	if parsed.MFAToken != "" || parsed.Error == "mfa_required" {
		return &MFARequiredError{
			ChallengeToken: parsed.MFAToken,
			Methods:        parsed.MFAMethods,
		}
	}

	description := parsed.ErrorDescription
	if description == "" {
		description = parsed.Message
	}
	if description == "" {
		description = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	code := parsed.Error
	if code == "" {
		code = "server_error"
	}

	return &Error{
		Kind:        KindAuthentication,
		Code:        code,
		Description: description,
		StatusCode:  resp.StatusCode,
	}
}

// isRedirectURIError recognizes the various ways providers express a
// disallowed redirect URI so callers get one actionable error kind.
func isRedirectURIError(e *Error) bool {
	switch e.Code {
	case "redirect_uri_not_allowed", "invalid_redirect_uri", "unregistered_redirect_uri":
		return true
	}
	return strings.Contains(strings.ToLower(e.Description), "redirect uri") ||
		strings.Contains(strings.ToLower(e.Description), "redirect_uri")
}
