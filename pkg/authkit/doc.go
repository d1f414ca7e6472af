/*
Package authkit is a client-side authentication SDK for OAuth2 providers
supporting authorization-code + PKCE, credential, and social logins.

# Overview

A Client wraps one provider tenant and owns the full session lifecycle:
starting login flows, completing redirect callbacks, persisting tokens,
refreshing them before they expire, and announcing every auth-state change
to subscribers.

	client, err := authkit.New(ctx, authkit.Config{
		Domain:   "https://auth.example.com",
		ClientID: "my-app",
		Storage:  storage.NewMemory(),
	})

# Login Flows

Redirect login (authorization code + PKCE):

	url, err := client.StartRedirectLogin(ctx)
	// ... user authenticates in the browser, provider redirects back ...
	session, err := client.HandleCallback(ctx, callbackURL)

Credential login, with optional MFA:

	profile, err := client.LoginWithCredentials(ctx, authkit.Credentials{
		Email:    "kim@example.com",
		Password: "secret",
	})
	var mfa *authkit.MFARequiredError
	if errors.As(err, &mfa) {
		profile, err = client.VerifyMFA(ctx, mfa.ChallengeToken, "totp", code)
	}

Social login:

	err := client.StartSocialLogin(ctx, "google")
	// provider redirects back through the same callback
	session, err := client.HandleCallback(ctx, callbackURL)

# Token Lifecycle

GetAccessToken always returns a usable token, refreshing expired ones
behind a single in-flight request shared by all concurrent callers. With
auto-refresh enabled (the default) a timer refreshes proactively at 75% of
the token's lifetime. A refresh the provider rejects ends the session:
local state is cleared and SESSION_EXPIRED is published.

For plain API access, wrap the lifecycle into any http.Client:

	api := &http.Client{Transport: client.Transport(nil)}

# Session Events

Subscribe to auth-state transitions; listeners run synchronously in
subscription order:

	unsubscribe := client.OnSessionChange(func(kind authkit.EventKind, s *authkit.Session) {
		switch kind {
		case authkit.EventSignedIn:
			// render the app
		case authkit.EventSessionExpired:
			// send the user back to login
		}
	})

# Error Handling

Failures carry a Kind so callers can branch without string matching:

	var e *authkit.Error
	if errors.As(err, &e) && e.Kind == authkit.KindNetwork {
		// offer a retry
	}

# Thread Safety

A Client is safe for concurrent use. Storage adapters must be safe for
concurrent use as well; the ones in pkg/storage are.
*/
package authkit
