package authkit

import (
	"net/http"
)

// Transport is an http.RoundTripper that attaches a valid bearer token to
// every outgoing request, refreshing expired tokens transparently. Wrap it
// around any API client:
//
//	api := &http.Client{Transport: client.Transport(nil)}
//
// Requests that already carry an Authorization header pass through untouched.
type Transport struct {
	client *Client
	base   http.RoundTripper
}

// Transport returns a RoundTripper backed by this client's token lifecycle.
// A nil base falls back to http.DefaultTransport.
func (c *Client) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{client: c, base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}

	token, err := t.client.GetAccessToken(req.Context())
	if err != nil {
		return nil, err
	}

	// Per RoundTripper contract the request must not be mutated.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}
