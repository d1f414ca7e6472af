package authkit

import (
	"context"
	"encoding/json"
	"net/http"
)

// GetUserInfo fetches the user's profile from the provider's userinfo
// endpoint using the current access token, refreshing it first if needed.
// A successful fetch publishes USER_UPDATED.
func (c *Client) GetUserInfo(ctx context.Context) (UserInfo, error) {
	info, err := c.fetchUserInfo(ctx)
	if err != nil {
		return nil, err
	}

	c.bus.Publish(EventUserUpdated, c.tokens.BuildSession())
	return info, nil
}

// fetchUserInfo performs the userinfo request without announcing anything,
// for callers that publish their own event afterwards.
func (c *Client) fetchUserInfo(ctx context.Context) (UserInfo, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/userinfo"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &Error{
			Kind:        KindAuthentication,
			Code:        "invalid_userinfo_response",
			Description: "userinfo endpoint returned an unparseable body",
			StatusCode:  resp.StatusCode,
			cause:       err,
		}
	}
	return info, nil
}
