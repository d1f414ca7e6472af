package authkit

import (
	"context"
	"net/url"
)

// Logout ends the local session: tokens and flow artifacts are cleared and
// SIGNED_OUT is published before anything touches the network. The provider
// is then told best-effort; a dead network never blocks a logout.
//
// Logging out while logged out is a harmless no-op that still publishes
// SIGNED_OUT.
func (c *Client) Logout(ctx context.Context) error {
	set := c.tokens.GetStored()

	if err := c.tokens.Clear(); err != nil {
		return err
	}
	c.clearFlowState()
	c.bus.Publish(EventSignedOut, nil)

	if set == nil || set.RefreshToken == "" {
		return nil
	}
	if _, _, err := c.postJSON(ctx, "/v2/auth/logout", map[string]string{
		"client_id":     c.cfg.ClientID,
		"refresh_token": set.RefreshToken,
	}); err != nil {
		c.cfg.Logger.Debug("server-side logout failed", "err", err)
	}
	return nil
}

// LogoutAll revokes every session for the user across devices, then clears
// local state. Unlike Logout, the server call comes first; its failure is
// still swallowed so local state always ends up clean.
func (c *Client) LogoutAll(ctx context.Context) error {
	if set := c.tokens.GetStored(); set != nil && set.RefreshToken != "" {
		if _, _, err := c.postJSON(ctx, "/v2/auth/logout/all", map[string]string{
			"client_id":     c.cfg.ClientID,
			"refresh_token": set.RefreshToken,
		}); err != nil {
			c.cfg.Logger.Warn("logout-all request failed", "err", err)
		}
	}

	if err := c.tokens.Clear(); err != nil {
		return err
	}
	c.clearFlowState()
	c.bus.Publish(EventSignedOut, nil)
	return nil
}

// RevokeToken revokes the stored refresh token at the provider, then clears
// the local session. Revocation failures are logged and swallowed: RFC 7009
// treats revocation of an unknown token as success, and local cleanup must
// not depend on the provider.
func (c *Client) RevokeToken(ctx context.Context) error {
	if set := c.tokens.GetStored(); set != nil && set.RefreshToken != "" {
		path, form := c.revokePayload(set.RefreshToken)
		resp, body, err := c.postForm(ctx, path, form)
		if err != nil {
			c.cfg.Logger.Debug("token revocation failed", "err", err)
		} else if err := parseErrorResponse(resp, body); err != nil {
			c.cfg.Logger.Debug("token revocation rejected", "err", err)
		}
	}

	if err := c.tokens.Clear(); err != nil {
		return err
	}
	c.clearFlowState()
	c.bus.Publish(EventSignedOut, nil)
	return nil
}

func (c *Client) revokePayload(refreshToken string) (string, url.Values) {
	return "/oauth2/revoke", url.Values{
		"client_id":       {c.cfg.ClientID},
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
}
