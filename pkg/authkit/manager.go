package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/veltaid/authkit/pkg/jwtx"
	"github.com/veltaid/authkit/pkg/storage"
)

const (
	// minRefreshDelay floors the proactive refresh timer so very short-lived
	// tokens cannot cause a refresh storm.
	minRefreshDelay = 5 * time.Second

	// scheduledRefreshTimeout bounds the network call made by a fired timer.
	scheduledRefreshTimeout = 30 * time.Second
)

// refresher performs the network call trading a refresh token for new
// tokens. Implemented by Client.
type refresher interface {
	refreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// refreshTimer is the cancelable handle behind the proactive refresh.
// Satisfied by *time.Timer; tests substitute a hand-fired fake.
type refreshTimer interface {
	Stop() bool
}

// refreshOp is the single in-flight refresh slot. Every refresh entry point
// funnels through it: the first caller performs the network call, later
// callers wait on done and share the outcome.
type refreshOp struct {
	id   string
	done chan struct{}
	set  *TokenSet
	err  error
}

// TokenManager owns the persisted token set and its lifecycle: expiry
// detection, reactive and proactive refresh, and session-expiry
// notifications. All mutation of the token storage key goes through it.
type TokenManager struct {
	store       storage.Adapter
	bus         *EventBus
	refresh     refresher
	log         *slog.Logger
	autoRefresh bool
	clockSkew   time.Duration

	// newTimer is swapped in tests to drive virtual time.
	newTimer func(d time.Duration, fn func()) refreshTimer

	mu       sync.Mutex
	timer    refreshTimer
	inflight *refreshOp
}

func newTokenManager(store storage.Adapter, bus *EventBus, r refresher, log *slog.Logger, autoRefresh bool, clockSkew time.Duration) *TokenManager {
	if clockSkew <= 0 {
		clockSkew = jwtx.DefaultClockSkew
	}
	return &TokenManager{
		store:       store,
		bus:         bus,
		refresh:     r,
		log:         log,
		autoRefresh: autoRefresh,
		clockSkew:   clockSkew,
		newTimer: func(d time.Duration, fn func()) refreshTimer {
			return time.AfterFunc(d, fn)
		},
	}
}

// GetStored returns the persisted token set, or nil when storage is empty or
// holds unparseable data. A corrupt cache means "logged out", never a crash.
func (m *TokenManager) GetStored() *TokenSet {
	raw, err := m.store.Get(storageKeyToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Debug("token read failed", "err", err)
		}
		return nil
	}

	var set TokenSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		m.log.Debug("stored token is not parseable, treating as absent", "err", err)
		return nil
	}
	if set.AccessToken == "" {
		return nil
	}
	return &set
}

// Store persists the set atomically and, when auto-refresh is on,
// (re)schedules the proactive refresh timer.
func (m *TokenManager) Store(set *TokenSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode token set: %w", err)
	}
	if err := m.store.Set(storageKeyToken, string(raw)); err != nil {
		return fmt.Errorf("failed to persist token set: %w", err)
	}

	m.scheduleRefresh(set)
	return nil
}

// Clear cancels the refresh timer and deletes the persisted set.
func (m *TokenManager) Clear() error {
	m.Destroy()
	return m.store.Remove(storageKeyToken)
}

// Destroy cancels the refresh timer without touching stored tokens. Distinct
// from logout: the session survives a destroyed manager.
func (m *TokenManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
}

// IsAuthenticated reports whether a stored, unexpired access token exists.
func (m *TokenManager) IsAuthenticated() bool {
	set := m.GetStored()
	return set != nil && !jwtx.IsExpired(set.AccessToken, m.clockSkew)
}

// AccessToken returns a valid access token, refreshing first when the stored
// one is expired. With no token stored it fails with ErrNoToken; expired and
// unrefreshable sessions are cleared and fail with ErrSessionExpired.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	set := m.GetStored()
	if set == nil {
		return "", ErrNoToken
	}

	if !jwtx.IsExpired(set.AccessToken, m.clockSkew) {
		return set.AccessToken, nil
	}

	if set.RefreshToken == "" {
		m.expireSession()
		return "", ErrSessionExpired
	}

	refreshed, err := m.doRefresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshNow performs (or joins) a refresh unconditionally.
func (m *TokenManager) RefreshNow(ctx context.Context) (*TokenSet, error) {
	return m.doRefresh(ctx)
}

// BuildSession combines the stored tokens with freshly decoded claims.
// Returns nil when no token is stored or the access token is undecodable.
func (m *TokenManager) BuildSession() *Session {
	set := m.GetStored()
	if set == nil {
		return nil
	}

	claims, err := jwtx.DecodePayload(set.AccessToken)
	if err != nil {
		return nil
	}

	return &Session{
		AccessToken:  set.AccessToken,
		IDToken:      set.IDToken,
		RefreshToken: set.RefreshToken,
		User:         claims.Extra,
		ExpiresAt:    claims.ExpiresAt,
	}
}

// Initialize settles the manager's starting state: an expired-but-
// refreshable token is refreshed immediately, an expired dead one is cleared
// with a SESSION_EXPIRED notification, a valid one gets its proactive timer.
func (m *TokenManager) Initialize(ctx context.Context) {
	set := m.GetStored()
	if set == nil {
		return
	}

	if !jwtx.IsExpired(set.AccessToken, m.clockSkew) {
		m.scheduleRefresh(set)
		return
	}

	if set.RefreshToken == "" {
		m.expireSession()
		return
	}

	if _, err := m.doRefresh(ctx); err != nil {
		m.log.Warn("initial token refresh failed", "err", err)
		var e *Error
		if errors.As(err, &e) && e.Kind == KindNetwork {
			// provider-rejected refreshes already cleared state inside doRefresh
			m.expireSession()
		}
	}
}

// doRefresh funnels every refresh through the single in-flight slot.
func (m *TokenManager) doRefresh(ctx context.Context) (*TokenSet, error) {
	m.mu.Lock()
	if op := m.inflight; op != nil {
		m.mu.Unlock()
		return waitRefresh(ctx, op)
	}

	op := &refreshOp{
		id:   ulid.Make().String(),
		done: make(chan struct{}),
	}
	m.inflight = op
	m.mu.Unlock()

	op.set, op.err = m.performRefresh(ctx, op.id)
	close(op.done)

	// Clear the slot whatever the outcome, so the next refresh starts fresh.
	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()

	return op.set, op.err
}

// performRefresh re-reads the stored refresh token (storage may have changed
// since the refresh was requested), calls the provider, and persists the
// result before anyone observes it.
func (m *TokenManager) performRefresh(ctx context.Context, opID string) (*TokenSet, error) {
	prev := m.GetStored()
	if prev == nil {
		return nil, ErrNoToken
	}
	if prev.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	m.log.Debug("refreshing access token", "op", opID)
	set, err := m.refresh.refreshTokens(ctx, prev.RefreshToken)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindNetwork {
			// The request never reached the provider; the session may still
			// be salvageable, so keep local state.
			return nil, err
		}

		// The provider rejected the refresh: the session is over.
		m.log.Warn("token refresh rejected", "op", opID, "err", err)
		m.expireSession()
		return nil, &Error{
			Kind:        KindToken,
			Code:        "refresh_failed",
			Description: "token refresh was rejected, session expired",
			cause:       err,
		}
	}

	// Providers that do not rotate refresh tokens omit them from the
	// response; carry the previous one forward.
	if set.RefreshToken == "" {
		set.RefreshToken = prev.RefreshToken
	}

	if err := m.Store(set); err != nil {
		return nil, err
	}
	m.bus.Publish(EventTokenRefreshed, m.BuildSession())
	m.log.Debug("access token refreshed", "op", opID)

	return set, nil
}

func waitRefresh(ctx context.Context, op *refreshOp) (*TokenSet, error) {
	select {
	case <-op.done:
		return op.set, op.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// expireSession clears local state and tells subscribers the session is
// gone. The caller is expected to restart the login flow.
func (m *TokenManager) expireSession() {
	if err := m.Clear(); err != nil {
		m.log.Debug("failed to clear tokens on session expiry", "err", err)
	}
	m.bus.Publish(EventSessionExpired, nil)
}

// scheduleRefresh arms the proactive timer at 75% of the token's remaining
// lifetime, floored at minRefreshDelay. Cancel-then-reschedule is atomic so
// two timers can never be live at once.
func (m *TokenManager) scheduleRefresh(set *TokenSet) {
	if !m.autoRefresh {
		return
	}

	remaining := jwtx.UntilExpiry(set.AccessToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()

	if remaining <= 0 {
		// Already expired; the reactive path in AccessToken handles it.
		return
	}

	delay := remaining * 3 / 4
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}

	m.log.Debug("scheduled proactive token refresh", "delay", delay)
	m.timer = m.newTimer(delay, m.onRefreshTimer)
}

func (m *TokenManager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// onRefreshTimer runs when the proactive timer fires. A failed scheduled
// refresh ends the session; there is no retry loop.
func (m *TokenManager) onRefreshTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRefreshTimeout)
	defer cancel()

	_, err := m.doRefresh(ctx)
	if err == nil {
		return
	}

	if errors.Is(err, ErrNoToken) || errors.Is(err, ErrNoRefreshToken) {
		// Storage changed between scheduling and firing (e.g. logout).
		m.log.Debug("scheduled refresh skipped", "err", err)
		return
	}

	var e *Error
	if errors.As(err, &e) && e.Kind == KindNetwork {
		// Provider rejections clear state inside doRefresh; network
		// failures end the session here instead of retrying.
		m.expireSession()
	}
}
