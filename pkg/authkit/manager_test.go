package authkit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/veltaid/authkit/pkg/storage"
)

func mintAccess(t *testing.T, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	set   *TokenSet
	err   error

	// gate, when set, blocks every call until closed
	gate chan struct{}
}

func (f *fakeRefresher) refreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := *f.set
	return &out, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (ft *fakeTimer) Stop() bool {
	ft.stopped = true
	return true
}

// newTestManager wires a manager with a fake refresher and captured timers.
func newTestManager(t *testing.T, autoRefresh bool) (*TokenManager, *fakeRefresher, *EventBus, *[]*fakeTimer) {
	t.Helper()

	refresher := &fakeRefresher{}
	bus := NewEventBus(nil)
	m := newTokenManager(storage.NewMemory(), bus, refresher, slog.New(slog.DiscardHandler), autoRefresh, 0)

	timers := &[]*fakeTimer{}
	m.newTimer = func(d time.Duration, fn func()) refreshTimer {
		ft := &fakeTimer{delay: d, fn: fn}
		*timers = append(*timers, ft)
		return ft
	}
	return m, refresher, bus, timers
}

func TestGetStoredEmptyAndCorrupt(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t, false)
	require.Nil(t, m.GetStored())

	require.NoError(t, m.store.Set(storageKeyToken, "{not json"))
	require.Nil(t, m.GetStored())

	require.NoError(t, m.store.Set(storageKeyToken, `{"refreshToken":"r"}`))
	require.Nil(t, m.GetStored(), "a set without an access token is no set")
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t, false)

	set := &TokenSet{
		AccessToken:  mintAccess(t, time.Hour),
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
	}
	require.NoError(t, m.Store(set))

	got := m.GetStored()
	require.NotNil(t, got)
	require.Equal(t, set.AccessToken, got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.True(t, m.IsAuthenticated())
}

func TestStoreSchedulesProactiveRefresh(t *testing.T) {
	t.Parallel()

	m, _, _, timers := newTestManager(t, true)

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, time.Hour)}))
	require.Len(t, *timers, 1)

	// 75% of an hour, give or take test latency
	delay := (*timers)[0].delay
	require.InDelta(t, (45 * time.Minute).Seconds(), delay.Seconds(), 5)
}

func TestScheduleRefreshFloorsShortLifetimes(t *testing.T) {
	t.Parallel()

	m, _, _, timers := newTestManager(t, true)

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, 8*time.Second)}))
	require.Len(t, *timers, 1)
	require.Equal(t, minRefreshDelay, (*timers)[0].delay)
}

func TestStoreReplacesExistingTimer(t *testing.T) {
	t.Parallel()

	m, _, _, timers := newTestManager(t, true)

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, time.Hour)}))
	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, 2*time.Hour)}))

	require.Len(t, *timers, 2)
	require.True(t, (*timers)[0].stopped, "first timer must be canceled on reschedule")
	require.False(t, (*timers)[1].stopped)
}

func TestStoreDoesNotScheduleWhenAutoRefreshOff(t *testing.T) {
	t.Parallel()

	m, _, _, timers := newTestManager(t, false)
	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, time.Hour)}))
	require.Empty(t, *timers)
}

func TestAccessTokenValid(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)

	access := mintAccess(t, time.Hour)
	require.NoError(t, m.Store(&TokenSet{AccessToken: access, RefreshToken: "r"}))

	got, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, access, got)
	require.Zero(t, refresher.callCount(), "a valid token must not trigger a refresh")
}

func TestAccessTokenNoToken(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t, false)

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	t.Parallel()

	m, refresher, bus, _ := newTestManager(t, false)

	fresh := mintAccess(t, time.Hour)
	refresher.set = &TokenSet{AccessToken: fresh, RefreshToken: "r2"}

	var events []EventKind
	bus.Subscribe(func(kind EventKind, _ *Session) { events = append(events, kind) })

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "r1"}))

	got, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, fresh, got)
	require.Equal(t, 1, refresher.callCount())
	require.Equal(t, []EventKind{EventTokenRefreshed}, events)

	stored := m.GetStored()
	require.Equal(t, "r2", stored.RefreshToken, "rotated refresh token must be persisted")
}

func TestAccessTokenExpiredWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	m, _, bus, _ := newTestManager(t, false)

	var events []EventKind
	bus.Subscribe(func(kind EventKind, _ *Session) { events = append(events, kind) })

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute)}))

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Nil(t, m.GetStored(), "dead session must be cleared")
	require.Equal(t, []EventKind{EventSessionExpired}, events)
}

func TestClockSkewTreatsNearExpiryAsExpired(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)
	refresher.set = &TokenSet{AccessToken: mintAccess(t, time.Hour)}

	// 10s of life left is inside the 30s skew window
	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, 10*time.Second), RefreshToken: "r"}))

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, refresher.callCount())
}

func TestRefreshCarriesForwardRefreshToken(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)
	refresher.set = &TokenSet{AccessToken: mintAccess(t, time.Hour)} // no refresh token in response

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "keep-me"}))

	_, err := m.RefreshNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, "keep-me", m.GetStored().RefreshToken)
}

func TestRefreshRejectedClearsSession(t *testing.T) {
	t.Parallel()

	m, refresher, bus, _ := newTestManager(t, false)
	refresher.err = &Error{Kind: KindAuthentication, Code: "invalid_grant", StatusCode: 400}

	var events []EventKind
	bus.Subscribe(func(kind EventKind, _ *Session) { events = append(events, kind) })

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "r"}))

	_, err := m.RefreshNow(context.Background())
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, KindToken, e.Kind)
	require.Equal(t, "refresh_failed", e.Code)

	require.Nil(t, m.GetStored())
	require.Equal(t, []EventKind{EventSessionExpired}, events, "exactly one expiry notification")
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	t.Parallel()

	m, refresher, bus, _ := newTestManager(t, false)
	refresher.err = networkError("refresh", errors.New("connection refused"))

	var events []EventKind
	bus.Subscribe(func(kind EventKind, _ *Session) { events = append(events, kind) })

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "r"}))

	_, err := m.RefreshNow(context.Background())
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, KindNetwork, e.Kind)

	require.NotNil(t, m.GetStored(), "network failure must not destroy local state")
	require.Empty(t, events)
}

func TestConcurrentRefreshesShareOneRequest(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)

	fresh := mintAccess(t, time.Hour)
	refresher.set = &TokenSet{AccessToken: fresh, RefreshToken: "r2"}
	refresher.gate = make(chan struct{})

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "r1"}))

	const callers = 16
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var started sync.WaitGroup
	started.Add(callers)
	for range callers {
		go func() {
			started.Done()
			got, err := m.AccessToken(context.Background())
			results <- got
			errs <- err
		}()
	}
	started.Wait()

	// Give the joiners a moment to pile onto the in-flight op, then let
	// the single network call finish.
	time.Sleep(50 * time.Millisecond)
	close(refresher.gate)

	for range callers {
		require.NoError(t, <-errs)
		require.Equal(t, fresh, <-results)
	}
	require.Equal(t, 1, refresher.callCount(), "all callers must share one refresh request")
}

func TestRefreshJoinerHonorsContext(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)
	refresher.set = &TokenSet{AccessToken: mintAccess(t, time.Hour)}
	refresher.gate = make(chan struct{})
	defer close(refresher.gate)

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, -time.Minute), RefreshToken: "r"}))

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = m.RefreshNow(context.Background())
	}()

	// Wait until the leader holds the slot
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.inflight != nil
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.RefreshNow(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTimerFiresRefresh(t *testing.T) {
	t.Parallel()

	m, refresher, _, timers := newTestManager(t, true)
	fresh := mintAccess(t, 2*time.Hour)
	refresher.set = &TokenSet{AccessToken: fresh, RefreshToken: "r2"}

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, time.Hour), RefreshToken: "r1"}))
	require.Len(t, *timers, 1)

	(*timers)[0].fn()

	require.Equal(t, 1, refresher.callCount())
	require.Equal(t, fresh, m.GetStored().AccessToken)
	// The refreshed token was rescheduled
	require.Len(t, *timers, 2)
}

func TestTimerFireAfterLogoutIsNoOp(t *testing.T) {
	t.Parallel()

	m, refresher, bus, timers := newTestManager(t, true)

	require.NoError(t, m.Store(&TokenSet{AccessToken: mintAccess(t, time.Hour), RefreshToken: "r"}))
	require.Len(t, *timers, 1)

	var events []EventKind
	bus.Subscribe(func(kind EventKind, _ *Session) { events = append(events, kind) })

	require.NoError(t, m.Clear())
	(*timers)[0].fn()

	require.Zero(t, refresher.callCount())
	require.Empty(t, events)
}

func TestInitializeRefreshesExpiredSession(t *testing.T) {
	t.Parallel()

	m, refresher, _, _ := newTestManager(t, false)
	fresh := mintAccess(t, time.Hour)
	refresher.set = &TokenSet{AccessToken: fresh}

	require.NoError(t, m.store.Set(storageKeyToken,
		`{"accessToken":"`+mintAccess(t, -time.Minute)+`","refreshToken":"r"}`))

	m.Initialize(context.Background())
	require.Equal(t, fresh, m.GetStored().AccessToken)
}

func TestBuildSessionDecodesClaims(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t, false)

	require.NoError(t, m.Store(&TokenSet{
		AccessToken:  mintAccess(t, time.Hour),
		RefreshToken: "r",
		IDToken:      "id-token",
	}))

	session := m.BuildSession()
	require.NotNil(t, session)
	require.Equal(t, "user-1", session.User["sub"])
	require.Equal(t, "id-token", session.IDToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}
