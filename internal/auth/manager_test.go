package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func signToken(t *testing.T, userID int, username string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"email":    username + "@example.org",
		"exp":      time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// testBackend fakes the token endpoints.
type testBackend struct {
	server       *httptest.Server
	loginCalls   atomic.Int32
	refreshCalls atomic.Int32

	mu            sync.Mutex
	access        string
	refresh       string
	rejectLogin   bool
	rejectRefresh bool
	refreshGate   chan struct{}
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{
		access:  signToken(t, 7, "ola", time.Hour),
		refresh: "refresh-1",
	}
	renewed := signToken(t, 7, "ola", 2*time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, func(w http.ResponseWriter, r *http.Request) {
		b.loginCalls.Add(1)
		var creds credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		b.mu.Lock()
		reject := b.rejectLogin
		b.mu.Unlock()
		if reject || creds.Password != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
			return
		}
		writeJSON(w, tokenPair{Access: b.access, Refresh: b.refresh})
	})
	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		b.mu.Lock()
		gate := b.refreshGate
		reject := b.rejectRefresh
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		writeJSON(w, map[string]string{"access": renewed})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestManager(t *testing.T, b *testBackend, store session.Store) *Manager {
	t.Helper()
	client := httpclient.New(nil)
	t.Cleanup(client.Close)
	m, err := NewManager(t.Context(), Config{BaseURL: b.server.URL, HTTP: client, Store: store})
	require.NoError(t, err)
	return m
}

func TestLoginStoresSessionAndDecodesUser(t *testing.T) {
	b := newTestBackend(t)
	store := session.NewTokenStore(session.NewMemoryStorage())
	m := newTestManager(t, b, store)

	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	snap := m.Snapshot()
	assert.Equal(t, StateLoggedIn, snap.State)
	assert.Equal(t, int64(7), snap.User.ID)
	assert.Equal(t, "ola", snap.User.Username)
	assert.Equal(t, "ola@example.org", snap.User.Email)
	assert.False(t, snap.User.Expired(time.Now()))

	stored, ok, err := store.Load(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Session, stored)
	assert.Equal(t, stored.Access, m.AccessToken())
}

func TestLoginFailureLeavesStateUnchanged(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))

	err := m.Login(t.Context(), "ola", "wrong")
	require.Error(t, err)

	httpErr, ok := api.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
	assert.Equal(t, "No active account found with the given credentials", httpErr.Message)
	assert.Equal(t, StateLoggedOut, m.State())
	assert.Empty(t, m.AccessToken())
}

func TestLoginRejectsEmptyCredentialsWithoutNetwork(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))

	err := m.Login(t.Context(), "", "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, int32(0), b.loginCalls.Load())
}

func TestLogoutClearsEverything(t *testing.T) {
	b := newTestBackend(t)
	store := session.NewTokenStore(session.NewMemoryStorage())
	m := newTestManager(t, b, store)
	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	m.Logout(t.Context())

	assert.Equal(t, StateLoggedOut, m.State())
	assert.Empty(t, m.AccessToken())
	assert.Equal(t, User{}, m.User())
	_, ok, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)

	// Logging out twice is harmless.
	m.Logout(t.Context())
	assert.Equal(t, StateLoggedOut, m.State())
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))
	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	stale := m.AccessToken()
	const callers = 3
	results := make([]session.Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background(), stale)
		}()
	}

	// Give the callers a moment to pile up on the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.NotEqual(t, stale, results[i].Access)
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, "refresh-1", results[0].Refresh, "refresh token is kept when the backend omits it")
	assert.Equal(t, StateLoggedIn, m.State())
}

func TestRefreshWithSupersededTokenSkipsNetwork(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))
	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	s, err := m.Refresh(t.Context(), "an-older-token")
	require.NoError(t, err)
	assert.Equal(t, m.AccessToken(), s.Access)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestRefreshFailureLogsOut(t *testing.T) {
	b := newTestBackend(t)
	store := session.NewTokenStore(session.NewMemoryStorage())
	m := newTestManager(t, b, store)
	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	b.mu.Lock()
	b.rejectRefresh = true
	b.mu.Unlock()

	_, err := m.Refresh(t.Context(), m.AccessToken())
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryAuth))
	assert.Equal(t, StateLoggedOut, m.State())

	_, ok, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshWhenLoggedOutIsAuthError(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))

	_, err := m.Refresh(t.Context(), "")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
	assert.ErrorIs(t, err, api.ErrNotLoggedIn)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestNewManagerRestoresPersistedSession(t *testing.T) {
	b := newTestBackend(t)
	storage := session.NewMemoryStorage()
	store := session.NewTokenStore(storage)
	access := signToken(t, 3, "kari", time.Hour)
	require.NoError(t, store.Save(t.Context(), session.Session{Access: access, Refresh: "r"}))

	m := newTestManager(t, b, store)

	assert.Equal(t, StateLoggedIn, m.State())
	assert.Equal(t, access, m.AccessToken())
	assert.Equal(t, "kari", m.User().Username)
}

func TestRestoredExpiredSessionIsRenewedOnFirstRefresh(t *testing.T) {
	b := newTestBackend(t)
	store := session.NewTokenStore(session.NewMemoryStorage())
	expired := signToken(t, 3, "kari", -time.Minute)
	require.NoError(t, store.Save(t.Context(), session.Session{Access: expired, Refresh: "r"}))

	m := newTestManager(t, b, store)

	require.Equal(t, StateLoggedIn, m.State())
	assert.True(t, m.User().Expired(time.Now()))
	assert.Equal(t, int32(0), b.refreshCalls.Load(), "restoring does not touch the network")

	renewed, err := m.Refresh(t.Context(), expired)
	require.NoError(t, err)
	assert.NotEqual(t, expired, renewed.Access)
	assert.Equal(t, "r", renewed.Refresh)
	assert.False(t, m.User().Expired(time.Now()))
	assert.Equal(t, StateLoggedIn, m.State())
}

func TestSubscribeSeesTransitions(t *testing.T) {
	b := newTestBackend(t)
	m := newTestManager(t, b, session.NewTokenStore(session.NewMemoryStorage()))

	var mu sync.Mutex
	var seen []EventType
	unsubscribe := m.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	require.NoError(t, m.Login(t.Context(), "ola", "secret"))
	_, err := m.Refresh(t.Context(), m.AccessToken())
	require.NoError(t, err)
	m.Logout(t.Context())

	unsubscribe()
	require.NoError(t, m.Login(t.Context(), "ola", "secret"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventLogin, EventRefresh, EventLogout}, seen)
}

func TestUserFromToken(t *testing.T) {
	u, err := UserFromToken(signToken(t, 42, "per", -time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.True(t, u.Expired(time.Now()))

	_, err = UserFromToken("not-a-jwt")
	require.Error(t, err)
	_, err = UserFromToken("")
	require.Error(t, err)
}
