// Package auth owns the client session: login, logout and coalesced token
// refresh, plus change notification for everything that renders user state.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

// Backend endpoints used by the manager.
const (
	TokenPath   = "/api/token/"
	RefreshPath = "/api/token/refresh/"
)

// State is the session lifecycle state.
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateLoggedIn:
		return "logged_in"
	case StateRefreshing:
		return "refreshing"
	default:
		return "logged_out"
	}
}

// EventType names a session transition.
type EventType string

const (
	EventLogin   EventType = "login"
	EventRefresh EventType = "refresh"
	EventLogout  EventType = "logout"
	EventRestore EventType = "restore"
)

// Event is delivered to subscribers after every transition.
type Event struct {
	Type  EventType
	State State
	User  User
}

// Snapshot is a consistent view of the manager.
type Snapshot struct {
	State   State
	Session session.Session
	User    User
}

// Config configures a Manager.
type Config struct {
	BaseURL string
	HTTP    *httpclient.Client
	Store   session.Store
	Metrics *metrics.ClientMetrics // optional
}

// Manager is the auth context shared by the fetch layer and all services.
// Safe for concurrent use.
type Manager struct {
	baseURL string
	http    *httpclient.Client
	store   session.Store
	metrics *metrics.ClientMetrics
	log     logger.Logger

	mu      sync.RWMutex
	state   State
	current session.Session
	user    User

	refreshGroup singleflight.Group

	subMu   sync.Mutex
	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewManager creates a Manager and seeds it from the persisted session, if any.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.Newf("auth: session store is required").
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(nil)
	}
	m := &Manager{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTP,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		log:     logger.Global().Module("auth"),
		subs:    make(map[uint64]func(Event)),
	}
	if _, err := m.Restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore loads the persisted session into memory. It reports whether a
// session was found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	s, ok, err := m.store.Load(ctx)
	if err != nil {
		return false, errors.New(err).Component("auth").Category(errors.CategoryDatabase).Build()
	}
	if !ok {
		return false, nil
	}

	user, err := UserFromToken(s.Access)
	if err != nil {
		m.log.Warn("stored access token has unreadable claims", logger.Error(err))
	}
	// The refresh token usually outlives the access token; the first
	// request renews it through the usual 401 path.
	if user.Expired(time.Now()) {
		m.log.Info("stored access token has expired, it will be renewed on first use",
			logger.Time("expires_at", user.ExpiresAt))
	}

	m.mu.Lock()
	m.current = s
	m.user = user
	m.state = StateLoggedIn
	m.mu.Unlock()

	m.log.Info("session restored", logger.String("username", user.Username))
	m.notify(Event{Type: EventRestore, State: StateLoggedIn, User: user})
	return true, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns state, session and user read under one lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, Session: m.current, User: m.user}
}

// IsAuthenticated reports whether a session is held.
func (m *Manager) IsAuthenticated() bool {
	return m.State() != StateLoggedOut
}

// AccessToken returns the access token at call time, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Access
}

// User returns the identity decoded from the current access token.
func (m *Manager) User() User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a session. On failure the state is left
// unchanged.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return errors.ValidationError("username and password are required")
	}

	var pair tokenPair
	if err := m.post(ctx, TokenPath, credentials{Username: username, Password: password}, &pair); err != nil {
		m.log.Warn("login rejected", logger.String("username", username), logger.Error(err))
		return err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return errors.Newf("token response is missing access or refresh token").
			Component("auth").
			Category(errors.CategoryAuth).
			Build()
	}

	s := session.Session{Access: pair.Access, Refresh: pair.Refresh}
	if err := m.store.Save(ctx, s); err != nil {
		return errors.New(err).Component("auth").Category(errors.CategoryDatabase).Build()
	}

	user, err := UserFromToken(s.Access)
	if err != nil {
		m.log.Warn("access token has unreadable claims", logger.Error(err))
	}
	if user.Username == "" {
		user.Username = username
	}

	m.mu.Lock()
	m.current = s
	m.user = user
	m.state = StateLoggedIn
	m.mu.Unlock()

	m.log.Info("logged in", logger.String("username", user.Username))
	m.notify(Event{Type: EventLogin, State: StateLoggedIn, User: user})
	return nil
}

// Logout drops the session locally. It needs no backend confirmation and
// always succeeds; a failure to clear storage is only logged.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("failed to clear stored session", logger.Error(err))
	}

	m.mu.Lock()
	wasLoggedIn := m.state != StateLoggedOut
	m.current = session.Session{}
	m.user = User{}
	m.state = StateLoggedOut
	m.mu.Unlock()

	if wasLoggedIn {
		m.metrics.RecordLogout()
		m.log.Info("logged out")
	}
	m.notify(Event{Type: EventLogout, State: StateLoggedOut})
}

// Refresh renews the session that was current when staleAccess was sent.
//
// Concurrent callers share one backend call. A caller whose staleAccess has
// already been replaced receives the current session without any network
// call. If the backend rejects the refresh the session is logged out and an
// AuthError is returned.
func (m *Manager) Refresh(ctx context.Context, staleAccess string) (session.Session, error) {
	if s, done, err := m.superseded(staleAccess); done {
		return s, err
	}

	// The shared call must not die with whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refresh(flightCtx, staleAccess)
	})
	if shared {
		m.log.Debug("joined in-flight session refresh")
	}
	if err != nil {
		return session.Session{}, err
	}
	return v.(session.Session), nil
}

// superseded answers a refresh request from memory when possible.
func (m *Manager) superseded(staleAccess string) (session.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateLoggedOut || m.current.Refresh == "" {
		return session.Session{}, true, api.NewAuthError(api.ErrNotLoggedIn)
	}
	if staleAccess != "" && m.current.Access != staleAccess {
		return m.current, true, nil
	}
	return session.Session{}, false, nil
}

func (m *Manager) refresh(ctx context.Context, staleAccess string) (session.Session, error) {
	// Re-check inside the flight: a previous flight may have finished
	// between the caller's check and joining the group.
	if s, done, err := m.superseded(staleAccess); done {
		return s, err
	}

	m.mu.Lock()
	old := m.current
	m.state = StateRefreshing
	m.mu.Unlock()

	var pair tokenPair
	if err := m.post(ctx, RefreshPath, map[string]string{"refresh": old.Refresh}, &pair); err != nil || pair.Access == "" {
		if err == nil {
			err = errors.NewStd("refresh response has no access token")
		}
		m.metrics.RecordRefresh(metrics.ResultError)
		m.log.Warn("session refresh failed, logging out", logger.Error(err))
		m.Logout(ctx)
		return session.Session{}, api.NewAuthError(err)
	}

	renewed := session.Session{Access: pair.Access, Refresh: pair.Refresh}
	if renewed.Refresh == "" {
		renewed.Refresh = old.Refresh
	}

	// Memory is authoritative after a refresh; persistence is best effort.
	if err := m.store.Save(ctx, renewed); err != nil {
		m.log.Error("failed to persist refreshed session", logger.Error(err))
	}

	user, err := UserFromToken(renewed.Access)
	if err != nil {
		m.log.Warn("refreshed access token has unreadable claims", logger.Error(err))
	}

	m.mu.Lock()
	if user.Username == "" {
		user.Username = m.user.Username
	}
	m.current = renewed
	m.user = user
	m.state = StateLoggedIn
	m.mu.Unlock()

	m.metrics.RecordRefresh(metrics.ResultSuccess)
	m.log.Debug("session refreshed", logger.String("username", user.Username))
	m.notify(Event{Type: EventRefresh, State: StateLoggedIn, User: user})
	return renewed, nil
}

// Subscribe registers fn for every transition. The returned function removes it.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) notify(ev Event) {
	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// post sends an unauthenticated JSON request to the token endpoints.
func (m *Manager) post(ctx context.Context, path string, body, out any) error {
	target := m.baseURL + path
	resp, err := m.http.Post(ctx, target, "application/json", body)
	if err != nil {
		return errors.NetworkError(&api.NetworkError{URL: target, Err: err}, target, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := api.CheckResponse(resp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(err).Component("auth").Category(errors.CategoryFileParsing).Build()
	}
	return nil
}
