package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	haieriot "github.com/baranwang/haier-iot"
)

// TokenStore persists tokens per username.
type TokenStore interface {
	LoadToken(username string) (*haieriot.TokenInfo, bool)
	SaveToken(username string, tok *haieriot.TokenInfo) error
}

// LoginFunc performs the login call and returns a token with ExpiresAt set.
type LoginFunc func(ctx context.Context) (*haieriot.TokenInfo, error)

// TokenManager caches the access token and coalesces concurrent refreshes
// into a single login.
type TokenManager struct {
	username string
	store    TokenStore
	login    LoginFunc
	clock    clock.Clock
	log      logrus.FieldLogger

	mu    sync.RWMutex
	token *haieriot.TokenInfo

	flight singleflight.Group
}

type TokenOptions struct {
	Username string
	Store    TokenStore
	Login    LoginFunc
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

func NewTokenManager(o TokenOptions) *TokenManager {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return &TokenManager{
		username: o.Username,
		store:    o.Store,
		login:    o.Login,
		clock:    o.Clock,
		log:      o.Logger.WithField("component", "tokens"),
	}
}

// SetLogin wires the login call after construction.
func (m *TokenManager) SetLogin(fn LoginFunc) { m.login = fn }

// Load restores a persisted, unexpired token into memory.
func (m *TokenManager) Load() bool {
	if m.store == nil {
		return false
	}
	tok, ok := m.store.LoadToken(m.username)
	if !ok {
		return false
	}
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return true
}

// Invalidate drops the in-memory token; the next call logs in again.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Token returns a copy of the cached token, if any.
func (m *TokenManager) Token() (haieriot.TokenInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return haieriot.TokenInfo{}, false
	}
	return *m.token, true
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token.Valid(m.clock.Now()) {
		return m.token.AccessToken, true
	}
	return "", false
}

// AccessToken returns the cached token without network access while it is
// valid. Otherwise it logs in, persists the result and returns it. A caller
// whose ctx ends stops waiting, but the login in flight still completes.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	ch := m.flight.DoChan("login", func() (interface{}, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	if m.login == nil {
		return "", &haieriot.AuthError{Err: errors.New("no login configured")}
	}
	m.log.Info("logging in")
	tok, err := m.login(ctx)
	if err != nil {
		m.log.WithError(err).Error("login failed")
		var authErr *haieriot.AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &haieriot.AuthError{Err: err}
	}
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.SaveToken(m.username, tok); err != nil {
			m.log.WithError(err).Warn("persist token")
		}
	}
	return tok.AccessToken, nil
}
