package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	haieriot "github.com/baranwang/haier-iot"
)

type memTokenStore struct {
	mu    sync.Mutex
	saved map[string]*haieriot.TokenInfo
}

func (m *memTokenStore) LoadToken(username string) (*haieriot.TokenInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.saved[username]
	return tok, ok
}

func (m *memTokenStore) SaveToken(username string, tok *haieriot.TokenInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*haieriot.TokenInfo{}
	}
	m.saved[username] = tok
	return nil
}

func (m *memTokenStore) get(username string) *haieriot.TokenInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[username]
}

func TestTokenManagerAbandonedCallerStillPersists(t *testing.T) {
	st := &memTokenStore{}
	release := make(chan struct{})
	tm := NewTokenManager(TokenOptions{
		Username: "user",
		Store:    st,
		Logger:   testLogger(),
		Login: func(ctx context.Context) (*haieriot.TokenInfo, error) {
			<-release
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &haieriot.TokenInfo{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tm.AccessToken(ctx)
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	waitFor(t, time.Second, func() bool { return st.get("user") != nil }, "token persisted")
	tok, err := tm.AccessToken(context.Background())
	if err != nil || tok != "tok" {
		t.Fatalf("token = %q, %v", tok, err)
	}
}

func TestTokenManagerLoadAndInvalidate(t *testing.T) {
	mock := clock.NewMock()
	st := &memTokenStore{}
	_ = st.SaveToken("user", &haieriot.TokenInfo{AccessToken: "disk", ExpiresAt: mock.Now().Add(time.Minute).UnixMilli()})

	logins := 0
	tm := NewTokenManager(TokenOptions{
		Username: "user",
		Store:    st,
		Clock:    mock,
		Logger:   testLogger(),
		Login: func(context.Context) (*haieriot.TokenInfo, error) {
			logins++
			return &haieriot.TokenInfo{AccessToken: "fresh", ExpiresAt: mock.Now().Add(time.Hour).UnixMilli()}, nil
		},
	})
	if !tm.Load() {
		t.Fatalf("load failed")
	}
	if tok, _ := tm.AccessToken(context.Background()); tok != "disk" || logins != 0 {
		t.Fatalf("token = %s, logins = %d", tok, logins)
	}

	mock.Add(time.Minute)
	if tok, _ := tm.AccessToken(context.Background()); tok != "fresh" || logins != 1 {
		t.Fatalf("expired token not refreshed: %s, %d logins", tok, logins)
	}

	tm.Invalidate()
	if _, ok := tm.Token(); ok {
		t.Fatalf("token survived invalidate")
	}
	if tok, _ := tm.AccessToken(context.Background()); tok != "fresh" || logins != 2 {
		t.Fatalf("invalidate did not force login: %s, %d", tok, logins)
	}
}

func TestTokenManagerWrapsLoginFailure(t *testing.T) {
	tm := NewTokenManager(TokenOptions{
		Username: "user",
		Logger:   testLogger(),
		Login: func(context.Context) (*haieriot.TokenInfo, error) {
			return nil, &haieriot.TransportError{Endpoint: loginPath, Err: errors.New("connection refused")}
		},
	})
	_, err := tm.AccessToken(context.Background())
	var authErr *haieriot.AuthError
	var te *haieriot.TransportError
	if !errors.As(err, &authErr) || !errors.As(err, &te) {
		t.Fatalf("expected AuthError wrapping TransportError, got %v", err)
	}
}
