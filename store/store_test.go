package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	haieriot "github.com/baranwang/haier-iot"
)

func TestTokenRoundTripAndExpiry(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_000_000))
	s := New(t.TempDir(), clk)

	if _, ok := s.LoadToken("alice"); ok {
		t.Fatalf("expected no token before save")
	}
	tok := &haieriot.TokenInfo{AccessToken: "tk", ExpiresIn: 10, ExpiresAt: 1_010_000}
	if err := s.SaveToken("alice", tok); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := s.LoadToken("alice")
	if !ok || got.AccessToken != "tk" || got.ExpiresAt != 1_010_000 {
		t.Fatalf("unexpected token %+v ok=%v", got, ok)
	}

	clk.Set(time.UnixMilli(1_009_999))
	if _, ok := s.LoadToken("alice"); !ok {
		t.Fatalf("token should still be valid 1ms before expiry")
	}
	clk.Set(time.UnixMilli(1_010_000))
	if _, ok := s.LoadToken("alice"); ok {
		t.Fatalf("token must be absent when expiresAt <= now")
	}
}

func TestLoadTokenOnlyChecksExpiry(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_000_000))
	s := New(t.TempDir(), clk)
	if err := s.SaveToken("dave", &haieriot.TokenInfo{RefreshToken: "r", ExpiresAt: 2_000_000}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := s.LoadToken("dave")
	if !ok || got.RefreshToken != "r" || got.AccessToken != "" {
		t.Fatalf("unexpired token must load, got %+v ok=%v", got, ok)
	}
}

func TestLoadTokenInvalidJSON(t *testing.T) {
	s := New(t.TempDir(), nil)
	p := s.tokenPath("bob")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.LoadToken("bob"); ok {
		t.Fatalf("malformed token file must be treated as absent")
	}
}

func TestTokenPathLayout(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	if err := s.SaveToken("carol", &haieriot.TokenInfo{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".hb-haier", "token", "carol.json")); err != nil {
		t.Fatalf("token file missing: %v", err)
	}
}

func TestClientIDCreatedOnce(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	id, created, err := s.LoadOrCreateClientID()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || id == "" {
		t.Fatalf("expected a freshly created id, got %q created=%v", id, created)
	}
	again, created, err := s.LoadOrCreateClientID()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if created || again != id {
		t.Fatalf("expected stable id %q, got %q created=%v", id, again, created)
	}
	b, err := os.ReadFile(filepath.Join(root, ".hb-haier", "client-id"))
	if err != nil || string(b) != id {
		t.Fatalf("client-id file content %q err=%v", b, err)
	}
}
