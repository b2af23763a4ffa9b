package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"
	"time"
)

func TestSignDeterministic(t *testing.T) {
	a := Sign("/api/x?y=1", `{"a":1}`, "app", "key", 1700000000000)
	b := Sign("/api/x?y=1", `{"a":1}`, "app", "key", 1700000000000)
	if a != b {
		t.Fatalf("expected identical signatures, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestSignChangesWithEveryInput(t *testing.T) {
	base := Sign("/p?q=1", `{"a":1}`, "app", "key", 1)
	variants := map[string]string{
		"path":      Sign("/p2?q=1", `{"a":1}`, "app", "key", 1),
		"query":     Sign("/p?q=2", `{"a":1}`, "app", "key", 1),
		"body":      Sign("/p?q=1", `{"a":2}`, "app", "key", 1),
		"emptyBody": Sign("/p?q=1", "", "app", "key", 1),
		"timestamp": Sign("/p?q=1", `{"a":1}`, "app", "key", 2),
		"appKey":    Sign("/p?q=1", `{"a":1}`, "app", "key2", 1),
	}
	seen := map[string]string{base: "base"}
	for name, s := range variants {
		if prev, dup := seen[s]; dup {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[s] = name
	}
}

func TestSignIsSeparatorFreeConcatenation(t *testing.T) {
	sum := sha256.Sum256([]byte("/p?q=1{}appkey42"))
	want := hex.EncodeToString(sum[:])
	if got := Sign("/p?q=1", "{}", "app", "key", 42); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSequenceIDFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sn := SequenceID(ts)
	if !regexp.MustCompile(`^20240102110405\d{6}$`).MatchString(sn) {
		t.Fatalf("unexpected sequence id %q", sn)
	}
}
