// Package store persists the session token and the installation client id.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	haieriot "github.com/baranwang/haier-iot"
)

const dirName = ".hb-haier"

// Store reads and writes files under <root>/.hb-haier.
type Store struct {
	dir   string
	clock clock.Clock
}

// New returns a store rooted at root. A nil clock uses the wall clock.
func New(root string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{dir: filepath.Join(root, dirName), clock: clk}
}

// Dir is the .hb-haier directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) tokenPath(username string) string {
	return filepath.Join(s.dir, "token", username+".json")
}

// LoadToken returns the persisted token for username. A missing, unreadable
// or malformed file yields ok == false, as does expiresAt <= now. Usability
// of the token itself is left to the caller.
func (s *Store) LoadToken(username string) (*haieriot.TokenInfo, bool) {
	b, err := os.ReadFile(s.tokenPath(username))
	if err != nil {
		return nil, false
	}
	var tok haieriot.TokenInfo
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, false
	}
	if s.clock.Now().UnixMilli() >= tok.ExpiresAt {
		return nil, false
	}
	return &tok, true
}

// SaveToken writes the token for username, creating directories as needed.
func (s *Store) SaveToken(username string, tok *haieriot.TokenInfo) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.tokenPath(username), b)
}

// LoadOrCreateClientID reads the client-id file, generating and persisting a
// new UUID when it is absent. created tells the caller to discard any token
// bound to a previous client id.
func (s *Store) LoadOrCreateClientID() (id string, created bool, err error) {
	p := filepath.Join(s.dir, "client-id")
	b, err := os.ReadFile(p)
	if err == nil {
		if id = strings.TrimSpace(string(b)); id != "" {
			return id, false, nil
		}
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("read client id: %w", err)
	}
	id = uuid.NewString()
	if err := writeFileAtomic(p, []byte(id)); err != nil {
		return "", false, fmt.Errorf("write client id: %w", err)
	}
	return id, true, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
