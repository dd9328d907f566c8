// Package adminsession implements the credential-gated admin dashboard
// session: a locally persisted flag with an issuance timestamp and a fixed
// validity window, independent of the primary identity system.
package adminsession

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Status string

const (
	StatusAbsent  Status = "absent"
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
)

// ErrCredentialMismatch is returned by Grant for a wrong username/password
// pair. No state changes on mismatch; there is no lockout or backoff.
var ErrCredentialMismatch = errors.New("invalid admin credentials")

type flagRecord struct {
	Present    bool  `json:"present"`
	IssuedAtMs int64 `json:"issued_at_ms"`
}

// Guard persists the admin session flag to a local JSON file. The expiry is
// checked lazily on each access, not by a timer; an expired flag is cleared
// as a side effect of the check that observes it.
type Guard struct {
	path     string
	username string
	password string
	ttl      time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewGuard(path, username, password string, ttl time.Duration) *Guard {
	return &Guard{
		path:     path,
		username: username,
		password: password,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Grant checks the credential pair and, on match, persists the flag with the
// current issuance timestamp. A mismatch returns ErrCredentialMismatch and
// leaves any existing flag untouched.
func (g *Guard) Grant(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1
	if !userOK || !passOK {
		return ErrCredentialMismatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.write(flagRecord{Present: true, IssuedAtMs: g.now().UnixMilli()})
}

// Check reports the session status. Expired flags are cleared, so an expired
// session reports StatusExpired exactly once and StatusAbsent afterwards.
func (g *Guard) Check() (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, err := g.read()
	if err != nil {
		return StatusAbsent, err
	}
	if record == nil || !record.Present {
		return StatusAbsent, nil
	}

	issuedAt := time.UnixMilli(record.IssuedAtMs)
	if g.now().Sub(issuedAt) > g.ttl {
		if err := g.clear(); err != nil {
			return StatusExpired, err
		}
		return StatusExpired, nil
	}
	return StatusValid, nil
}

// Logout clears the flag regardless of its current state.
func (g *Guard) Logout() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clear()
}

func (g *Guard) read() (*flagRecord, error) {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read admin session flag: %w", err)
	}
	var record flagRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt flag file is treated as absent rather than locking
		// admins out permanently.
		return nil, nil
	}
	return &record, nil
}

func (g *Guard) write(record flagRecord) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("create admin session dir: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal admin session flag: %w", err)
	}
	if err := os.WriteFile(g.path, data, 0o600); err != nil {
		return fmt.Errorf("write admin session flag: %w", err)
	}
	return nil
}

func (g *Guard) clear() error {
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear admin session flag: %w", err)
	}
	return nil
}
