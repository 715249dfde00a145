// Package credentials stores provider secrets in the system keyring.
package credentials

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name under which intake secrets are stored.
	KeyringService = "intake"

	// AnthropicAPIKey names the Anthropic API key entry.
	AnthropicAPIKey = "anthropic-api-key"
)

// Known lists the secret names the CLI manages.
var Known = []string{AnthropicAPIKey}

var (
	// ErrKeyringUnavailable indicates the system keyring could not be reached.
	ErrKeyringUnavailable = errors.New("system keyring unavailable")

	// ErrNotFound indicates no secret is stored under the name.
	ErrNotFound = errors.New("credential not found")
)

// Store reads and writes named secrets.
type Store interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error

	// Description names the storage mechanism for user-facing messages.
	Description() string
}

// KeyringStore keeps secrets in the OS keyring (macOS Keychain, Windows
// Credential Manager, Linux Secret Service).
type KeyringStore struct {
	mu      sync.Mutex
	service string
}

// NewKeyringStore creates a store under KeyringService.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: KeyringService}
}

// Get returns the secret stored under name.
func (s *KeyringStore) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := keyring.Get(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

// Set stores value under name, replacing any previous value.
func (s *KeyringStore) Set(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("credential value is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := keyring.Set(s.service, name, value); err != nil {
		return fmt.Errorf("%w: storing %s: %v", ErrKeyringUnavailable, name, err)
	}
	return nil
}

// Delete removes the secret stored under name.
func (s *KeyringStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := keyring.Delete(s.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

// Description returns a description of the keyring backend.
func (s *KeyringStore) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// Resolve returns envValue when set, otherwise the secret stored under name.
// A missing or unreachable keyring entry yields "" and no error, so callers
// can report a missing key in their own terms.
func Resolve(store Store, name, envValue string) string {
	if v := strings.TrimSpace(envValue); v != "" {
		return v
	}
	if store == nil {
		return ""
	}
	v, err := store.Get(name)
	if err != nil {
		return ""
	}
	return v
}

// IsKnown reports whether name is a secret the CLI manages.
func IsKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
