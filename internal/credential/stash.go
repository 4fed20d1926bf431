// Package credential keeps generated endpoint passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "gmailtriage"

// ErrNotFound is returned by Load when no password is stored for a user.
var ErrNotFound = errors.New("credential not found")

// Stash stores one password per mailbox identity.
type Stash struct {
	ring keyring.Keyring
}

// Open returns a Stash on the first usable system backend. fileDir is the
// fallback location for the encrypted file backend.
func Open(fileDir string) (*Stash, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("gmailtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Stash{ring: ring}, nil
}

// NewStash wraps an existing keyring.
func NewStash(ring keyring.Keyring) *Stash {
	return &Stash{ring: ring}
}

// Save stores password under identity, replacing any previous value.
func (s *Stash) Save(identity, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         identity,
		Data:        []byte(password),
		Label:       "gmailtriage endpoint password",
		Description: "basic-auth password for " + identity,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", identity, err)
	}
	return nil
}

// Load returns the password stored under identity.
func (s *Stash) Load(identity string) (string, error) {
	item, err := s.ring.Get(identity)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", identity, err)
	}
	return string(item.Data), nil
}
