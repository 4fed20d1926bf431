// Package auth verifies basic-auth callers against stored bcrypt hashes.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/store"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PasswordLength is the length of generated passwords.
const PasswordLength = 8

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GeneratePassword returns a random password of PasswordLength characters
// drawn from letters, digits and punctuation.
func GeneratePassword() (string, error) {
	out := make([]byte, PasswordLength)
	limit := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// UserSource looks up users by mailbox identity.
type UserSource interface {
	FetchUser(ctx context.Context, identity string) (model.User, error)
}

// Verifier checks basic-auth credentials against a UserSource.
type Verifier struct {
	Users UserSource
}

// VerifyCredentials returns nil when username names a stored user whose hash
// matches password. Store failures other than a missing user are wrapped and
// returned.
func (v Verifier) VerifyCredentials(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	u, err := v.Users.FetchUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("verify credentials: %w", err)
	}
	if !VerifyPassword(u.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	return nil
}
