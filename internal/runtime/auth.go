// internal/runtime/auth.go
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/gmailtriage/internal/gmail"
)

// ErrAuthFailed is wrapped by every Authenticator error. Callers map it to an
// unauthorized response before any mailbox call is made.
var ErrAuthFailed = errors.New("mailbox authentication failed")

// MailboxScope covers reading raw messages and changing their labels.
const MailboxScope = gmail.GmailModifyScope

// Authenticator yields a mailbox capability for the configured account.
type Authenticator interface {
	Authenticate(ctx context.Context) (gc.Client, error)
}

// LocalCredAuthenticator reuses gmailctl's credentials.json/token.json layout
// under Dir. gmailctl authorizes its own token with the labels and
// settings.basic scopes only, so the token.json under Dir must have been
// granted gmail.modify for any action or ingestion to succeed.
type LocalCredAuthenticator struct {
	Dir     string
	Timeout time.Duration
}

func (a LocalCredAuthenticator) Authenticate(ctx context.Context) (gc.Client, error) {
	svc, err := (localcred.Provider{}).Service(ctx, a.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return NewGoogleAPIClient(svc, a.Timeout), nil
}

// TokenFileAuthenticator reads an OAuth client from CredentialsPath and a
// previously authorized token from TokenPath. A refreshed token is written
// back to TokenPath.
type TokenFileAuthenticator struct {
	CredentialsPath string
	TokenPath       string
	Timeout         time.Duration
	Log             *slog.Logger
}

func (a TokenFileAuthenticator) Authenticate(ctx context.Context) (gc.Client, error) {
	b, err := os.ReadFile(a.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials: %w", ErrAuthFailed, err)
	}
	cfg, err := google.ConfigFromJSON(b, MailboxScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %w", ErrAuthFailed, err)
	}
	tok, err := tokenFromFile(a.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read token: %w", ErrAuthFailed, err)
	}

	ts := cfg.TokenSource(ctx, tok)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", ErrAuthFailed, err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := saveToken(a.TokenPath, fresh); err != nil && a.Log != nil {
			a.Log.Warn("could not persist refreshed token", "path", a.TokenPath, "err", err)
		}
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(fresh, ts)))
	if err != nil {
		return nil, fmt.Errorf("%w: gmail service: %w", ErrAuthFailed, err)
	}
	return NewGoogleAPIClient(svc, a.Timeout), nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// NewAuthenticator picks an Authenticator by mode: "tokenfile" (default),
// which requests gmail.modify, or "localcred".
func NewAuthenticator(mode, dir, credentialsPath, tokenPath string, timeout time.Duration, log *slog.Logger) (Authenticator, error) {
	switch mode {
	case "localcred":
		return LocalCredAuthenticator{Dir: dir, Timeout: timeout}, nil
	case "", "tokenfile":
		if credentialsPath == "" {
			credentialsPath = filepath.Join(dir, "credentials.json")
		}
		if tokenPath == "" {
			tokenPath = filepath.Join(dir, "token.json")
		}
		return TokenFileAuthenticator{CredentialsPath: credentialsPath, TokenPath: tokenPath, Timeout: timeout, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// DefaultLogger returns a text logger on stderr at the named level
// (debug, info, warn, error). Unknown names fall back to info.
func DefaultLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
