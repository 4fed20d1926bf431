// Package ingest copies the newest inbox messages into the local store so
// rule-sets can be evaluated without reading the mailbox.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/gmailtriage/internal/auth"
	"github.com/joshsymonds/gmailtriage/internal/gmail"
	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/rate"
	"github.com/joshsymonds/gmailtriage/internal/store"
)

// DefaultLimit is the number of inbox messages read per run.
const DefaultLimit = 10

// Store is what ingestion needs from the persistence layer.
type Store interface {
	FetchUser(ctx context.Context, identity string) (model.User, error)
	CreateUser(ctx context.Context, identity, passwordHash string) (model.User, error)
	UpsertEmails(ctx context.Context, emails []model.Email) error
}

// PasswordSink receives the password generated for a new user.
type PasswordSink interface {
	Save(identity, password string) error
}

type Service struct {
	Client  gmail.Client
	Store   Store
	Rate    rate.Limiter
	Log     *slog.Logger
	Limit   int
	Secrets PasswordSink // optional
	// NewPassword generates the password of a first-time user.
	NewPassword func() (string, error)
}

// Result summarizes one ingestion run. Password is set only when the user
// was created by this run; it is not recoverable afterwards.
type Result struct {
	Identity string
	Stored   int
	Skipped  int
	Password string
}

func NewService(client gmail.Client, st Store, limiter rate.Limiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = rate.None{}
	}
	return &Service{
		Client:      client,
		Store:       st,
		Rate:        limiter,
		Log:         logger,
		Limit:       DefaultLimit,
		NewPassword: auth.GeneratePassword,
	}
}

// Run resolves the mailbox owner, ensures a user row exists, and upserts up
// to Limit inbox messages. A message that cannot be fetched or parsed is
// logged and skipped; a store failure aborts the run.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if err := s.Rate.Wait(ctx); err != nil {
		return Result{}, err
	}
	identity, err := s.Client.Profile(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve mailbox: %w", err)
	}
	res := Result{Identity: identity}
	log := s.Log.With("identity", identity)

	user, password, err := s.ensureUser(ctx, identity)
	if err != nil {
		return res, err
	}
	res.Password = password

	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := s.Rate.Wait(ctx); err != nil {
		return res, err
	}
	ids, err := s.Client.ListInbox(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list inbox: %w", err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	emails := make([]model.Email, 0, len(ids))
	for _, id := range ids {
		if err := s.Rate.Wait(ctx); err != nil {
			return res, err
		}
		raw, err := s.Client.GetRaw(ctx, id)
		if err != nil {
			log.Warn("skipping message", "message_id", id, "err", err)
			res.Skipped++
			continue
		}
		p, err := parseMessage(raw.Data)
		if err != nil {
			log.Warn("skipping unparseable message", "message_id", id, "err", err)
			res.Skipped++
			continue
		}
		emails = append(emails, model.Email{
			ID:         string(id),
			From:       p.From,
			Subject:    p.Subject,
			Body:       p.Body,
			DateMillis: raw.InternalDate,
			UserID:     user.ID,
		})
	}

	if err := s.Store.UpsertEmails(ctx, emails); err != nil {
		return res, fmt.Errorf("store emails: %w", err)
	}
	res.Stored = len(emails)
	log.Info("ingested", "stored", res.Stored, "skipped", res.Skipped)
	return res, nil
}

func (s *Service) ensureUser(ctx context.Context, identity string) (model.User, string, error) {
	user, err := s.Store.FetchUser(ctx, identity)
	if err == nil {
		return user, "", nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return model.User{}, "", fmt.Errorf("load user: %w", err)
	}

	gen := s.NewPassword
	if gen == nil {
		gen = auth.GeneratePassword
	}
	password, err := gen()
	if err != nil {
		return model.User{}, "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return model.User{}, "", err
	}
	user, err = s.Store.CreateUser(ctx, identity, hash)
	if err != nil {
		return model.User{}, "", fmt.Errorf("create user: %w", err)
	}
	if s.Secrets != nil {
		if err := s.Secrets.Save(identity, password); err != nil {
			s.Log.Warn("could not stash password", "identity", identity, "err", err)
		}
	}
	s.Log.Info("created user", "identity", identity)
	return user, password, nil
}
