// Package store persists mailbox owners and their cached emails in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joshsymonds/gmailtriage/internal/model"
)

// ErrUserNotFound is returned when no user owns the requested identity.
var ErrUserNotFound = errors.New("user not found")

// SQLiteStore is the users/emails store backed by a local SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens or creates the database at dbPath, enables WAL and
// foreign keys, and applies pending migrations. ":memory:" is accepted for
// tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// Each connection to :memory: is a separate database.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// FetchUser returns the user owning identity or ErrUserNotFound.
func (s *SQLiteStore) FetchUser(ctx context.Context, identity string) (model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, email_identity, password_hash, created_at, updated_at FROM users WHERE email_identity = ?",
		identity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, identity)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("fetching user %s: %w", identity, err)
	}
	return u, nil
}

// CreateUser inserts a user and returns it with its assigned id.
func (s *SQLiteStore) CreateUser(ctx context.Context, identity, passwordHash string) (model.User, error) {
	if strings.TrimSpace(identity) == "" {
		return model.User{}, fmt.Errorf("user identity must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email_identity, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)",
		identity, passwordHash, now, now)
	if err != nil {
		return model.User{}, fmt.Errorf("creating user %s: %w", identity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("reading user id: %w", err)
	}
	return model.User{
		ID:            id,
		EmailIdentity: identity,
		PasswordHash:  passwordHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpsertEmails inserts emails or overwrites the cached copy with the same
// id. The last write wins.
func (s *SQLiteStore) UpsertEmails(ctx context.Context, emails []model.Email) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO emails (id, sender, subject, body, date, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender = excluded.sender,
			subject = excluded.subject,
			body = excluded.body,
			date = excluded.date,
			user_id = excluded.user_id`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range emails {
		if _, err := stmt.ExecContext(ctx, e.ID, e.From, e.Subject, e.Body, e.DateMillis, e.UserID); err != nil {
			return fmt.Errorf("upserting email %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// FetchEmailsForUser returns every cached email owned by identity, newest
// first. An unknown identity yields no emails.
func (s *SQLiteStore) FetchEmailsForUser(ctx context.Context, identity string) ([]model.Email, error) {
	var emails []model.Email
	err := s.db.SelectContext(ctx, &emails, `
		SELECT e.id, e.sender, e.subject, e.body, e.date, e.user_id
		FROM emails e
		JOIN users u ON u.id = e.user_id
		WHERE u.email_identity = ?
		ORDER BY e.date DESC, e.id`,
		identity)
	if err != nil {
		return nil, fmt.Errorf("fetching emails for %s: %w", identity, err)
	}
	return emails, nil
}
