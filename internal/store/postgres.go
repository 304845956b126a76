// Package store provides verification session storage backends for LeadScreen.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/clinicontact/leadscreen/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists verification sessions in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres session store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore: failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore: migrations applied")

	return &PostgresStore{db: db, now: time.Now}, nil
}

// Create stores a new session under its identifier.
func (s *PostgresStore) Create(session models.VerificationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO verification_sessions (id, study_id, code, payload, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.StudyID, session.Code, string(payload), session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		slog.Error("PostgresStore.Create failed", "error", err, "id", session.ID)
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore.Create succeeded", "id", session.ID, "study", session.StudyID)
	return nil
}

// Get returns the session, or nil when unknown or expired.
func (s *PostgresStore) Get(id string) (*models.VerificationSession, error) {
	var payload string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT payload, expires_at FROM verification_sessions WHERE id = $1`, id,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.Get query failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	if s.now().After(expiresAt) {
		_ = s.Delete(id)
		return nil, nil
	}
	var session models.VerificationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Complete atomically consumes the session when the code matches. The row
// lock taken by FOR UPDATE serializes racing completion attempts so at most
// one caller deletes (and receives) the session.
func (s *PostgresStore) Complete(id, code string) (*models.VerificationSession, models.CompletionStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload, storedCode string
	var expiresAt time.Time
	err = tx.QueryRow(
		`SELECT payload, code, expires_at FROM verification_sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&payload, &storedCode, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.CompletionNotFound, nil
	}
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to query session %s: %w", id, err)
	}

	if s.now().After(expiresAt) {
		if _, err := tx.Exec(`DELETE FROM verification_sessions WHERE id = $1`, id); err != nil {
			return nil, models.CompletionNotFound, fmt.Errorf("failed to drop expired session %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, models.CompletionNotFound, fmt.Errorf("failed to commit: %w", err)
		}
		return nil, models.CompletionNotFound, nil
	}

	if storedCode != code {
		return nil, models.CompletionMismatched, nil
	}

	if _, err := tx.Exec(`DELETE FROM verification_sessions WHERE id = $1`, id); err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to commit: %w", err)
	}

	var session models.VerificationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	slog.Debug("PostgresStore.Complete: session consumed", "id", id, "study", session.StudyID)
	return &session, models.CompletionMatched, nil
}

// Delete removes a session regardless of its state.
func (s *PostgresStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM verification_sessions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore.Delete failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
