// Package store provides verification session storage backends for LeadScreen.
//
// This file implements a SQLite-backed session store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/clinicontact/leadscreen/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists verification sessions in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite session store with the given DSN.
// The DSN should be a file path; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore: failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore: ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore: migrations applied")

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Create stores a new session under its identifier.
func (s *SQLiteStore) Create(session models.VerificationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO verification_sessions (id, study_id, code, payload, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.StudyID, session.Code, string(payload), session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.Create failed", "error", err, "id", session.ID)
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore.Create succeeded", "id", session.ID, "study", session.StudyID)
	return nil
}

// Get returns the session, or nil when unknown or expired.
func (s *SQLiteStore) Get(id string) (*models.VerificationSession, error) {
	var payload string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT payload, expires_at FROM verification_sessions WHERE id = ?`, id,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.Get query failed", "error", err, "id", id)
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

// Complete atomically consumes the session when the code matches. The
// transaction guarantees at most one caller deletes (and receives) the row.
func (s *SQLiteStore) Complete(id, code string) (*models.VerificationSession, models.CompletionStatus, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload, storedCode string
	var expiresAt time.Time
	err = tx.QueryRow(
		`SELECT payload, code, expires_at FROM verification_sessions WHERE id = ?`, id,
	).Scan(&payload, &storedCode, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.CompletionNotFound, nil
	}
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to query session %s: %w", id, err)
	}

	if s.now().After(expiresAt) {
		if _, err := tx.Exec(`DELETE FROM verification_sessions WHERE id = ?`, id); err != nil {
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

	res, err := tx.Exec(`DELETE FROM verification_sessions WHERE id = ? AND code = ?`, id, code)
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to commit: %w", err)
	}
	if affected == 0 {
		// Lost the race to another completion attempt.
		return nil, models.CompletionNotFound, nil
	}

	var session models.VerificationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, models.CompletionNotFound, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.Complete: session consumed", "id", id, "study", session.StudyID)
	return &session, models.CompletionMatched, nil
}

// Delete removes a session regardless of its state.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM verification_sessions WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore.Delete failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
