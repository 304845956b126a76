// Package store provides verification session storage backends for LeadScreen.
//
// Sessions are ephemeral by design: an in-memory store is the default, with
// SQLite and PostgreSQL backends available when pending verifications must
// survive restarts. Every backend guarantees that completing a session is
// atomic, so racing verification attempts on the same identifier consume the
// session exactly once.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/clinicontact/leadscreen/internal/models"
)

// DefaultSessionTTL bounds how long a pending verification may remain open.
// The original flow never expired sessions; 15 minutes is the documented
// default for the added TTL.
const DefaultSessionTTL = 15 * time.Minute

// ErrSessionExists is returned when creating a session with a taken identifier.
var ErrSessionExists = errors.New("session already exists")

// SessionRepo defines the verification session store contract.
//
// Complete performs the atomic consume: on a code match the session is
// removed and returned so the caller can trigger the one external recording;
// on a mismatch the session remains for retry; expired, already-completed,
// and unknown identifiers all report CompletionNotFound.
type SessionRepo interface {
	Create(session models.VerificationSession) error
	Get(id string) (*models.VerificationSession, error)
	Complete(id, code string) (*models.VerificationSession, models.CompletionStatus, error)
	Delete(id string) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
	TTL time.Duration
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSessionTTL overrides the default verification session TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use URL or key=value forms; everything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
