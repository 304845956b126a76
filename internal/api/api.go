// Package api provides HTTP handlers and the main API server logic for LeadScreen.
//
// It exposes endpoints for questionnaire submission, SMS code verification,
// and study form definitions. The API integrates the screening orchestrator,
// study config registry, session store, and external collaborator adapters.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinicontact/leadscreen/internal/board"
	"github.com/clinicontact/leadscreen/internal/config"
	"github.com/clinicontact/leadscreen/internal/geocode"
	"github.com/clinicontact/leadscreen/internal/ipinfo"
	"github.com/clinicontact/leadscreen/internal/models"
	"github.com/clinicontact/leadscreen/internal/rules"
	"github.com/clinicontact/leadscreen/internal/screening"
	"github.com/clinicontact/leadscreen/internal/sms"
	"github.com/clinicontact/leadscreen/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Processor is the orchestrator contract the HTTP layer depends on.
type Processor interface {
	ProcessSubmission(ctx context.Context, raw models.ApplicantAnswers, studyID, sourceIP string) models.Outcome
	CompleteVerification(ctx context.Context, submissionID, code string) (screening.VerifyResult, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	ConfigDir  string
	SessionTTL time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithConfigDir sets the study config directory.
func WithConfigDir(dir string) Option {
	return func(o *Opts) { o.ConfigDir = dir }
}

// WithSessionTTL sets the verification session TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// Server handles the LeadScreen HTTP surface.
type Server struct {
	addr      string
	processor Processor
	configs   *config.Registry
}

// NewServer creates a Server with the given orchestrator and config registry.
func NewServer(processor Processor, configs *config.Registry, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{addr: cfg.Addr, processor: processor, configs: configs}
}

// Handler returns the server's HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /qualify_form", s.qualifyFormHandler)
	mux.HandleFunc("POST /verify_code", s.verifyCodeHandler)
	mux.HandleFunc("GET /form/{study_id}", s.formHandler)
	return mux
}

// Serve starts the HTTP server and blocks until it exits.
func (s *Server) Serve() error {
	slog.Info("Server.Serve: LeadScreen API listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Run wires the full service from environment-backed adapters and starts the
// API server. Store options select the session backend; with none given the
// sessions stay in memory.
func Run(storeOpts []store.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = "configs"
	}

	sessions, err := buildSessionStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer sessions.Close()

	smsClient, err := sms.NewClient()
	if err != nil {
		return fmt.Errorf("failed to initialize SMS client: %w", err)
	}
	boardClient, err := board.NewClient()
	if err != nil {
		return fmt.Errorf("failed to initialize board client: %w", err)
	}
	geoClient, err := geocode.NewClient()
	if err != nil {
		return fmt.Errorf("failed to initialize geocoding client: %w", err)
	}

	registry := config.NewRegistry(cfg.ConfigDir)

	var procOpts []screening.Option
	if cfg.SessionTTL > 0 {
		procOpts = append(procOpts, screening.WithSessionTTL(cfg.SessionTTL))
	}
	processor := screening.NewProcessor(screening.Deps{
		Configs:    registry,
		Sessions:   sessions,
		Evaluator:  rules.New(),
		Duplicates: boardClient,
		Geocoder:   geoClient,
		IPLookup:   ipinfo.NewClient(),
		Sender:     smsClient,
		Recorder:   boardClient,
	}, procOpts...)

	server := NewServer(processor, registry, apiOpts...)
	return server.Serve()
}

// buildSessionStore selects the session backend from the configured DSN.
func buildSessionStore(storeOpts []store.Option) (store.SessionRepo, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("api: no session DSN configured, using in-memory session store")
		return store.NewMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("api: using PostgreSQL session store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("api: using SQLite session store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}
