package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clinicontact/leadscreen/internal/api"
	"github.com/clinicontact/leadscreen/internal/store"
	"github.com/clinicontact/leadscreen/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultConfigDir is the default directory holding study config files
	DefaultConfigDir = "configs"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping LeadScreen with configured modules")
	slog.Debug("Final configuration", "config_dir", *flags.configDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "session_ttl", *flags.sessionTTL)
	if err := api.Run(storeOpts, apiOpts); err != nil {
		slog.Error("LeadScreen failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadScreen exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	ConfigDir   string
	APIAddr     string
	SessionTTL  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	configDir  *string
	dbDSN      *string
	apiAddr    *string
	sessionTTL *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ConfigDir:   os.Getenv("CONFIG_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		SessionTTL:  util.ParseDurationEnv("SESSION_TTL", store.DefaultSessionTTL),
	}

	// Set default config directory if not specified
	if config.ConfigDir == "" {
		config.ConfigDir = DefaultConfigDir
		slog.Debug("No CONFIG_DIR set, using default", "default_config_dir", config.ConfigDir)
	} else {
		slog.Debug("CONFIG_DIR found in environment", "config_dir", config.ConfigDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CONFIG_DIR", config.ConfigDir,
		"API_ADDR", config.APIAddr,
		"SESSION_TTL", config.SessionTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		configDir:  flag.String("config-dir", config.ConfigDir, "directory holding study config files (overrides $CONFIG_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sessionTTL: flag.Duration("session-ttl", config.SessionTTL, "verification session lifetime (overrides $SESSION_TTL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"configDir", *flags.configDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"sessionTTL", *flags.sessionTTL)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure the parent directory exists if we're using a file-based DSN
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs session store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL session store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite session store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory session store")
	}
	if *flags.sessionTTL > 0 {
		storeOpts = append(storeOpts, store.WithSessionTTL(*flags.sessionTTL))
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.configDir != "" {
		apiOpts = append(apiOpts, api.WithConfigDir(*flags.configDir))
	}
	if *flags.sessionTTL > 0 {
		apiOpts = append(apiOpts, api.WithSessionTTL(*flags.sessionTTL))
	}
	return apiOpts
}
