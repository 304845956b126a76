// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"time"
)

// ParseDurationEnv parses a duration environment variable with a default value.
// Invalid values return the default with a warning.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("ParseDurationEnv: invalid duration value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}
