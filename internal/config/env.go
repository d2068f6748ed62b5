// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv loads .env/.env.local into the process environment if present.
// Missing files are not an error. Files are applied with Overload, so a
// value from a file replaces a variable already set in the process
// environment (and .env.local replaces .env), matching api_control's
// local-dev convenience behavior.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.local"}
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Overload(f); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("failed to load %s", f)
			}
			continue
		}
		loaded = append(loaded, f)
	}
	if logger != nil {
		if len(loaded) == 0 {
			logger.Debug("no local env files loaded; relying on process environment")
		} else {
			logger.Debugf("loaded env files: %s", strings.Join(loaded, ", "))
		}
	}
}

// GetEnv returns an environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt returns an integer environment variable or a default.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool returns a boolean environment variable or a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration returns a duration environment variable (Go duration
// syntax, e.g. "10m") or a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetLogLevel reads LOG_LEVEL from the environment.
func GetLogLevel() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// RequireEnv fetches a variable and exits the process if it is empty.
func RequireEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		logrus.Fatalf("environment variable %s is required but not set", key)
	}
	return v
}
