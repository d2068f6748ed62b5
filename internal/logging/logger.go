// Package logging provides the structured logger shared by every component.
package logging

import (
	"github.com/sirupsen/logrus"

	"chatbroker/internal/config"
)

// Logger is the shared structured-logging handle.
type Logger = *logrus.Logger

// Fields is a set of structured logging fields.
type Fields = logrus.Fields

// Log levels re-exported so callers never import logrus directly.
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// New creates a configured logger instance. Level is read from LOG_LEVEL.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewWithComponent returns a logger configured exactly like New. The
// component argument is not attached to the returned logger: the
// WithField entry is discarded and only its base *logrus.Logger is
// returned, so log lines carry no "component" field.
func NewWithComponent(component string) *logrus.Logger {
	logger := New()
	return logger.WithField("component", component).Logger
}
