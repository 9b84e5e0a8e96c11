package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// NewLogger creates a JSON logger at the given level. Unknown levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// NewServiceLogger returns an entry tagged with the service name.
func NewServiceLogger(serviceName, level string) *logrus.Entry {
	return NewLogger(level).WithField("service", serviceName)
}
