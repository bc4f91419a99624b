// Package logger provides structured, leveled logging shared by every
// LOOM component.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Fields carries structured context for a scoped log line, e.g. the room
// or client a message pertains to.
type Fields = logrus.Fields

// Init configures the logger from the environment. LOG_LEVEL selects
// verbosity (debug|info|warn|error, default info); LOG_FORMAT selects
// "json" or "text" (default text).
func Init() {
	base.SetOutput(os.Stderr)

	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
}

// WithFields returns an entry carrying structured context.
func WithFields(fields Fields) *logrus.Entry {
	return base.WithFields(fields)
}

// Debug logs a debug message (only if LOG_LEVEL=debug).
func Debug(format string, v ...interface{}) {
	base.Debugf(format, v...)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	base.Infof(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	base.Warnf(format, v...)
}

// Error logs an error message. Always emitted, never fatal.
func Error(format string, v ...interface{}) {
	base.Errorf(format, v...)
}
