package logrusadapter

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger implements the surgekit logger interfaces using logrus
type LogrusLogger struct {
	logger *logrus.Logger
}

// New creates a new LogrusLogger. If nil is passed, uses the standard logrus logger.
func New(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{
		logger: l,
	}
}

// Debugf logs a debug-level message
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warnf logs a warning-level message
func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Errorf logs an error-level message
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}
