package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

// InitLogger initializes the structured logger for the process
func InitLogger(logLevel string, isDevelopment bool) *logrus.Logger {
	return newLogger(logLevel, isDevelopment, os.Stdout)
}

func newLogger(logLevel string, isDevelopment bool, out io.Writer) *logrus.Logger {
	log := logrus.New()

	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		logLevel = "info"
		if isDevelopment {
			logLevel = "debug"
		}
	}

	if level, err := logrus.ParseLevel(strings.ToLower(logLevel)); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithField("invalid_level", logLevel).Warn("Invalid log level, using INFO")
	}

	if !isDevelopment || strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	log.SetOutput(out)
	Logger = log
	return log
}

// GetLogger returns the global logger, creating a default one on first use
func GetLogger() *logrus.Logger {
	if Logger == nil {
		return InitLogger("info", false)
	}
	return Logger
}

// Discard returns an entry that drops everything; used by tests and library callers
// that pass no logger.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// WithService creates a logger with service context
func WithService(serviceName string) *logrus.Entry {
	return GetLogger().WithField("service", serviceName)
}

// WithRunContext tags every line of one optimization run
func WithRunContext(runID string, mode string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"run_id":       runID,
		"scoring_mode": mode,
	})
}

// WithComponent narrows an entry to a pipeline stage
func WithComponent(entry *logrus.Entry, component string) *logrus.Entry {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	return entry.WithField("component", component)
}

// WithHTTPContext creates a logger with HTTP request context
func WithHTTPContext(method, path, userAgent string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"http_method":     method,
		"http_path":       path,
		"http_user_agent": userAgent,
	})
}
