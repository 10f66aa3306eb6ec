package observability

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}[l]
}

func (l LogLevel) toLogrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured JSON logging backed by logrus.
// Loggers derived with WithField share the base logger, so SetLevel
// applies to every derived logger.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a new structured JSON logger
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(level.toLogrusLevel())
	base.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

// SetLevel changes the minimum level of this logger and everything derived from it
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.toLogrusLevel())
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.entry.Debug(message) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *Logger) Info(message string) { l.entry.Info(message) }

func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *Logger) Warn(message string) { l.entry.Warn(message) }

func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *Logger) Error(message string) { l.entry.Error(message) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Printf lets the logger stand in where a Printf-style logger is expected (cron, etc.)
func (l *Logger) Printf(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// NopLogger returns a logger that discards everything
func NopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger retrieves the logger from context
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext returns the context logger with request, user and trace fields attached
func FromContext(ctx context.Context) *Logger {
	logger := UpdateLoggerWithTraceContext(ctx, GetLogger(ctx))

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	if userID, ok := contextkeys.GetUserID(ctx); ok {
		logger = logger.WithField("user_id", userID)
	}

	return logger
}
