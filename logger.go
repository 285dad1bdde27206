package netengine

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// The engine, its listeners, connectors and connections all log through the
// Logger handed to New; nothing in this package logs through a global.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// scopedLogger prepends args to every record.
type scopedLogger struct {
	Logger
	args []any
}

func (l scopedLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(l.args)+len(args)), l.args...), args...)
}

func (l scopedLogger) Debug(msg string, args ...any) { l.Logger.Debug(msg, l.with(args)...) }
func (l scopedLogger) Info(msg string, args ...any) { l.Logger.Info(msg, l.with(args)...) }
func (l scopedLogger) Warn(msg string, args ...any) { l.Logger.Warn(msg, l.with(args)...) }
func (l scopedLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.with(args)...) }

// loggerWith returns a logger that adds args to every record. *slog.Logger
// gets its own With so handlers can pre-format the attributes.
func loggerWith(logger Logger, args ...any) Logger {
	if sl, ok := logger.(*slog.Logger); ok {
		return sl.With(args...)
	}
	return scopedLogger{Logger: logger, args: args}
}
