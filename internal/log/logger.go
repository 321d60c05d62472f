package log

// Logger defines a common interface shared by logging engines.
type Logger interface {
	// Debug logs a debug message.
	Debug(format string, v ...interface{})

	// Info logs an informational message.
	Info(format string, v ...interface{})

	// Warn logs a warning message.
	Warn(format string, v ...interface{})

	// Error logs an error message.
	Error(format string, v ...interface{})

	// Level returns the currently configured logging level.
	Level() Level
}

// NopLogger discards every message. It reports Error as its level so that callers probing the
// level skip expensive formatting.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() Logger {
	return NopLogger{}
}

// Debug noops.
func (NopLogger) Debug(format string, v ...interface{}) {}

// Info noops.
func (NopLogger) Info(format string, v ...interface{}) {}

// Warn noops.
func (NopLogger) Warn(format string, v ...interface{}) {}

// Error noops.
func (NopLogger) Error(format string, v ...interface{}) {}

// Level always reports Error.
func (NopLogger) Level() Level {
	return Error
}
