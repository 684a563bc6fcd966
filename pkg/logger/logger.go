// Package logger provides the logging interface shared by every warpnet
// component. Backends include plain console output, zap and test doubles.
// Loggers are split into categories ("init", "network", "cookies", ...)
// through Named, mirroring how the interception layer reports what it does.
package logger

import (
	"fmt"
	"log"
	"sync"
)

// Logger defines the interface for leveled, categorized logging.
// Cookie values and credentials must never be passed to any method.
type Logger interface {
	// Debug logs a diagnostic message (e.g., "Initializing gateway").
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "Control server listening").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "Skipping malformed cookie line").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "Saving cookies failed").
	Error(format string, args ...interface{})

	// Named returns a logger that tags every message with category.
	Named(category string) Logger

	// Close releases resources held by the logger.
	// Safe to call multiple times. Returns nil for loggers without resources.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger   *log.Logger
	category string
	debug    bool
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug messages are dropped unless debug is true.
func NewStandardLogger(l *log.Logger, debug bool) *StandardLogger {
	return &StandardLogger{logger: l, debug: debug}
}

func (s *StandardLogger) printf(level, format string, args ...interface{}) {
	if s.category != "" {
		format = s.category + ": " + format
	}
	s.logger.Printf("["+level+"] "+format, args...)
}

// Debug logs a diagnostic message with [DEBUG] prefix when debug output is enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.printf("DEBUG", format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.printf("INFO", format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.printf("WARNING", format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.printf("ERROR", format, args...)
}

// Named returns a copy of the logger writing under the given category.
// Nested names are joined with a dot.
func (s *StandardLogger) Named(category string) Logger {
	c := *s
	if c.category != "" {
		c.category += "." + category
	} else {
		c.category = category
	}
	return &c
}

// Close is a no-op for StandardLogger (no resources to release).
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}

// Named returns the receiver.
func (n *NopLogger) Named(string) Logger { return n }

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

// Ensure implementations satisfy the Logger interface.
var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests. Named loggers
// derived from a MockLogger record into the same slices.
type MockLogger struct {
	mu           sync.Mutex
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		DebugCalls:   make([]string, 0),
		InfoCalls:    make([]string, 0),
		WarningCalls: make([]string, 0),
		ErrorCalls:   make([]string, 0),
	}
}

func (m *MockLogger) record(dst *[]string, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.DebugCalls, format, args...)
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.InfoCalls, format, args...)
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.WarningCalls, format, args...)
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.ErrorCalls, format, args...)
}

// Named returns the receiver so every category is recorded in one place.
func (m *MockLogger) Named(string) Logger { return m }

// Warnings returns a copy of the recorded warning messages.
func (m *MockLogger) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WarningCalls...)
}

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Ensure MockLogger satisfies the Logger interface.
var _ Logger = (*MockLogger)(nil)
