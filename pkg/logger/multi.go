package logger

// MultiLogger fans every message out to a fixed list of backends, in the
// order they were given. The daemon uses it to write to zap and to its log
// file at once.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) each(fn func(Logger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) Debug(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Debug(format, args...) })
}

func (m *MultiLogger) Info(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Info(format, args...) })
}

func (m *MultiLogger) Warning(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Warning(format, args...) })
}

func (m *MultiLogger) Error(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Error(format, args...) })
}

// Named scopes every backend to category.
func (m *MultiLogger) Named(category string) Logger {
	out := &MultiLogger{loggers: make([]Logger, 0, len(m.loggers))}
	m.each(func(l Logger) { out.loggers = append(out.loggers, l.Named(category)) })
	return out
}

// Close closes every backend and reports the first failure.
func (m *MultiLogger) Close() error {
	var first error
	m.each(func(l Logger) {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	})
	return first
}

var _ Logger = (*MultiLogger)(nil)
